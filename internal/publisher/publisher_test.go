package publisher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matchkeeper/matchsync/internal/channel"
	"github.com/matchkeeper/matchsync/internal/store"
	"github.com/matchkeeper/matchsync/pkg/types"
)

// stubTransport stands in for the websocket channel: scripted connect
// state and emit outcome, with captured emits.
type stubTransport struct {
	mu        sync.Mutex
	connected bool
	emitErr   error
	emitted   []types.MatchEventPayload
	connFns   []func(bool)
	liveFns   []func(types.MatchEventPayload)
}

func (s *stubTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubTransport) Emit(ctx context.Context, ev types.MatchEventPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return channel.ErrNotConnected
	}
	if s.emitErr != nil {
		return s.emitErr
	}
	s.emitted = append(s.emitted, ev)
	return nil
}

func (s *stubTransport) SubscribeConn(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connFns = append(s.connFns, fn)
	return func() {}
}

func (s *stubTransport) SubscribeLive(fn func(types.MatchEventPayload)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveFns = append(s.liveFns, fn)
	return func() {}
}

func (s *stubTransport) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	fns := append([]func(bool){}, s.connFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}

func (s *stubTransport) fireLive(ev types.MatchEventPayload) {
	s.mu.Lock()
	fns := append([]func(types.MatchEventPayload){}, s.liveFns...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *stubTransport) emitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emitted)
}

func newTestService(t *testing.T) (*Service, *stubTransport, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	tr := &stubTransport{}
	return New(st, tr, zap.NewNop()), tr, st
}

// helper: poll until cond holds so reconnect-triggered drains (which run
// in their own goroutine) can be awaited without sleeping blindly.
func waitFor(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", within)
}

func goalEvent(id string) types.MatchEventPayload {
	return types.MatchEventPayload{
		ID: id, Kind: "goal", MatchID: "m1", Period: 1, ClockMs: 61_000,
		CreatedByUserID: "u1",
	}
}

func pendingCount(t *testing.T, st *store.Store) int {
	t.Helper()
	pending, err := st.PendingOutbox(context.Background())
	if err != nil {
		t.Fatalf("pending outbox: %v", err)
	}
	return len(pending)
}

func TestPublish_ConnectedAck_NoOutboxWrite(t *testing.T) {
	svc, tr, st := newTestService(t)
	tr.connected = true

	r, err := svc.Publish(context.Background(), goalEvent("ev-1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if !r.Delivered || r.Via != ViaChannel {
		t.Fatalf("want live delivery, got %+v", r)
	}
	if n := pendingCount(t, st); n != 0 {
		t.Fatalf("expected empty outbox, got %d entries", n)
	}
}

func TestPublish_AckTimeout_QueuesExactlyOneEntryPerCall(t *testing.T) {
	svc, tr, st := newTestService(t)
	tr.connected = true
	tr.emitErr = channel.ErrAckTimeout

	for i := 0; i < 3; i++ {
		r, err := svc.Publish(context.Background(), goalEvent(""))
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if r.Delivered || r.Via != ViaOutbox {
			t.Fatalf("want queued receipt, got %+v", r)
		}
	}
	if n := pendingCount(t, st); n != 3 {
		t.Fatalf("want 3 queued entries, got %d", n)
	}
}

func TestPublish_Disconnected_SkipsDeliveryAttempt(t *testing.T) {
	svc, tr, st := newTestService(t)

	r, err := svc.Publish(context.Background(), goalEvent("ev-1"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if r.Delivered || r.Via != ViaOutbox {
		t.Fatalf("want queued receipt, got %+v", r)
	}
	if tr.emitCount() != 0 {
		t.Fatalf("expected no round-trip while disconnected")
	}
	if n := pendingCount(t, st); n != 1 {
		t.Fatalf("want 1 queued entry, got %d", n)
	}
}

func TestDrain_DeliversQueuedEventsInOrder(t *testing.T) {
	svc, tr, st := newTestService(t)

	for _, id := range []string{"ev-1", "ev-2", "ev-3"} {
		if _, err := svc.Publish(context.Background(), goalEvent(id)); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if n := pendingCount(t, st); n != 3 {
		t.Fatalf("want 3 pending before drain, got %d", n)
	}

	tr.mu.Lock()
	tr.connected = true
	tr.mu.Unlock()

	res, err := svc.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Synced != 3 || res.Failed != 0 {
		t.Fatalf("want 3 synced, got %+v", res)
	}
	if n := pendingCount(t, st); n != 0 {
		t.Fatalf("want empty outbox after drain, got %d", n)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.emitted) != 3 || tr.emitted[0].ID != "ev-1" || tr.emitted[2].ID != "ev-3" {
		t.Fatalf("expected oldest-first replay, got %+v", tr.emitted)
	}
}

func TestDrain_FullySyncedOutbox_NoDeliveryAttempts(t *testing.T) {
	svc, tr, _ := newTestService(t)
	tr.connected = true

	if _, err := svc.Publish(context.Background(), goalEvent("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	before := tr.emitCount()

	res, err := svc.Drain(context.Background())
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Synced != 0 || res.Failed != 0 || res.Skipped != 0 {
		t.Fatalf("want no-op drain, got %+v", res)
	}
	if tr.emitCount() != before {
		t.Fatalf("idempotent drain must not deliver anything")
	}
}

func TestDrain_MalformedEntryIsolated(t *testing.T) {
	svc, tr, st := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		if _, err := svc.Publish(ctx, goalEvent("")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	// One entry with no kind and no match id slipped into the outbox.
	bad := &store.OutboxEntry{
		TableName_:      store.TableMatchEvents,
		RecordID:        "ev-bad",
		Operation:       "insert",
		Payload:         []byte(`{"id":"ev-bad"}`),
		CreatedByUserID: "u1",
	}
	if err := st.AppendOutbox(ctx, bad); err != nil {
		t.Fatalf("append: %v", err)
	}

	tr.setConnected(true)
	waitFor(t, 2*time.Second, func() bool { return pendingCount(t, st) == 0 })

	var failed store.OutboxEntry
	if err := st.DB().First(&failed, "id = ?", bad.ID).Error; err != nil {
		t.Fatalf("load bad entry: %v", err)
	}
	if failed.Status != store.OutboxFailed || failed.FailReason == "" {
		t.Fatalf("want failed-with-reason, got %+v", failed)
	}
	if tr.emitCount() != 9 {
		t.Fatalf("want 9 deliveries, got %d", tr.emitCount())
	}
}

func TestDrain_RejectedEntryMarkedFailed(t *testing.T) {
	svc, tr, st := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Publish(ctx, goalEvent("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	tr.mu.Lock()
	tr.connected = true
	tr.emitErr = fmt.Errorf("%w: unknown event kind", channel.ErrRejected)
	tr.mu.Unlock()

	res, err := svc.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Failed != 1 || res.Synced != 0 {
		t.Fatalf("want 1 failed, got %+v", res)
	}
	if n := pendingCount(t, st); n != 0 {
		t.Fatalf("rejected entry must leave the pending set, got %d", n)
	}
}

func TestDrain_TransientFailureKeepsEntryPending(t *testing.T) {
	svc, tr, st := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Publish(ctx, goalEvent("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	tr.mu.Lock()
	tr.connected = true
	tr.emitErr = channel.ErrAckTimeout
	tr.mu.Unlock()

	res, err := svc.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Skipped != 1 {
		t.Fatalf("want 1 skipped, got %+v", res)
	}
	pending, err := st.PendingOutbox(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].RetryCount != 1 {
		t.Fatalf("want entry pending with retry_count=1, got %+v", pending)
	}

	// Next drain succeeds once the transport recovers.
	tr.mu.Lock()
	tr.emitErr = nil
	tr.mu.Unlock()
	res, err = svc.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if res.Synced != 1 {
		t.Fatalf("want retry to sync, got %+v", res)
	}
}

func TestReconnectTriggersDrainOnce(t *testing.T) {
	svc, tr, st := newTestService(t)

	if _, err := svc.Publish(context.Background(), goalEvent("ev-1")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	tr.setConnected(true)
	waitFor(t, 2*time.Second, func() bool { return pendingCount(t, st) == 0 })
}

func TestInboundLiveEventAppliedAtMostOnce(t *testing.T) {
	svc, tr, st := newTestService(t)
	_ = svc

	ev := goalEvent("ev-live")
	tr.fireLive(ev)
	tr.fireLive(ev)

	var n int64
	if err := st.DB().Model(&store.MatchEvent{}).Where("id = ?", "ev-live").Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("duplicate broadcast applied %d times, want 1", n)
	}
}
