package publisher

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matchkeeper/matchsync/internal/channel"
	"github.com/matchkeeper/matchsync/internal/store"
	"github.com/matchkeeper/matchsync/pkg/types"
)

// Delivery routes.
const (
	ViaChannel = "channel"
	ViaOutbox  = "outbox"
)

// Receipt reports how a published event was secured. Delivered=true means
// the authority acknowledged it live; Delivered=false with Via=outbox and
// a nil error means it is durably queued for the next drain.
type Receipt struct {
	Delivered bool
	Via       string
}

// Transport is the slice of the real-time channel the publisher needs.
// *channel.Channel satisfies it; tests substitute a stub.
type Transport interface {
	Connected() bool
	Emit(ctx context.Context, ev types.MatchEventPayload) error
	SubscribeConn(fn func(connected bool)) func()
	SubscribeLive(fn func(types.MatchEventPayload)) func()
}

// Service is the real-time-first event publisher: live delivery when the
// channel is up, durable outbox queuing otherwise. It also owns the
// outbox drainer and the inbound live-event feed.
type Service struct {
	store *store.Store
	ch    Transport
	log   *zap.Logger

	mu       sync.Mutex
	draining bool

	unsubs []func()
}

// New wires the service to the transport: a connect transition triggers
// one drain, and inbound broadcasts flow into the local store.
func New(st *store.Store, ch Transport, log *zap.Logger) *Service {
	s := &Service{store: st, ch: ch, log: log}
	s.unsubs = append(s.unsubs,
		ch.SubscribeConn(func(connected bool) {
			if !connected {
				return
			}
			go func() {
				if _, err := s.Drain(context.Background()); err != nil {
					log.Warn("reconnect drain failed", zap.Error(err))
				}
			}()
		}),
		ch.SubscribeLive(s.applyLive),
	)
	return s
}

// Publish secures one user-authored event. There is no third outcome: the
// event is either acknowledged live or durably queued, and only a failed
// store write surfaces an error.
func (s *Service) Publish(ctx context.Context, ev types.MatchEventPayload) (Receipt, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	if s.ch.Connected() {
		err := s.ch.Emit(ctx, ev)
		if err == nil {
			return Receipt{Delivered: true, Via: ViaChannel}, nil
		}
		s.log.Debug("live delivery failed, queuing",
			zap.String("event_id", ev.ID), zap.Error(err))
	}

	entry, err := outboxFromEvent(ev)
	if err != nil {
		return Receipt{Delivered: false, Via: ViaOutbox}, err
	}
	if err := s.store.AppendOutbox(ctx, entry); err != nil {
		// The one write that must not fail silently.
		s.log.Error("outbox append failed", zap.String("event_id", ev.ID), zap.Error(err))
		return Receipt{Delivered: false, Via: ViaOutbox}, err
	}
	return Receipt{Delivered: false, Via: ViaOutbox}, nil
}

// applyLive applies a broadcast from another participant, keyed by event
// id; a duplicate id is applied at most once.
func (s *Service) applyLive(p types.MatchEventPayload) {
	ev := eventFromPayload(p)
	applied, err := s.store.ApplyLiveEvent(context.Background(), &ev)
	if err != nil {
		s.log.Warn("apply live event failed", zap.String("event_id", p.ID), zap.Error(err))
		return
	}
	if !applied {
		s.log.Debug("duplicate live event ignored", zap.String("event_id", p.ID))
	}
}

// Close clears the service's channel subscriptions. Pending outbox rows
// stay pending and are drained on next startup.
func (s *Service) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// isRejection distinguishes the authority explicitly refusing a payload
// (terminal for the entry) from transient transport trouble (the entry
// stays pending for the next drain).
func isRejection(err error) bool {
	return errors.Is(err, channel.ErrRejected)
}
