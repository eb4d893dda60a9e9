package reconcile

import (
	"context"
	"errors"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/matchkeeper/matchsync/internal/remote"
	"github.com/matchkeeper/matchsync/internal/store"
)

// Result summarizes one reconciliation pass.
type Result struct {
	Synced int
	Failed int
}

// Notification is emitted at the start and end of a pass so callers can
// render sync status without polling internals.
type Notification struct {
	Start  bool
	Counts map[string]int64 // pending counts per table at pass start
	Result *Result          // set on the end notification
}

// Syncer pushes every locally-owned, not-yet-acknowledged record to the
// remote authority, one table at a time. It is independent of the live
// channel and uses the ordinary request/response transport.
type Syncer struct {
	store  *store.Store
	client *remote.Client
	log    *zap.Logger
	userID string
	online func() bool

	mu       sync.Mutex
	flushing bool
	nextTok  int
	subs     map[int]func(Notification)
	sched    gocron.Scheduler
}

// New builds a syncer for the given identity. online reports device
// connectivity; a nil func means always online.
func New(st *store.Store, client *remote.Client, log *zap.Logger, userID string, online func() bool) *Syncer {
	if online == nil {
		online = func() bool { return true }
	}
	return &Syncer{
		store:  st,
		client: client,
		log:    log,
		userID: userID,
		online: online,
		subs:   make(map[int]func(Notification)),
	}
}

// Subscribe registers a pass-notification handler; the returned func
// unsubscribes.
func (s *Syncer) Subscribe(fn func(Notification)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.nextTok
	s.nextTok++
	s.subs[tok] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, tok)
	}
}

func (s *Syncer) notify(n Notification) {
	s.mu.Lock()
	subs := make([]func(Notification), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(n)
	}
}

// PendingCounts exposes the per-table backlog for status rendering.
func (s *Syncer) PendingCounts(ctx context.Context) (map[string]int64, error) {
	return s.store.PendingCounts(ctx)
}

// FlushOnce runs one bounded reconciliation pass. Guests and offline
// devices get a silent no-op: zero counts, zero network calls. Records
// that fail stay unsynced for the next invocation; there is no in-pass
// retry loop. A pass over a fully-synced store issues no requests, so
// calling FlushOnce twice back to back is idempotent.
func (s *Syncer) FlushOnce(ctx context.Context) (Result, error) {
	if s.userID == "" || store.IsGuestOwned(s.userID) || !s.online() {
		return Result{}, nil
	}

	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return Result{}, nil
	}
	s.flushing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.flushing = false
		s.mu.Unlock()
	}()

	counts, err := s.store.PendingCounts(ctx)
	if err != nil {
		return Result{}, err
	}
	s.notify(Notification{Start: true, Counts: counts})

	var res Result
	for _, step := range []func(context.Context, *Result) error{
		s.flushSeasons,
		s.flushTeams,
		s.flushPlayers,
		s.flushMatches,
		s.flushLineupEntries,
		s.flushDefaultLineups,
	} {
		if err := step(ctx, &res); err != nil {
			s.notify(Notification{Counts: counts, Result: &res})
			return res, err
		}
	}

	if res.Synced > 0 || res.Failed > 0 {
		s.log.Info("reconciliation pass finished",
			zap.Int("synced", res.Synced), zap.Int("failed", res.Failed))
	}
	s.notify(Notification{Counts: counts, Result: &res})
	return res, nil
}

// push performs one record's request and bookkeeping. A remote rejection
// leaves the record unsynced; only a context cancellation aborts the pass.
func (s *Syncer) push(ctx context.Context, res *Result, table, id string, call func() error) error {
	if err := call(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.log.Warn("push failed, will retry next pass",
			zap.String("table", table), zap.String("id", id), zap.Error(err))
		res.Failed++
		return nil
	}
	if err := s.store.MarkSynced(ctx, table, id); err != nil {
		return err
	}
	res.Synced++
	return nil
}

func (s *Syncer) flushSeasons(ctx context.Context, res *Result) error {
	rows, err := s.store.UnsyncedSeasons(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.push(ctx, res, store.TableSeasons, row.ID, func() error {
			return s.client.CreateSeason(ctx, row)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) flushTeams(ctx context.Context, res *Result) error {
	rows, err := s.store.UnsyncedTeams(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.push(ctx, res, store.TableTeams, row.ID, func() error {
			return s.client.CreateTeam(ctx, row)
		}); err != nil {
			return err
		}
	}
	return nil
}

// flushPlayers routes per record: a player attached to a team goes to the
// bundled endpoint so the relationship is created atomically.
func (s *Syncer) flushPlayers(ctx context.Context, res *Result) error {
	rows, err := s.store.UnsyncedPlayers(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		call := func() error { return s.client.CreatePlayer(ctx, row) }
		if row.TeamID != nil && *row.TeamID != "" {
			call = func() error { return s.client.CreatePlayerWithTeam(ctx, row) }
		}
		if err := s.push(ctx, res, store.TablePlayers, row.ID, call); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) flushMatches(ctx context.Context, res *Result) error {
	rows, err := s.store.UnsyncedMatches(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := s.push(ctx, res, store.TableMatches, row.ID, func() error {
			return s.client.CreateMatch(ctx, row)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) flushLineupEntries(ctx context.Context, res *Result) error {
	rows, err := s.store.UnsyncedLineupEntries(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		call := func() error { return s.client.CreateLineupEntry(ctx, row) }
		if row.IsDeleted {
			matchID, playerID := row.MatchID, row.PlayerID
			call = func() error {
				err := s.client.DeleteLineupEntry(ctx, matchID, playerID)
				if errors.Is(err, remote.ErrNotFound) {
					return nil // already gone remotely
				}
				return err
			}
		}
		if err := s.push(ctx, res, store.TableLineupEntries, row.ID, call); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) flushDefaultLineups(ctx context.Context, res *Result) error {
	rows, err := s.store.UnsyncedDefaultLineups(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		call := func() error { return s.client.SaveDefaultLineup(ctx, row) }
		if row.IsDeleted {
			teamID := row.TeamID
			call = func() error {
				err := s.client.DeleteDefaultLineup(ctx, teamID)
				if errors.Is(err, remote.ErrNotFound) {
					return nil
				}
				return err
			}
		}
		if err := s.push(ctx, res, store.TableDefaultLineups, row.ID, call); err != nil {
			return err
		}
	}
	return nil
}
