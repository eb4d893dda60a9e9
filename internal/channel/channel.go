package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matchkeeper/matchsync/pkg/types"
)

var (
	ErrNotConnected = errors.New("channel not connected")
	ErrAckTimeout   = errors.New("ack wait timed out")
	ErrRejected     = errors.New("delivery rejected")
	ErrClosed       = errors.New("channel closed")
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Config tunes the channel's dial and acknowledgment behavior. All values
// come from the environment; see internal/config.
type Config struct {
	URL string
	// AckTimeout bounds Emit's wait for a server acknowledgment.
	AckTimeout time.Duration
	// ReconnectDelay doubles per failed attempt up to ReconnectDelayMax,
	// with jitter so a fleet of clients does not retry in lockstep.
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	// MaxAttempts caps consecutive failed dials; 0 means retry forever.
	MaxAttempts int
}

// Channel is an auto-reconnecting bidirectional transport to the remote
// authority. It carries live match events out (with per-message acks) and
// other participants' events in. Everything else in the sync core treats
// it through Connected/Emit and the subscription registry.
type Channel struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending map[string]chan types.ServerMessage
	matchID string // joined room, rejoined after reconnect
	nextTok int
	connSubs    map[int]func(connected bool)
	liveSubs    map[int]func(types.MatchEventPayload)
	confirmSubs map[int]func(eventID string)
	closed      bool

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, log *zap.Logger) *Channel {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectDelayMax <= 0 {
		cfg.ReconnectDelayMax = 10 * time.Second
	}
	return &Channel{
		cfg:         cfg,
		log:         log,
		state:       StateDisconnected,
		pending:     make(map[string]chan types.ServerMessage),
		connSubs:    make(map[int]func(bool)),
		liveSubs:    make(map[int]func(types.MatchEventPayload)),
		confirmSubs: make(map[int]func(string)),
		done:        make(chan struct{}),
	}
}

// Start launches the connect/read loop. It returns immediately; callers
// observe connectivity through Connected and SubscribeConn.
func (c *Channel) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.run(ctx)
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	delay := c.cfg.ReconnectDelay
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, nil)
		cancel()
		if err != nil {
			attempts++
			if c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts {
				c.log.Error("channel giving up after max dial attempts",
					zap.Int("attempts", attempts), zap.Error(err))
				c.setState(StateDisconnected)
				return
			}
			// Capped backoff with jitter. Liveness only: the outbox keeps
			// writes safe however long this takes.
			sleep := delay + time.Duration(rand.Int63n(int64(delay/2)+1))
			c.log.Debug("channel dial failed, retrying",
				zap.Duration("in", sleep), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
			delay *= 2
			if delay > c.cfg.ReconnectDelayMax {
				delay = c.cfg.ReconnectDelayMax
			}
			continue
		}

		attempts = 0
		delay = c.cfg.ReconnectDelay

		c.mu.Lock()
		c.conn = conn
		c.state = StateConnected
		room := c.matchID
		c.mu.Unlock()
		c.log.Info("channel connected", zap.String("url", c.cfg.URL))

		if room != "" {
			if err := c.send(ctx, types.ClientMessage{Type: types.MsgJoinMatch, MatchID: room}); err != nil {
				c.log.Warn("rejoin match room failed", zap.String("match_id", room), zap.Error(err))
			}
		}
		c.notifyConn(true)

		err = c.readLoop(ctx, conn)
		conn.Close(websocket.StatusNormalClosure, "")

		c.mu.Lock()
		c.conn = nil
		c.state = StateDisconnected
		// Drop pending ack waits. Their events are not failed: the
		// publisher falls back to the outbox on the timeout it observes.
		for id := range c.pending {
			delete(c.pending, id)
		}
		c.mu.Unlock()
		c.log.Info("channel disconnected", zap.Error(err))
		c.notifyConn(false)
	}
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return err
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("channel received bad json", zap.Error(err))
			continue
		}
		switch msg.Type {
		case types.MsgAck:
			c.mu.Lock()
			ch, ok := c.pending[msg.AckID]
			if ok {
				delete(c.pending, msg.AckID)
			}
			c.mu.Unlock()
			if ok {
				ch <- msg
			}
		case types.MsgLiveEvent:
			if msg.Event == nil {
				continue
			}
			for _, fn := range c.snapshotLive() {
				fn(*msg.Event)
			}
		case types.MsgEventConfirmed:
			for _, fn := range c.snapshotConfirm() {
				fn(msg.EventID)
			}
		default:
			c.log.Debug("channel ignoring message", zap.String("type", msg.Type))
		}
	}
}

// Emit delivers one event over the live channel and waits up to the ack
// timeout for the server's acknowledgment. It never touches the outbox;
// fallback on error is the caller's job.
func (c *Channel) Emit(ctx context.Context, ev types.MatchEventPayload) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	ackID := uuid.NewString()
	resp := make(chan types.ServerMessage, 1)
	c.pending[ackID] = resp
	c.mu.Unlock()

	err := c.send(ctx, types.ClientMessage{Type: types.MsgMatchEvent, AckID: ackID, Event: &ev})
	if err != nil {
		c.dropPending(ackID)
		return fmt.Errorf("emit: %w", err)
	}

	select {
	case msg := <-resp:
		if !msg.Success {
			if msg.Error != "" {
				return fmt.Errorf("%w: %s", ErrRejected, msg.Error)
			}
			return ErrRejected
		}
		return nil
	case <-time.After(c.cfg.AckTimeout):
		c.dropPending(ackID)
		return ErrAckTimeout
	case <-ctx.Done():
		c.dropPending(ackID)
		return ctx.Err()
	}
}

// JoinMatch scopes the live broadcast to one match room. The room is
// remembered so a reconnect rejoins it automatically.
func (c *Channel) JoinMatch(ctx context.Context, matchID string) error {
	c.mu.Lock()
	c.matchID = matchID
	connected := c.state == StateConnected && c.conn != nil
	c.mu.Unlock()
	if !connected {
		return nil // joined on next connect
	}
	return c.send(ctx, types.ClientMessage{Type: types.MsgJoinMatch, MatchID: matchID})
}

func (c *Channel) LeaveMatch(ctx context.Context) error {
	c.mu.Lock()
	room := c.matchID
	c.matchID = ""
	connected := c.state == StateConnected && c.conn != nil
	c.mu.Unlock()
	if !connected || room == "" {
		return nil
	}
	return c.send(ctx, types.ClientMessage{Type: types.MsgLeaveMatch, MatchID: room})
}

func (c *Channel) send(ctx context.Context, msg types.ClientMessage) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func (c *Channel) dropPending(ackID string) {
	c.mu.Lock()
	delete(c.pending, ackID)
	c.mu.Unlock()
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connected reports whether the channel currently has a live connection.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

func (c *Channel) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SubscribeConn registers a handler called once per connectivity
// transition. The returned func unsubscribes.
func (c *Channel) SubscribeConn(fn func(connected bool)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.nextTok
	c.nextTok++
	c.connSubs[tok] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connSubs, tok)
	}
}

// SubscribeLive registers a handler for other participants' events.
func (c *Channel) SubscribeLive(fn func(types.MatchEventPayload)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.nextTok
	c.nextTok++
	c.liveSubs[tok] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.liveSubs, tok)
	}
}

// SubscribeConfirmed registers a handler for secondary per-event
// confirmations.
func (c *Channel) SubscribeConfirmed(fn func(eventID string)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok := c.nextTok
	c.nextTok++
	c.confirmSubs[tok] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.confirmSubs, tok)
	}
}

func (c *Channel) notifyConn(connected bool) {
	c.mu.Lock()
	subs := make([]func(bool), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(connected)
	}
}

func (c *Channel) snapshotLive() []func(types.MatchEventPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]func(types.MatchEventPayload), 0, len(c.liveSubs))
	for _, fn := range c.liveSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (c *Channel) snapshotConfirm() []func(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	subs := make([]func(string), 0, len(c.confirmSubs))
	for _, fn := range c.confirmSubs {
		subs = append(subs, fn)
	}
	return subs
}

// Close tears the channel down: the connection drops, pending ack waits
// are discarded without failing their events, and every registered
// callback is cleared. Durable state is untouched.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	conn := c.conn
	c.connSubs = make(map[int]func(bool))
	c.liveSubs = make(map[int]func(types.MatchEventPayload))
	c.confirmSubs = make(map[int]func(string))
	for id := range c.pending {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
	if cancel != nil {
		cancel()
		<-c.done
	}
}
