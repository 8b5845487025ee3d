// Package realtime implements the auto-reconnecting websocket channel
// that streams progress frames for a single transcription job.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/affirmly/scribesync/internal/logger"
	"github.com/affirmly/scribesync/internal/types"
)

// Channel defaults
const (
	// DefaultReconnectBase is the initial reconnect backoff interval
	DefaultReconnectBase = 1 * time.Second
	// DefaultMaxReconnectAttempts bounds consecutive reconnect attempts
	DefaultMaxReconnectAttempts = 5
	// DefaultHeartbeatInterval is the ping cadence on an open channel
	DefaultHeartbeatInterval = 30 * time.Second
)

var (
	// ErrReconnectExhausted is surfaced when the reconnect attempt
	// budget is spent; from then on polling is the only source of truth
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// ErrNotConnected is returned by Send when no connection is open
	ErrNotConnected = errors.New("channel is not connected")
)

// State is the channel's connection state
type State int

// Channel states
const (
	// StateIdle means the channel has never been connected
	StateIdle State = iota
	// StateConnecting means a dial or reconnect is in flight
	StateConnecting
	// StateOpen means frames are flowing
	StateOpen
	// StateClosed is terminal: explicit disconnect, normal closure by
	// the peer, or reconnect budget exhausted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config holds channel tuning knobs; zero values take the defaults above
type Config struct {
	Dialer               *websocket.Dialer
	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.ReconnectBase == 0 {
		c.ReconnectBase = DefaultReconnectBase
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return c
}

// session owns the resources of one live connection: the socket, the
// heartbeat ticker goroutine and the reader goroutine. Closing the
// session releases all of them on every exit path.
type session struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Channel is a persistent, auto-reconnecting duplex connection to one
// job's progress stream. At most one live connection exists per
// Channel instance; multiple concerns observe it through registered
// listeners rather than by swapping callback fields.
type Channel struct {
	cfg Config

	mu       sync.Mutex
	state    State
	endpoint string
	jobID    string
	attempts int
	explicit bool
	gen      int
	sess     *session
	retry    *time.Timer

	writeMu sync.Mutex

	listenerMu     sync.Mutex
	nextListenerID int
	onConnected    map[int]func()
	onFrame        map[int]func(types.Frame)
	onDisconnected map[int]func(error)
	onError        map[int]func(error)
}

// New creates a channel in the idle state
func New(cfg Config) *Channel {
	return &Channel{
		cfg:            cfg.withDefaults(),
		state:          StateIdle,
		onConnected:    make(map[int]func()),
		onFrame:        make(map[int]func(types.Frame)),
		onDisconnected: make(map[int]func(error)),
		onError:        make(map[int]func(error)),
	}
}

// OnConnected registers a listener for successful connects and returns
// its unregister function
func (c *Channel) OnConnected(fn func()) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.onConnected[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.onConnected, id)
	}
}

// OnFrame registers a listener for inbound frames
func (c *Channel) OnFrame(fn func(types.Frame)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.onFrame[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.onFrame, id)
	}
}

// OnDisconnected registers a listener for connection drops. The error
// is nil for explicit or normal closures.
func (c *Channel) OnDisconnected(fn func(error)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.onDisconnected[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.onDisconnected, id)
	}
}

// OnError registers a listener for channel-level errors: malformed
// frames, failed sends, and reconnect exhaustion
func (c *Channel) OnError(fn func(error)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.onError[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.onError, id)
	}
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect opens the channel to the given endpoint, bound to jobID for
// heartbeat frames. It returns immediately; the outcome is delivered
// through listeners. Connecting to the endpoint already open is a
// no-op; connecting to a different endpoint tears down the previous
// connection first.
func (c *Channel) Connect(endpoint, jobID string) {
	c.mu.Lock()
	if c.state == StateOpen && c.endpoint == endpoint {
		c.mu.Unlock()
		return
	}

	c.stopRetryLocked()
	prev := c.sess
	c.sess = nil
	c.endpoint = endpoint
	c.jobID = jobID
	c.attempts = 0
	c.explicit = false
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if prev != nil {
		prev.close()
		c.emitDisconnected(nil)
	}

	go c.dial(gen)
}

// Disconnect closes the channel for good. It never triggers a
// reconnect, and it clears every timer the connection owns.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed && c.sess == nil {
		c.mu.Unlock()
		return
	}
	c.explicit = true
	c.state = StateClosed
	c.gen++
	c.stopRetryLocked()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		// Best-effort normal closure so the peer does not log a drop
		c.writeMu.Lock()
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		sess.close()
	}
	c.emitDisconnected(nil)
}

// Send writes one frame to the open connection
func (c *Channel) Send(frame types.Frame) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sess.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Channel) dial(gen int) {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()

	conn, resp, err := c.cfg.Dialer.Dial(endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		c.scheduleReconnectLocked(gen, err)
		return
	}

	sess := &session{conn: conn, done: make(chan struct{})}
	c.sess = sess
	c.state = StateOpen
	c.attempts = 0
	jobID := c.jobID
	c.mu.Unlock()

	go c.readLoop(sess, gen)
	go c.heartbeat(sess, jobID)
	c.emitConnected()
}

// scheduleReconnectLocked handles one closure: it either schedules the
// next attempt with doubled backoff or closes the channel when the
// budget is spent. Called with c.mu held; releases it.
func (c *Channel) scheduleReconnectLocked(gen int, cause error) {
	c.attempts++
	attempt := c.attempts
	if attempt > c.cfg.MaxReconnectAttempts {
		c.state = StateClosed
		c.sess = nil
		c.mu.Unlock()
		c.emitDisconnected(cause)
		c.emitError(ErrReconnectExhausted)
		return
	}

	c.state = StateConnecting
	c.sess = nil
	delay := c.cfg.ReconnectBase << (attempt - 1)
	c.retry = time.AfterFunc(delay, func() { c.dial(gen) })
	c.mu.Unlock()

	logger.WarnWithFields("channel reconnecting", map[string]interface{}{
		"attempt": attempt,
		"delay":   delay.String(),
	})
	c.emitDisconnected(cause)
}

func (c *Channel) readLoop(sess *session, gen int) {
	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			c.handleReadError(sess, gen, err)
			return
		}

		var frame types.Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			// Malformed frames surface as a channel error without
			// closing the connection
			c.emitError(unmarshalErr)
			continue
		}

		switch frame.Type {
		case types.FramePong:
			// heartbeat answer, nothing to deliver
		case types.FrameConnected, types.FrameProgress, types.FrameCompleted,
			types.FrameError, types.FrameStatus:
			c.emitFrame(frame)
		default:
			// Unknown frame types are ignored for forward compatibility
			logger.Debugf("ignoring unknown frame type %q", frame.Type)
		}
	}
}

func (c *Channel) handleReadError(sess *session, gen int, err error) {
	sess.close()

	c.mu.Lock()
	if gen != c.gen || c.explicit {
		// Superseded or explicitly closed; Disconnect/Connect already
		// emitted the event
		c.mu.Unlock()
		return
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		// The peer finished cleanly; never reconnect
		c.state = StateClosed
		c.sess = nil
		c.gen++
		c.mu.Unlock()
		c.emitDisconnected(nil)
		return
	}

	c.scheduleReconnectLocked(gen, err)
}

func (c *Channel) heartbeat(sess *session, jobID string) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if err := c.Send(types.PingFrame(jobID)); err != nil {
				// Heartbeat failures are ordinary send failures
				c.emitError(err)
			}
		}
	}
}

func (c *Channel) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Channel) emitConnected() {
	c.listenerMu.Lock()
	fns := make([]func(), 0, len(c.onConnected))
	for _, fn := range c.onConnected {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Channel) emitFrame(frame types.Frame) {
	c.listenerMu.Lock()
	fns := make([]func(types.Frame), 0, len(c.onFrame))
	for _, fn := range c.onFrame {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}

func (c *Channel) emitDisconnected(err error) {
	c.listenerMu.Lock()
	fns := make([]func(error), 0, len(c.onDisconnected))
	for _, fn := range c.onDisconnected {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (c *Channel) emitError(err error) {
	c.listenerMu.Lock()
	fns := make([]func(error), 0, len(c.onError))
	for _, fn := range c.onError {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
