package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affirmly/scribesync/internal/types"
)

// wsServer is a websocket test peer that records every accepted
// connection and hands it to the test's handler
type wsServer struct {
	t       *testing.T
	srv     *httptest.Server
	handler func(conn *websocket.Conn, n int)

	mu      sync.Mutex
	accepts []time.Time
}

func newWSServer(t *testing.T, handler func(conn *websocket.Conn, n int)) *wsServer {
	ws := &wsServer{t: t, handler: handler}
	upgrader := websocket.Upgrader{}
	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws.mu.Lock()
		ws.accepts = append(ws.accepts, time.Now())
		n := len(ws.accepts)
		ws.mu.Unlock()
		ws.handler(conn, n)
	}))
	t.Cleanup(ws.srv.Close)
	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func (ws *wsServer) acceptCount() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.accepts)
}

func (ws *wsServer) acceptTimes() []time.Time {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	out := make([]time.Time, len(ws.accepts))
	copy(out, ws.accepts)
	return out
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame types.Frame) {
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))
}

func waitFrame(t *testing.T, frames <-chan types.Frame) types.Frame {
	select {
	case frame := <-frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return types.Frame{}
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestChannelDeliversFramesInOrder(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		for _, progress := range []string{`{"progress":10}`, `{"progress":50}`, `{"progress":100}`} {
			sendFrame(t, conn, types.Frame{Type: types.FrameProgress, JobID: "job-1", Data: json.RawMessage(progress)})
		}
	})

	channel := New(Config{})
	defer channel.Disconnect()

	connected := make(chan struct{}, 1)
	frames := make(chan types.Frame, 8)
	channel.OnConnected(func() { connected <- struct{}{} })
	channel.OnFrame(func(f types.Frame) { frames <- f })

	channel.Connect(server.url(), "job-1")
	waitSignal(t, connected, "connected event")
	assert.Equal(t, StateOpen, channel.State())

	var progresses []string
	for i := 0; i < 3; i++ {
		frame := waitFrame(t, frames)
		assert.Equal(t, types.FrameProgress, frame.Type)
		progresses = append(progresses, string(frame.Data))
	}
	assert.Equal(t, []string{`{"progress":10}`, `{"progress":50}`, `{"progress":100}`}, progresses)
}

func TestConnectWhileOpenSameEndpointIsNoop(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	server := newWSServer(t, func(_ *websocket.Conn, _ int) { <-hold })

	channel := New(Config{})
	defer channel.Disconnect()

	connected := make(chan struct{}, 2)
	channel.OnConnected(func() { connected <- struct{}{} })

	channel.Connect(server.url(), "job-1")
	waitSignal(t, connected, "connected event")

	channel.Connect(server.url(), "job-1")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, server.acceptCount())
}

func TestMalformedFrameSurfacesErrorWithoutClosing(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		sendFrame(t, conn, types.Frame{Type: types.FrameStatus, JobID: "job-1"})
	})

	channel := New(Config{})
	defer channel.Disconnect()

	frames := make(chan types.Frame, 4)
	errs := make(chan error, 4)
	channel.OnFrame(func(f types.Frame) { frames <- f })
	channel.OnError(func(err error) { errs <- err })

	channel.Connect(server.url(), "job-1")

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel error")
	}

	// The connection survived the bad frame
	frame := waitFrame(t, frames)
	assert.Equal(t, types.FrameStatus, frame.Type)
	assert.Equal(t, StateOpen, channel.State())
}

func TestUnknownFrameTypesAreIgnored(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		sendFrame(t, conn, types.Frame{Type: "telemetry", JobID: "job-1"})
		sendFrame(t, conn, types.Frame{Type: types.FrameProgress, JobID: "job-1"})
	})

	channel := New(Config{})
	defer channel.Disconnect()

	frames := make(chan types.Frame, 4)
	errs := make(chan error, 4)
	channel.OnFrame(func(f types.Frame) { frames <- f })
	channel.OnError(func(err error) { errs <- err })

	channel.Connect(server.url(), "job-1")

	frame := waitFrame(t, frames)
	assert.Equal(t, types.FrameProgress, frame.Type)
	assert.Empty(t, errs)
}

func TestExplicitDisconnectNeverReconnects(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	server := newWSServer(t, func(_ *websocket.Conn, _ int) { <-hold })

	channel := New(Config{ReconnectBase: 10 * time.Millisecond})
	connected := make(chan struct{}, 2)
	disconnected := make(chan error, 2)
	channel.OnConnected(func() { connected <- struct{}{} })
	channel.OnDisconnected(func(err error) { disconnected <- err })

	channel.Connect(server.url(), "job-1")
	waitSignal(t, connected, "connected event")

	channel.Disconnect()
	select {
	case err := <-disconnected:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnected event")
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, server.acceptCount())
	assert.Equal(t, StateClosed, channel.State())
}

func TestNormalClosureFromPeerDoesNotReconnect(t *testing.T) {
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	})

	channel := New(Config{ReconnectBase: 10 * time.Millisecond})
	defer channel.Disconnect()

	disconnected := make(chan error, 2)
	channel.OnDisconnected(func(err error) { disconnected <- err })

	channel.Connect(server.url(), "job-1")

	select {
	case err := <-disconnected:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnected event")
	}

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, server.acceptCount())
	assert.Equal(t, StateClosed, channel.State())
}

func TestReconnectBackoffGrowthAndExhaustion(t *testing.T) {
	// Refusing every upgrade makes each dial a failed attempt, so the
	// backoff grows until the budget runs out
	var mu sync.Mutex
	var dials []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		dials = append(dials, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	base := 40 * time.Millisecond
	maxAttempts := 3
	channel := New(Config{ReconnectBase: base, MaxReconnectAttempts: maxAttempts})
	defer channel.Disconnect()

	exhausted := make(chan struct{}, 1)
	channel.OnError(func(err error) {
		if errors.Is(err, ErrReconnectExhausted) {
			exhausted <- struct{}{}
		}
	})

	channel.Connect("ws"+strings.TrimPrefix(srv.URL, "http"), "job-1")
	waitSignal(t, exhausted, "reconnect exhaustion")

	// Initial dial plus one per budgeted attempt
	mu.Lock()
	attempts := make([]time.Time, len(dials))
	copy(attempts, dials)
	mu.Unlock()
	require.Len(t, attempts, maxAttempts+1)

	// The Nth retry is scheduled no earlier than base * 2^(N-1) after
	// the Nth failure
	for i := 1; i < len(attempts); i++ {
		minDelay := base << (i - 1)
		gap := attempts[i].Sub(attempts[i-1])
		assert.GreaterOrEqual(t, gap, minDelay,
			"attempt %d arrived after %s, want at least %s", i, gap, minDelay)
	}

	assert.Equal(t, StateClosed, channel.State())

	// No further attempts once the budget is spent
	time.Sleep(2 * base << maxAttempts)
	mu.Lock()
	finalDials := len(dials)
	mu.Unlock()
	assert.Equal(t, maxAttempts+1, finalDials)
}

func TestHeartbeatPingsWithJobID(t *testing.T) {
	pings := make(chan types.Frame, 4)
	server := newWSServer(t, func(conn *websocket.Conn, _ int) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame types.Frame
			if json.Unmarshal(data, &frame) == nil && frame.Type == types.FramePing {
				pings <- frame
				sendFrame(t, conn, types.Frame{Type: types.FramePong, JobID: frame.JobID})
			}
		}
	})

	channel := New(Config{HeartbeatInterval: 20 * time.Millisecond})
	defer channel.Disconnect()

	frames := make(chan types.Frame, 4)
	channel.OnFrame(func(f types.Frame) { frames <- f })

	channel.Connect(server.url(), "job-77")

	select {
	case ping := <-pings:
		assert.Equal(t, "job-77", ping.JobID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for heartbeat ping")
	}

	// Pong answers are consumed by the channel, not delivered
	time.Sleep(50 * time.Millisecond)
	select {
	case frame := <-frames:
		t.Fatalf("unexpected frame delivered: %s", frame.Type)
	default:
	}
}

func TestSendBeforeConnect(t *testing.T) {
	channel := New(Config{})
	err := channel.Send(types.PingFrame("job-1"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectToDifferentEndpointTearsDownPrevious(t *testing.T) {
	holdA := make(chan struct{})
	defer close(holdA)
	serverA := newWSServer(t, func(_ *websocket.Conn, _ int) { <-holdA })

	frameSent := make(chan struct{})
	serverB := newWSServer(t, func(conn *websocket.Conn, _ int) {
		sendFrame(t, conn, types.Frame{Type: types.FrameStatus, JobID: "job-2"})
		close(frameSent)
	})

	channel := New(Config{})
	defer channel.Disconnect()

	connected := make(chan struct{}, 2)
	frames := make(chan types.Frame, 4)
	channel.OnConnected(func() { connected <- struct{}{} })
	channel.OnFrame(func(f types.Frame) { frames <- f })

	channel.Connect(serverA.url(), "job-1")
	waitSignal(t, connected, "first connect")

	channel.Connect(serverB.url(), "job-2")
	waitSignal(t, connected, "second connect")
	waitSignal(t, frameSent, "frame from second server")

	frame := waitFrame(t, frames)
	assert.Equal(t, "job-2", frame.JobID)
	assert.Equal(t, 1, serverA.acceptCount())
	assert.Equal(t, 1, serverB.acceptCount())
	assert.Equal(t, StateOpen, channel.State())
}
