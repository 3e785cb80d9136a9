package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *sinkRecorder) Emit(ev domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *sinkRecorder) snapshot() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

type testServer struct {
	*httptest.Server
	query    chan string
	received chan []byte
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		query:    make(chan string, 1),
		received: make(chan []byte, 16),
		conns:    make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session_token") == "bad" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ts.query <- r.URL.RawQuery
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- ws
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.BinaryMessage {
				ts.received <- data
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + SocketPath
}

func connect(t *testing.T, ts *testServer, token string) (*Conn, *sinkRecorder, error) {
	t.Helper()
	rec := &sinkRecorder{}
	c := NewConn(Options{URL: ts.wsURL(), SessionID: "s1", Token: token, Language: "en"}, rec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Connect(ctx)
	if err == nil {
		t.Cleanup(c.Close)
	}
	return c, rec, err
}

func TestConnectCarriesSessionQuery(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := connect(t, ts, "tok")
	require.NoError(t, err)
	require.Equal(t, core.ChannelOpen, c.State())

	q := <-ts.query
	require.Contains(t, q, "session_id=s1")
	require.Contains(t, q, "session_token=tok")
	require.Contains(t, q, "stt_language=en")
}

func TestConnectFailureBeforeOpen(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := connect(t, ts, "bad")
	require.Error(t, err)
	require.Equal(t, core.ChannelClosed, c.State())
	require.ErrorIs(t, c.TrySend(core.Frame("x")), ErrClosed)
}

func TestConnectTwice(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := connect(t, ts, "tok")
	require.NoError(t, err)
	require.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestTrySendDeliversBinaryFrames(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := connect(t, ts, "tok")
	require.NoError(t, err)

	require.NoError(t, c.TrySend(core.Frame{1, 2, 3}))
	require.NoError(t, c.TrySend(core.Frame{4}))

	select {
	case got := <-ts.received:
		require.Equal(t, []byte{1, 2, 3}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("first frame not received")
	}
	select {
	case got := <-ts.received:
		require.Equal(t, []byte{4}, got)
	case <-time.After(5 * time.Second):
		t.Fatal("second frame not received")
	}
}

func TestInboundEventsAreRouted(t *testing.T) {
	ts := newTestServer(t)
	_, rec, err := connect(t, ts, "tok")
	require.NoError(t, err)
	server := <-ts.conns

	messages := []string{
		`not json`,
		`{"event_type":"user_start","task_id":"t1"}`,
		`{"event_type":"avatar_start_talking"}`,
		`{"event_type":"user_silence","silence_times":2,"count_down":4.5}`,
		`{"event_type":`,
		`{"event_type":"user_stop"}`,
	}
	for _, m := range messages {
		require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(m)))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 5*time.Second, 10*time.Millisecond)
	got := rec.snapshot()
	require.Equal(t, domain.EventUserStart, got[0].Type)
	require.Equal(t, "t1", got[0].TaskID)
	require.Equal(t, domain.EventUserSilence, got[1].Type)
	require.Equal(t, 2, got[1].SilenceTimes)
	require.Equal(t, 4.5, got[1].CountDown)
	require.Equal(t, domain.EventUserStop, got[2].Type)
}

func TestSendAfterCloseIsNoop(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := connect(t, ts, "tok")
	require.NoError(t, err)

	c.Close()
	require.NotPanics(t, c.Close)
	require.Equal(t, core.ChannelClosed, c.State())
	require.NotPanics(t, func() {
		require.ErrorIs(t, c.TrySend(core.Frame{1}), ErrClosed)
	})
}

func TestRemoteCloseResetsHandle(t *testing.T) {
	ts := newTestServer(t)
	c, _, err := connect(t, ts, "tok")
	require.NoError(t, err)
	server := <-ts.conns

	require.NoError(t, server.Close())
	require.Eventually(t, func() bool { return c.State() == core.ChannelClosed }, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, c.TrySend(core.Frame{1}), ErrClosed)
}

func TestCloseBeforeConnect(t *testing.T) {
	c := NewConn(Options{URL: "ws://127.0.0.1:1"}, &sinkRecorder{})
	c.Close()
	require.Equal(t, core.ChannelClosed, c.State())
	require.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestSocketURL(t *testing.T) {
	got, err := SocketURL("wss://api.example.com/v1/ws/streaming.chat", "abc", "t k", "")
	require.NoError(t, err)
	require.Equal(t, "wss://api.example.com/v1/ws/streaming.chat?session_id=abc&session_token=t+k", got)
}
