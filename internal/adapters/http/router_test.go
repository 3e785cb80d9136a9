package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Avatar/internal/adapters/api"
	"github.com/dkeye/Avatar/internal/app/events"
	"github.com/dkeye/Avatar/internal/app/orch"
	"github.com/dkeye/Avatar/internal/config"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	bus      *events.Bus
	state    core.SessionState
	session  *domain.SessionInfo
	degraded []orch.StepFailure
	err      error
	started  []domain.StartRequest
	spoken   []string
	calls    []string
}

func (f *fakeController) StartSession(_ context.Context, req domain.StartRequest) (*domain.SessionInfo, error) {
	f.started = append(f.started, req)
	if f.err != nil {
		return nil, f.err
	}
	f.state = core.StateLive
	f.session = &domain.SessionInfo{SessionID: "s1", URL: "wss://media", AccessToken: "secret"}
	return f.session, nil
}

func (f *fakeController) StopSession(context.Context) error {
	f.calls = append(f.calls, "stop")
	f.state = core.StateClosed
	f.session = nil
	return f.err
}

func (f *fakeController) Speak(_ context.Context, text string) (domain.SpeakResult, error) {
	f.spoken = append(f.spoken, text)
	if f.err != nil {
		return domain.SpeakResult{}, f.err
	}
	return domain.SpeakResult{Transport: domain.SpeakViaREST, TaskID: "t1"}, nil
}

func (f *fakeController) Interrupt(context.Context) error      { return f.record("interrupt") }
func (f *fakeController) StartListening(context.Context) error { return f.record("listen.start") }
func (f *fakeController) StopListening(context.Context) error  { return f.record("listen.stop") }
func (f *fakeController) KeepAlive(context.Context) error      { return f.record("keepalive") }

func (f *fakeController) record(name string) error {
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeController) State() core.SessionState { return f.state }

func (f *fakeController) Session() (domain.SessionInfo, bool) {
	if f.session == nil {
		return domain.SessionInfo{}, false
	}
	return *f.session, true
}

func (f *fakeController) Degradations() []orch.StepFailure { return f.degraded }
func (f *fakeController) Events() *events.Bus              { return f.bus }

func newTestRouter(t *testing.T) (*gin.Engine, *fakeController) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctrl := &fakeController{bus: events.NewBus(), state: core.StateIdle}
	cfg := &config.Config{Mode: "test"}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return SetupRouter(ctx, cfg, ctrl), ctrl
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionLifecycleRoutes(t *testing.T) {
	r, ctrl := newTestRouter(t)

	w := do(r, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"state":"idle"}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get(clientIDHeader))

	w = do(r, http.MethodPost, "/api/session/start", `{"avatar_name":"anna","quality":"low"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "anna", ctrl.started[0].AvatarName)
	require.Equal(t, domain.QualityLow, ctrl.started[0].Quality)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, core.StateLive, resp.State)
	require.Equal(t, domain.SessionID("s1"), resp.Session.SessionID)
	require.Empty(t, resp.Session.AccessToken)

	w = do(r, http.MethodPost, "/api/session/stop", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []string{"stop"}, ctrl.calls)
}

func TestStartWithoutBody(t *testing.T) {
	r, ctrl := newTestRouter(t)
	w := do(r, http.MethodPost, "/api/session/start", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, ctrl.started, 1)
}

func TestSpeakRoute(t *testing.T) {
	r, ctrl := newTestRouter(t)

	w := do(r, http.MethodPost, "/api/session/speak", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Empty(t, ctrl.spoken)

	w = do(r, http.MethodPost, "/api/session/speak", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"transport":"rest","task_id":"t1"}`, w.Body.String())
	require.Equal(t, []string{"hello"}, ctrl.spoken)
}

func TestPassThroughRoutes(t *testing.T) {
	r, ctrl := newTestRouter(t)
	for _, path := range []string{
		"/api/session/interrupt",
		"/api/session/keepalive",
		"/api/session/listening/start",
		"/api/session/listening/stop",
	} {
		w := do(r, http.MethodPost, path, "")
		require.Equal(t, http.StatusOK, w.Code, path)
	}
	require.Equal(t, []string{"interrupt", "keepalive", "listen.start", "listen.stop"}, ctrl.calls)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"no session", orch.ErrNoSession, http.StatusConflict},
		{"bad transition", core.ErrInvalidTransition, http.StatusConflict},
		{"upstream", &api.APIError{StatusCode: 401, Body: "nope"}, http.StatusBadGateway},
		{"unreachable", &api.TransportError{Op: "POST", URL: "http://x", Err: errors.New("dial")}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, ctrl := newTestRouter(t)
			ctrl.err = tc.err
			w := do(r, http.MethodPost, "/api/session/interrupt", "")
			require.Equal(t, tc.code, w.Code)
		})
	}
}

func TestDegradationsAreReported(t *testing.T) {
	r, ctrl := newTestRouter(t)
	ctrl.degraded = []orch.StepFailure{{Step: "socket_connect", Err: errors.New("refused")}}

	w := do(r, http.MethodGet, "/api/session", "")
	require.JSONEq(t, `{"state":"idle","degraded":[{"step":"socket_connect","error":"refused"}]}`, w.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
}

type stubTrack struct {
	id   string
	kind domain.TrackKind
}

func (s stubTrack) ID() string             { return s.id }
func (s stubTrack) Kind() domain.TrackKind { return s.kind }

func TestEventsRelay(t *testing.T) {
	r, ctrl := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer ws.Close()

	stream := &domain.MediaStream{Tracks: []domain.Track{
		stubTrack{id: "a", kind: domain.TrackKindAudio},
		stubTrack{id: "v", kind: domain.TrackKindVideo},
	}}

	// the subscription lands shortly after the handshake, so keep emitting
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctrl.bus.Emit(domain.Event{Type: domain.EventStreamReady, Stream: stream})
			}
		}
	}()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var msg map[string]any
	require.NoError(t, json.Unmarshal(data, &msg))

	require.Equal(t, "stream_ready", msg["type"])
	require.Len(t, msg["tracks"], 2)
}

func TestEncodeEvent(t *testing.T) {
	data, err := encodeEvent(domain.Event{Type: domain.EventUserSilence, SilenceTimes: 2, CountDown: 1.5})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"user_silence","silence_times":2,"count_down":1.5}`, string(data))
}
