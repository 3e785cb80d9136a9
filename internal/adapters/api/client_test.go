package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Avatar/internal/domain"
	"github.com/stretchr/testify/require"
)

type captured struct {
	path string
	auth string
	body map[string]any
}

func newServer(t *testing.T, status int, reply string) (*Client, *[]captured) {
	t.Helper()
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls = append(calls, captured{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return NewClient("secret", srv.URL+"/", 5*time.Second, WithHTTPClient(srv.Client())), &calls
}

func TestNewSessionDecodesEnvelope(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"code":100,"data":{"session_id":"s1","url":"wss://media","access_token":"at","session_duration_limit":600,"is_paid":true}}`)

	info, err := c.NewSession(context.Background(), domain.StartRequest{AvatarName: "x", Quality: domain.QualityHigh})
	require.NoError(t, err)
	require.Equal(t, domain.SessionInfo{SessionID: "s1", URL: "wss://media", AccessToken: "at", DurationLimit: 600, IsPaid: true}, *info)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.Equal(t, "/v1/streaming.new", call.path)
	require.Equal(t, "Bearer secret", call.auth)
	require.Equal(t, "x", call.body["avatar_name"])
	require.Equal(t, "high", call.body["quality"])
	require.Equal(t, "v2", call.body["version"])
}

func TestSessionScopedEndpoints(t *testing.T) {
	tests := []struct {
		name string
		path string
		call func(*Client) error
	}{
		{"start", "/v1/streaming.start", func(c *Client) error { return c.StartSession(context.Background(), "s1") }},
		{"stop", "/v1/streaming.stop", func(c *Client) error { return c.StopSession(context.Background(), "s1") }},
		{"interrupt", "/v1/streaming.interrupt", func(c *Client) error { return c.Interrupt(context.Background(), "s1") }},
		{"start listening", "/v1/streaming.start_listening", func(c *Client) error { return c.StartListening(context.Background(), "s1") }},
		{"stop listening", "/v1/streaming.stop_listening", func(c *Client) error { return c.StopListening(context.Background(), "s1") }},
		{"keep alive", "/v1/streaming.keep_alive", func(c *Client) error { return c.KeepAlive(context.Background(), "s1") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, calls := newServer(t, http.StatusOK, `{"data":null}`)
			require.NoError(t, tc.call(c))
			require.Len(t, *calls, 1)
			require.Equal(t, tc.path, (*calls)[0].path)
			require.Equal(t, "s1", (*calls)[0].body["session_id"])
		})
	}
}

func TestSpeakSendsTaskFields(t *testing.T) {
	c, calls := newServer(t, http.StatusOK, `{"data":{"task_id":"task-9","duration_ms":1200}}`)
	task, err := c.Speak(context.Background(), domain.SpeakRequest{
		SessionID: "s1", Text: "hello", TaskType: domain.TaskTypeTalk, TaskMode: domain.TaskModeAsync,
	})
	require.NoError(t, err)
	require.Equal(t, "task-9", task.TaskID)

	body := (*calls)[0].body
	require.Equal(t, "/v1/streaming.task", (*calls)[0].path)
	require.Equal(t, "talk", body["task_type"])
	require.Equal(t, "async", body["task_mode"])
	require.Equal(t, "hello", body["text"])
}

func TestNon2xxIsAPIError(t *testing.T) {
	c, _ := newServer(t, http.StatusUnauthorized, `{"message":"bad token"}`)
	err := c.StartSession(context.Background(), "s1")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, `{"message":"bad token"}`, apiErr.Body)
}

func TestUnreachableIsTransportError(t *testing.T) {
	c := NewClient("secret", "http://user:pw@127.0.0.1:1", time.Second)
	err := c.StopSession(context.Background(), "s1")

	var te *TransportError
	require.True(t, errors.As(err, &te))
	require.Equal(t, http.MethodPost, te.Op)
	require.NotContains(t, te.Error(), "pw")
}

func TestDefaultBasePath(t *testing.T) {
	require.Equal(t, DefaultBasePath, NewClient("t", "", time.Second).BasePath())
}
