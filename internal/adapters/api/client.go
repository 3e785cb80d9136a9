// Package api is the REST client of the avatar control plane.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const DefaultBasePath = "https://api.heygen.com"

const apiVersion = "v2"

const (
	pathNew            = "/v1/streaming.new"
	pathStart          = "/v1/streaming.start"
	pathStop           = "/v1/streaming.stop"
	pathTask           = "/v1/streaming.task"
	pathInterrupt      = "/v1/streaming.interrupt"
	pathStartListening = "/v1/streaming.start_listening"
	pathStopListening  = "/v1/streaming.stop_listening"
	pathKeepAlive      = "/v1/streaming.keep_alive"
)

// Client implements core.ControlPlane over HTTPS with bearer auth.
type Client struct {
	basePath string
	token    string
	http     *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func NewClient(token, basePath string, timeout time.Duration, opts ...Option) *Client {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	c := &Client{
		basePath: strings.TrimRight(basePath, "/"),
		token:    token,
		http:     newDefaultHTTPClient(timeout),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newDefaultHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: otelhttp.NewTransport(transport), Timeout: timeout}
}

// BasePath is the API root the client talks to.
func (c *Client) BasePath() string { return c.basePath }

type newSessionBody struct {
	domain.StartRequest
	Version string `json:"version"`
}

func (c *Client) NewSession(ctx context.Context, req domain.StartRequest) (*domain.SessionInfo, error) {
	var info domain.SessionInfo
	if err := c.post(ctx, pathNew, newSessionBody{StartRequest: req, Version: apiVersion}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) StartSession(ctx context.Context, sid domain.SessionID) error {
	return c.post(ctx, pathStart, sessionBody(sid), nil)
}

func (c *Client) StopSession(ctx context.Context, sid domain.SessionID) error {
	return c.post(ctx, pathStop, sessionBody(sid), nil)
}

func (c *Client) Speak(ctx context.Context, req domain.SpeakRequest) (*domain.TaskInfo, error) {
	var task domain.TaskInfo
	if err := c.post(ctx, pathTask, req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func (c *Client) Interrupt(ctx context.Context, sid domain.SessionID) error {
	return c.post(ctx, pathInterrupt, sessionBody(sid), nil)
}

func (c *Client) StartListening(ctx context.Context, sid domain.SessionID) error {
	return c.post(ctx, pathStartListening, sessionBody(sid), nil)
}

func (c *Client) StopListening(ctx context.Context, sid domain.SessionID) error {
	return c.post(ctx, pathStopListening, sessionBody(sid), nil)
}

func (c *Client) KeepAlive(ctx context.Context, sid domain.SessionID) error {
	return c.post(ctx, pathKeepAlive, sessionBody(sid), nil)
}

func sessionBody(sid domain.SessionID) map[string]domain.SessionID {
	return map[string]domain.SessionID{"session_id": sid}
}

// post sends body as JSON and decodes the "data" envelope of the reply into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	target := c.basePath + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ControlPlaneRequests.WithLabelValues(path, "error").Inc()
		return &TransportError{Op: http.MethodPost, URL: target, Err: err}
	}
	defer resp.Body.Close()
	metrics.ControlPlaneRequests.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: http.MethodPost, URL: target, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().Str("module", "adapters.api").Str("path", path).Int("status", resp.StatusCode).Msg("request failed")
		return &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	log.Debug().Str("module", "adapters.api").Str("path", path).Int("status", resp.StatusCode).Msg("request ok")

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s data: %w", path, err)
	}
	return nil
}
