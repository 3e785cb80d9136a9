package signal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure     = errors.New("backpressure")
	ErrClosed           = errors.New("connection closed")
	ErrAlreadyConnected = errors.New("connection already used")
)

const SocketPath = "/v1/ws/streaming.chat"

type Options struct {
	// URL is the socket endpoint without query parameters.
	URL          string
	SessionID    domain.SessionID
	Token        string
	Language     string
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	Dialer       *websocket.Dialer
}

// Conn is the per-session control socket. Outbound frames are binary and
// fire-and-forget; inbound text frames become bus events.
type Conn struct {
	opts Options
	sink core.EventSink

	mu    sync.RWMutex
	state core.ChannelState
	ws    *websocket.Conn
	send  chan core.Frame
	done  chan struct{}
}

func NewConn(opts Options, sink core.EventSink) *Conn {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Conn{opts: opts, sink: sink, state: core.ChannelIdle}
}

// SocketURL appends the session query parameters to base.
func SocketURL(base string, sid domain.SessionID, token, language string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse socket url: %w", err)
	}
	q := u.Query()
	q.Set("session_id", string(sid))
	q.Set("session_token", token)
	if language != "" {
		q.Set("stt_language", language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the socket. It returns nil once the socket is open and an
// error if it fails before that; a Conn can be connected only once.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != core.ChannelIdle {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = core.ChannelConnecting
	c.mu.Unlock()

	target, err := SocketURL(c.opts.URL, c.opts.SessionID, c.opts.Token, c.opts.Language)
	if err != nil {
		c.setClosed()
		return err
	}
	ws, resp, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.setClosed()
		if resp != nil {
			return fmt.Errorf("dial control socket (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial control socket: %w", err)
	}
	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}

	c.mu.Lock()
	if c.state != core.ChannelConnecting {
		// closed while dialing
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	c.ws = ws
	c.send = make(chan core.Frame, c.opts.SendBuffer)
	c.done = make(chan struct{})
	c.state = core.ChannelOpen
	send, done := c.send, c.done
	c.mu.Unlock()

	log.Info().Str("module", "signal").Str("sid", string(c.opts.SessionID)).Msg("control socket open")
	go c.writePump(ws, send, done)
	go c.readPump(ws)
	return nil
}

func (c *Conn) State() core.ChannelState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TrySend queues f without blocking. Sending on a socket that is not open
// does nothing and returns ErrClosed.
func (c *Conn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != core.ChannelOpen {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close releases the socket. Safe to call in any state, any number of times.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.state == core.ChannelClosed {
		c.mu.Unlock()
		return
	}
	wasOpen := c.state == core.ChannelOpen
	c.state = core.ChannelClosed
	ws := c.ws
	c.ws = nil
	if wasOpen {
		close(c.send)
		close(c.done)
	}
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = ws.Close()
	}
	log.Info().Str("module", "signal").Str("sid", string(c.opts.SessionID)).Msg("control socket closed")
}

func (c *Conn) setClosed() {
	c.mu.Lock()
	c.state = core.ChannelClosed
	c.mu.Unlock()
}
