// Package rtc is the pion/webrtc media transport of an avatar session.
// Signalling is a single SDP offer/answer exchange over HTTP.
package rtc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Avatar/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const eventsLabel = "events"

var (
	ErrAlreadyConnected = errors.New("rtc: already connected")
	ErrDisconnected     = errors.New("rtc: disconnected before connected")
)

type Options struct {
	ICEServers []string
	HTTPClient *http.Client
}

// DefaultWebRTCConfig falls back to a public STUN server when iceServers
// is nil. An empty non-nil slice means host candidates only.
func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if iceServers == nil {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	if len(iceServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// Connection implements core.MediaTransport. It is single-use:
// create a new one for every session.
type Connection struct {
	cfg  webrtc.Configuration
	http *http.Client

	mu           sync.Mutex
	pc           *webrtc.PeerConnection
	cancel       context.CancelFunc
	connected    chan struct{}
	closed       chan struct{}
	disconnected bool

	onData   func([]byte)
	onSub    func(domain.Track)
	onUnsub  func(domain.Track)
	onClosed func(string)
}

func NewConnection(opts Options) *Connection {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Connection{
		cfg:       DefaultWebRTCConfig(opts.ICEServers),
		http:      hc,
		connected: make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

func (c *Connection) OnDataReceived(fn func([]byte)) {
	c.mu.Lock()
	c.onData = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrackSubscribed(fn func(domain.Track)) {
	c.mu.Lock()
	c.onSub = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrackUnsubscribed(fn func(domain.Track)) {
	c.mu.Lock()
	c.onUnsub = fn
	c.mu.Unlock()
}

// OnDisconnected sets application-level callback for teardown.
func (c *Connection) OnDisconnected(fn func(string)) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// PrepareConnection issues an OPTIONS request so DNS and TLS are warm
// by the time the offer is posted.
func (c *Connection) PrepareConnection(ctx context.Context, url, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodOptions, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("prepare %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	log.Debug().Str("module", "rtc").Int("status", resp.StatusCode).Msg("prepared")
	return nil
}

// Connect negotiates receive-only audio and video plus the events data
// channel, and returns once the peer connection reports connected.
func (c *Connection) Connect(ctx context.Context, url, token string) error {
	c.mu.Lock()
	if c.pc != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.disconnected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	pc, err := webrtc.NewPeerConnection(c.cfg)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	trackCtx, cancel := context.WithCancel(context.Background())
	c.pc = pc
	c.cancel = cancel
	c.mu.Unlock()

	if err := c.negotiate(ctx, trackCtx, pc, url, token); err != nil {
		c.teardown("negotiation_failed")
		return err
	}

	select {
	case <-c.connected:
		return nil
	case <-c.closed:
		return ErrDisconnected
	case <-ctx.Done():
		c.teardown("connect_timeout")
		return ctx.Err()
	}
}

func (c *Connection) negotiate(ctx, trackCtx context.Context, pc *webrtc.PeerConnection, url, token string) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	dc, err := pc.CreateDataChannel(eventsLabel, nil)
	if err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	c.bindDataChannel(dc)
	pc.OnDataChannel(c.bindDataChannel)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.markConnected()
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateClosed:
			c.teardown(s.String())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		rt := newRemoteTrack(pionTrack{track})
		if fn := c.subscribed(); fn != nil {
			fn(rt)
		}
		go func() {
			rt.loop(trackCtx)
			if fn := c.unsubscribed(); fn != nil {
				fn(rt)
			}
		}()
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := c.exchange(ctx, url, token, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// exchange posts the local offer and returns the remote answer SDP.
func (c *Connection) exchange(ctx context.Context, url, token, offer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/sdp")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("post offer: unexpected status %d", resp.StatusCode)
	}
	return string(body), nil
}

func (c *Connection) bindDataChannel(dc *webrtc.DataChannel) {
	if dc.Label() != eventsLabel {
		return
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		fn := c.onData
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// Disconnect closes the peer connection. The disconnected callback fires
// at most once per Connection.
func (c *Connection) Disconnect() error {
	return c.teardown("client_disconnect")
}

func (c *Connection) teardown(reason string) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	close(c.closed)
	pc, cancel, fn := c.pc, c.cancel, c.onClosed
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if pc != nil {
		if err = pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "rtc").Msg("close error")
		} else {
			log.Info().Str("module", "rtc").Str("reason", reason).Msg("closed")
		}
	}
	if fn != nil {
		fn(reason)
	}
	return err
}

func (c *Connection) markConnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.connected:
	default:
		close(c.connected)
	}
}

func (c *Connection) subscribed() func(domain.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onSub
}

func (c *Connection) unsubscribed() func(domain.Track) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.onUnsub
}
