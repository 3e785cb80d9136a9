// Package media wraps the real-time media transport of one avatar session.
package media

import (
	"context"
	"encoding/json"
	"sync"
	"unicode/utf8"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Channel turns transport notifications into bus events.
// One Channel serves exactly one session.
type Channel struct {
	transport    core.MediaTransport
	sink         core.EventSink
	onDisconnect func(reason string)

	mu           sync.Mutex
	pair         pair
	disconnected bool
}

// NewChannel registers every transport callback before returning,
// so events that arrive during Connect are not lost.
func NewChannel(t core.MediaTransport, sink core.EventSink, onDisconnect func(reason string)) *Channel {
	c := &Channel{transport: t, sink: sink, onDisconnect: onDisconnect}
	t.OnDataReceived(c.handleData)
	t.OnTrackSubscribed(c.handleTrackSubscribed)
	t.OnTrackUnsubscribed(c.handleTrackUnsubscribed)
	t.OnDisconnected(c.handleDisconnected)
	return c
}

func (c *Channel) Prepare(ctx context.Context, url, token string) error {
	return c.transport.PrepareConnection(ctx, url, token)
}

func (c *Channel) Connect(ctx context.Context, url, token string) error {
	return c.transport.Connect(ctx, url, token)
}

// Disconnect is safe to call more than once.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	done := c.disconnected
	c.mu.Unlock()
	if done {
		return
	}
	if err := c.transport.Disconnect(); err != nil {
		log.Warn().Err(err).Str("module", "app.media").Msg("disconnect")
	}
}

// Stream returns the merged media once it is ready.
func (c *Channel) Stream() (domain.MediaStream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pair.ready {
		return domain.MediaStream{}, false
	}
	return c.pair.stream(), true
}

func (c *Channel) handleData(data []byte) {
	ev, ok := decodeEvent(data)
	if !ok {
		metrics.InboundDropped.WithLabelValues("media").Inc()
		return
	}
	c.sink.Emit(ev)
}

func decodeEvent(data []byte) (domain.Event, bool) {
	if !utf8.Valid(data) {
		log.Warn().Str("module", "app.media").Int("len", len(data)).Msg("message is not utf-8")
		return domain.Event{}, false
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Warn().Err(err).Str("module", "app.media").Msg("bad json")
		return domain.Event{}, false
	}
	if !domain.IsOneOf(ev.Type, domain.MediaChannelEvents) {
		log.Warn().Str("module", "app.media").Str("type", string(ev.Type)).Msg("unknown event")
		return domain.Event{}, false
	}
	ev.Stream = nil
	ev.Raw = append(json.RawMessage(nil), data...)
	return ev, true
}

func (c *Channel) handleTrackSubscribed(t domain.Track) {
	if t.Kind() != domain.TrackKindAudio && t.Kind() != domain.TrackKindVideo {
		return
	}
	c.mu.Lock()
	readyNow := c.pair.add(t)
	stream := c.pair.stream()
	c.mu.Unlock()

	log.Info().Str("module", "app.media").Str("kind", string(t.Kind())).Str("track_id", t.ID()).Msg("track subscribed")
	if readyNow {
		c.sink.Emit(domain.Event{Type: domain.EventStreamReady, Stream: &stream})
	}
}

func (c *Channel) handleTrackUnsubscribed(t domain.Track) {
	c.mu.Lock()
	c.pair.remove(t)
	c.mu.Unlock()
	log.Info().Str("module", "app.media").Str("kind", string(t.Kind())).Str("track_id", t.ID()).Msg("track unsubscribed")
}

func (c *Channel) handleDisconnected(reason string) {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return
	}
	c.disconnected = true
	c.mu.Unlock()

	log.Info().Str("module", "app.media").Str("reason", reason).Msg("disconnected")
	c.sink.Emit(domain.Event{Type: domain.EventStreamDisconnected, Reason: reason})
	if c.onDisconnect != nil {
		c.onDisconnect(reason)
	}
}
