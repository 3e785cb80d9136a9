package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Avatar/internal/app/events"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type RelayOptions struct {
	SendBuffer int
	PingPeriod time.Duration
	ReadLimit  int64
}

// EventRelay streams every bus event to websocket clients as JSON text
// frames. Slow clients lose events instead of blocking the bus.
type EventRelay struct {
	bus  *events.Bus
	opts RelayOptions
}

func NewEventRelay(bus *events.Bus, opts RelayOptions) *EventRelay {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	opts.PingPeriod = defaultPing(opts.PingPeriod)
	return &EventRelay{bus: bus, opts: opts}
}

type relayTrack struct {
	ID   string           `json:"id"`
	Kind domain.TrackKind `json:"kind"`
}

type relayMessage struct {
	domain.Event
	Tracks []relayTrack `json:"tracks,omitempty"`
}

func encodeEvent(ev domain.Event) ([]byte, error) {
	msg := relayMessage{Event: ev}
	if ev.Stream != nil {
		for _, t := range ev.Stream.Tracks {
			msg.Tracks = append(msg.Tracks, relayTrack{ID: t.ID(), Kind: t.Kind()})
		}
	}
	return json.Marshal(msg)
}

// Handle upgrades the request and blocks until the client goes away or
// ctx ends.
func (r *EventRelay) Handle(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("websocket upgrade error")
		return
	}
	if r.opts.ReadLimit > 0 {
		ws.SetReadLimit(r.opts.ReadLimit)
	}
	client := &relayClient{
		id:   c.GetString("client_id"),
		ws:   ws,
		send: make(chan []byte, r.opts.SendBuffer),
		done: make(chan struct{}),
	}

	subs := make([]events.Subscription, 0, len(domain.AllEvents()))
	for _, t := range domain.AllEvents() {
		subs = append(subs, r.bus.On(t, client.deliver))
	}
	defer func() {
		for _, s := range subs {
			r.bus.Off(s)
		}
		client.close()
		log.Info().Str("module", "adapters.http").Str("client_id", client.id).Msg("events client left")
	}()

	go client.writePump(ctx, r.opts.PingPeriod)
	client.readPump()
}

type relayClient struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *relayClient) deliver(ev domain.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("encode event")
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		log.Debug().Str("module", "adapters.http").Str("client_id", c.id).Str("type", string(ev.Type)).Msg("events client backpressure, dropped")
	}
}

func (c *relayClient) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *relayClient) writePump(ctx context.Context, ping time.Duration) {
	ticker := time.NewTicker(ping)
	defer ticker.Stop()
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump only drains control frames; clients have nothing to say.
func (c *relayClient) readPump() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
