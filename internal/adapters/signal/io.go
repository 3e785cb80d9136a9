package signal

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Conn) writePump(ws *websocket.Conn, send <-chan core.Frame, done <-chan struct{}) {
	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		ticker := time.NewTicker(c.opts.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-done:
			return
		case data, ok := <-send:
			if !ok {
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
			metrics.FramesSent.WithLabelValues("binary").Inc()
		case <-ping:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) readPump(ws *websocket.Conn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(c.opts.SessionID)).Msg("readPump closing")
		c.Close()
	}()

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			if c.State() == core.ChannelOpen {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.opts.SessionID)).Msg("readPump read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.handleMessage(data)
	}
}

func (c *Conn) handleMessage(data []byte) {
	var env struct {
		EventType    domain.EventType `json:"event_type"`
		TaskID       string           `json:"task_id"`
		SilenceTimes int              `json:"silence_times"`
		CountDown    float64          `json:"count_down"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.InboundDropped.WithLabelValues("socket").Inc()
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.EventType {
	case domain.EventUserStart, domain.EventUserStop, domain.EventUserSilence:
		c.sink.Emit(domain.Event{
			Type:         env.EventType,
			TaskID:       env.TaskID,
			SilenceTimes: env.SilenceTimes,
			CountDown:    env.CountDown,
			Raw:          append(json.RawMessage(nil), data...),
		})
	default:
		metrics.InboundDropped.WithLabelValues("socket").Inc()
		log.Warn().Str("module", "signal").Str("event_type", string(env.EventType)).Msg("unknown event")
	}
}
