package http

import (
	"context"
	"time"

	"github.com/dkeye/Avatar/internal/app/events"
	"github.com/dkeye/Avatar/internal/app/orch"
	"github.com/dkeye/Avatar/internal/config"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SessionController is the part of the orchestrator the local API drives.
type SessionController interface {
	StartSession(ctx context.Context, req domain.StartRequest) (*domain.SessionInfo, error)
	StopSession(ctx context.Context) error
	Speak(ctx context.Context, text string) (domain.SpeakResult, error)
	Interrupt(ctx context.Context) error
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	KeepAlive(ctx context.Context) error
	State() core.SessionState
	Session() (domain.SessionInfo, bool)
	Degradations() []orch.StepFailure
	Events() *events.Bus
}

const clientIDHeader = "X-Client-ID"

// ClientIDMiddleware tags every request with a client id, taken from the
// X-Client-ID header or generated.
func ClientIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(clientIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("client_id", id)
		c.Header(clientIDHeader, id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, ctrl SessionController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientIDMiddleware())

	h := &handlers{ctrl: ctrl}
	relay := NewEventRelay(ctrl.Events(), RelayOptions{
		SendBuffer: cfg.Socket.SendBuffer,
		PingPeriod: cfg.Socket.PingPeriod,
		ReadLimit:  cfg.Socket.ReadLimit,
	})

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Msg("router setup")

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.GET("/session", h.getSession)
	api.POST("/session/start", h.startSession)
	api.POST("/session/stop", h.stopSession)
	api.POST("/session/speak", h.speak)
	api.POST("/session/interrupt", h.interrupt)
	api.POST("/session/keepalive", h.keepAlive)
	api.POST("/session/listening/start", h.startListening)
	api.POST("/session/listening/stop", h.stopListening)

	api.GET("/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client_id", c.GetString("client_id")).Msg("events endpoint hit")
		relay.Handle(ctx, c)
	})

	return r
}

func defaultPing(d time.Duration) time.Duration {
	if d <= 0 {
		return 54 * time.Second
	}
	return d
}
