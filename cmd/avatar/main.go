package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Avatar/internal/adapters/api"
	"github.com/dkeye/Avatar/internal/adapters/audio"
	"github.com/dkeye/Avatar/internal/adapters/codec"
	router "github.com/dkeye/Avatar/internal/adapters/http"
	"github.com/dkeye/Avatar/internal/adapters/rtc"
	ctrlsocket "github.com/dkeye/Avatar/internal/adapters/signal"
	"github.com/dkeye/Avatar/internal/app/events"
	"github.com/dkeye/Avatar/internal/app/orch"
	"github.com/dkeye/Avatar/internal/config"
	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	bus := events.NewBus()
	for _, t := range domain.AllEvents() {
		bus.On(t, func(ev domain.Event) {
			log.Debug().Str("module", "events").Str("type", string(ev.Type)).Str("task_id", ev.TaskID).Msg("event")
		})
	}

	o := newOrchestrator(cfg, bus)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Avatar client started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := o.StopSession(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session stop failed")
	}
	log.Info().Msg("Client exited gracefully")
}

func newOrchestrator(cfg *config.Config, bus *events.Bus) *orch.Orchestrator {
	socketURL := cfg.SocketBase(ctrlsocket.SocketPath)

	o := &orch.Orchestrator{
		API: api.NewClient(cfg.API.Token, cfg.API.BasePath, cfg.API.Timeout),
		Bus: bus,
		NewMedia: func() core.MediaTransport {
			return rtc.NewConnection(rtc.Options{ICEServers: cfg.Media.ICEServers})
		},
		NewSocket: func(info domain.SessionInfo, sink core.EventSink) core.ControlSocket {
			return ctrlsocket.NewConn(ctrlsocket.Options{
				URL:          socketURL,
				SessionID:    info.SessionID,
				Token:        cfg.API.Token,
				Language:     cfg.Session.Language,
				ReadLimit:    cfg.Socket.ReadLimit,
				PingPeriod:   cfg.Socket.PingPeriod,
				WriteTimeout: cfg.Socket.WriteTimeout,
				SendBuffer:   cfg.Socket.SendBuffer,
			}, sink)
		},
		Codec: codec.New(codec.Options{
			SchemaPath:  cfg.Codec.SchemaPath,
			MessageName: cfg.Codec.MessageName,
		}),
		Capture: core.CaptureConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			BlockSize:        cfg.Audio.BlockSize,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
			AutoGainControl:  cfg.Audio.AutoGainControl,
		},
		Warmup:         cfg.Audio.Warmup,
		ConnectTimeout: cfg.Media.ConnectTimeout,
		Defaults: domain.StartRequest{
			AvatarName:          cfg.Session.AvatarName,
			Quality:             domain.Quality(cfg.Session.Quality),
			Language:            cfg.Session.Language,
			ActivityIdleTimeout: cfg.Session.ActivityIdleTimeout,
			DisableIdleTimeout:  cfg.Session.DisableIdleTimeout,
		},
	}
	if cfg.Session.VoiceID != "" {
		o.Defaults.Voice = &domain.VoiceSetting{VoiceID: cfg.Session.VoiceID}
	}
	if cfg.Audio.Enabled {
		o.NewCapture = func() core.AudioSource { return audio.NewMicrophone() }
	}
	return o
}
