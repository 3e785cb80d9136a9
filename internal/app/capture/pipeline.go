// Package capture turns microphone blocks into control-socket audio frames.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/rs/zerolog/log"
)

const DefaultWarmup = 2 * time.Second

var (
	ErrAlreadyStarted = errors.New("capture already started")
	ErrStopped        = errors.New("capture stopped")
)

// Pipeline owns one capture resource group for one session.
// Blocks are sent only while the socket is open; otherwise they are dropped.
type Pipeline struct {
	Source core.AudioSource
	Codec  core.FrameCodec
	Socket core.FrameSender
	Config core.CaptureConfig
	Warmup time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
}

// Start begins capture and returns after the warm-up delay.
// If ctx ends during warm-up, capture keeps running and ctx.Err() is returned.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return ErrStopped
	}
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.mu.Unlock()

	if err := p.Source.Start(ctx, p.Config, p.handleBlock); err != nil {
		p.Stop()
		return err
	}
	// Stop may have run while the source was starting and found nothing to release.
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		if err := p.Source.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.capture").Msg("release capture")
		}
		return ErrStopped
	}
	log.Info().Str("module", "app.capture").Int("sample_rate", p.Config.SampleRate).Int("block", p.Config.BlockSize).Msg("capture started")

	if p.Warmup <= 0 {
		return nil
	}
	timer := time.NewTimer(p.Warmup)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Stop releases the capture resources. Errors are logged, never returned.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if err := p.Source.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.capture").Msg("release capture")
		return
	}
	log.Info().Str("module", "app.capture").Msg("capture released")
}

func (p *Pipeline) handleBlock(samples []float32) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped || p.Socket == nil || p.Socket.State() != core.ChannelOpen || !p.Codec.Loaded() {
		metrics.AudioBlocks.WithLabelValues("dropped").Inc()
		return
	}

	frame, err := p.Codec.Encode(domain.AudioChunk{PCM: FloatToPCM16(samples)})
	if err != nil {
		metrics.AudioBlocks.WithLabelValues("failed").Inc()
		log.Debug().Err(err).Str("module", "app.capture").Msg("encode block")
		return
	}
	if err := p.Socket.TrySend(frame); err != nil {
		metrics.AudioBlocks.WithLabelValues("dropped").Inc()
		log.Debug().Err(err).Str("module", "app.capture").Msg("send block")
		return
	}
	metrics.AudioBlocks.WithLabelValues("sent").Inc()
}
