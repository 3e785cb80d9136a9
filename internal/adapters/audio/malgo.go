// Package audio captures the microphone through miniaudio.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Avatar/internal/core"
	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

var (
	ErrStarted = errors.New("audio: capture already started")
	ErrClosed  = errors.New("audio: capture closed")
)

// Microphone implements core.AudioSource. The miniaudio context and the
// capture device are acquired together in Start and released together
// in Close.
type Microphone struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	closed  bool
	onBlock atomic.Pointer[func([]float32)]
}

func NewMicrophone() *Microphone { return &Microphone{} }

func (m *Microphone) Start(_ context.Context, cfg core.CaptureConfig, onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.device != nil {
		return ErrStarted
	}

	channels := max(cfg.Channels, 1)
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("module", "adapters.audio").Msg(message)
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	dc := malgo.DefaultDeviceConfig(malgo.Capture)
	dc.SampleRate = uint32(cfg.SampleRate)
	dc.Capture.Format = malgo.FormatF32
	dc.Capture.Channels = uint32(channels)
	dc.Alsa.NoMMap = 1
	dc.PerformanceProfile = malgo.LowLatency
	if cfg.BlockSize > 0 {
		dc.PeriodSizeInFrames = uint32(cfg.BlockSize)
	}
	// miniaudio exposes no portable switches for echo cancellation,
	// noise suppression or gain control; they are left to the OS.
	if cfg.EchoCancellation || cfg.NoiseSuppression || cfg.AutoGainControl {
		log.Debug().Str("module", "adapters.audio").Msg("voice processing requested, relying on platform defaults")
	}

	m.onBlock.Store(&onBlock)
	device, err := malgo.InitDevice(actx.Context, dc, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			m.deliver(input, int(frameCount), channels)
		},
	})
	if err != nil {
		m.onBlock.Store(nil)
		_ = release(actx)
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		m.onBlock.Store(nil)
		_ = release(actx)
		return fmt.Errorf("start capture device: %w", err)
	}

	m.ctx = actx
	m.device = device
	log.Info().Str("module", "adapters.audio").Int("sample_rate", cfg.SampleRate).Int("block", cfg.BlockSize).Msg("capture started")
	return nil
}

func (m *Microphone) deliver(input []byte, frames, channels int) {
	fn := m.onBlock.Load()
	if fn == nil || *fn == nil || frames == 0 {
		return
	}
	if samples := firstChannel(input, frames, channels); len(samples) > 0 {
		(*fn)(samples)
	}
}

// Close releases the device and its context. It is safe before Start
// and on repeated calls; a closed Microphone cannot be started again.
func (m *Microphone) Close() error {
	m.mu.Lock()
	device, actx := m.device, m.ctx
	m.device, m.ctx = nil, nil
	m.onBlock.Store(nil)
	already := m.closed
	m.closed = true
	m.mu.Unlock()

	if already || device == nil {
		return nil
	}
	var err error
	if stopErr := device.Stop(); stopErr != nil {
		err = fmt.Errorf("stop capture device: %w", stopErr)
	}
	device.Uninit()
	if ctxErr := release(actx); ctxErr != nil && err == nil {
		err = ctxErr
	}
	log.Info().Str("module", "adapters.audio").Msg("capture closed")
	return err
}

func release(actx *malgo.AllocatedContext) error {
	if actx == nil {
		return nil
	}
	err := actx.Uninit()
	actx.Free()
	if err != nil {
		return fmt.Errorf("uninit audio context: %w", err)
	}
	return nil
}

// firstChannel decodes interleaved little-endian float32 frames and keeps
// channel 0.
func firstChannel(input []byte, frames, channels int) []float32 {
	const width = 4
	stride := channels * width
	if n := len(input) / stride; n < frames {
		frames = n
	}
	out := make([]float32, frames)
	for i := range frames {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*stride:]))
	}
	return out
}
