package core

import "context"

type CaptureConfig struct {
	SampleRate       int
	Channels         int
	BlockSize        int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// AudioSource is a microphone. Start acquires the device resources as one
// group and Close releases all of them; Close is safe to call repeatedly
// and before Start. onBlock receives the samples of channel 0 only.
type AudioSource interface {
	Start(ctx context.Context, cfg CaptureConfig, onBlock func(samples []float32)) error
	Close() error
}
