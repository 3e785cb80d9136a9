package audio

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Avatar/internal/core"
)

func interleave(frames [][]float32) []byte {
	var out []byte
	for _, f := range frames {
		for _, s := range f {
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(s))
		}
	}
	return out
}

func TestFirstChannel(t *testing.T) {
	tests := []struct {
		name     string
		frames   [][]float32
		channels int
		count    int
		want     []float32
	}{
		{"mono", [][]float32{{0.5}, {-1}, {0}}, 1, 3, []float32{0.5, -1, 0}},
		{"stereo keeps left", [][]float32{{0.1, 0.9}, {0.2, 0.8}}, 2, 2, []float32{0.1, 0.2}},
		{"short buffer", [][]float32{{0.3}}, 1, 4, []float32{0.3}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := firstChannel(interleave(tc.frames), tc.count, tc.channels)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCloseBeforeStart(t *testing.T) {
	m := NewMicrophone()
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	err := m.Start(context.Background(), core.CaptureConfig{SampleRate: 16000, Channels: 1, BlockSize: 320}, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestDeliverWithoutCallback(t *testing.T) {
	m := NewMicrophone()
	m.deliver(interleave([][]float32{{1}}), 1, 1)
}
