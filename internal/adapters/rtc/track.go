package rtc

import (
	"context"
	"sync/atomic"

	"github.com/dkeye/Avatar/internal/domain"
	"github.com/dkeye/Avatar/internal/metrics"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const packetBuffer = 256

type rtpReader interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, error)
}

type pionTrack struct{ *webrtc.TrackRemote }

func (p pionTrack) ReadRTP() (*rtp.Packet, error) {
	pkt, _, err := p.TrackRemote.ReadRTP()
	return pkt, err
}

// RemoteTrack is an inbound avatar track. Packets are forwarded to a
// bounded queue; when the consumer falls behind, packets are dropped.
type RemoteTrack struct {
	src     rtpReader
	packets chan *rtp.Packet
	dropped atomic.Uint64
}

func newRemoteTrack(src rtpReader) *RemoteTrack {
	return &RemoteTrack{src: src, packets: make(chan *rtp.Packet, packetBuffer)}
}

func (t *RemoteTrack) ID() string { return t.src.ID() }

func (t *RemoteTrack) Kind() domain.TrackKind { return trackKind(t.src.Kind()) }

// Packets is closed when the track ends. The application that renders the
// avatar is expected to drain it; packets that find the queue full are
// dropped and counted in Dropped and the avatar_rtp_packets_dropped_total
// metric.
func (t *RemoteTrack) Packets() <-chan *rtp.Packet { return t.packets }

func (t *RemoteTrack) Dropped() uint64 { return t.dropped.Load() }

// loop reads RTP packets until the source ends or ctx is cancelled.
func (t *RemoteTrack) loop(ctx context.Context) {
	defer close(t.packets)
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "rtc").Str("track_id", t.ID()).Msg("track ctx done")
			return
		default:
		}
		pkt, err := t.src.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "rtc").Str("track_id", t.ID()).Msg("track ended")
			return
		}
		select {
		case t.packets <- pkt:
		default:
			t.dropped.Add(1)
			metrics.RTPPacketsDropped.WithLabelValues(string(t.Kind())).Inc()
		}
	}
}

func trackKind(k webrtc.RTPCodecType) domain.TrackKind {
	switch k {
	case webrtc.RTPCodecTypeAudio:
		return domain.TrackKindAudio
	case webrtc.RTPCodecTypeVideo:
		return domain.TrackKindVideo
	default:
		return domain.TrackKind(k.String())
	}
}
