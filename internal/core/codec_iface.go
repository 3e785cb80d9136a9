package core

import (
	"context"

	"github.com/dkeye/Avatar/internal/domain"
)

// FrameCodec turns outbound frames into control-socket bytes.
type FrameCodec interface {
	Load(ctx context.Context) error
	Loaded() bool
	Encode(domain.OutboundFrame) (Frame, error)
}

// EventSink receives inbound events from any channel.
type EventSink interface {
	Emit(domain.Event)
}
