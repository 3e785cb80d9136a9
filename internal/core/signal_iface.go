package core

import "context"

// Frame is a raw binary payload.
type Frame []byte

// ChannelState is the lifecycle of a channel handle.
type ChannelState int32

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// FrameSender is the outbound half of the control socket.
type FrameSender interface {
	TrySend(Frame) error
	State() ChannelState
}

// ControlSocket abstracts the low-latency control channel.
// Owned by the orchestrator; the orchestrator must Close() it.
type ControlSocket interface {
	FrameSender
	Connect(ctx context.Context) error
	Close()
}
