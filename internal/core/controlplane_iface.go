package core

import (
	"context"

	"github.com/dkeye/Avatar/internal/domain"
)

// ControlPlane is the REST side of the avatar service.
type ControlPlane interface {
	NewSession(ctx context.Context, req domain.StartRequest) (*domain.SessionInfo, error)
	StartSession(ctx context.Context, sid domain.SessionID) error
	StopSession(ctx context.Context, sid domain.SessionID) error
	Speak(ctx context.Context, req domain.SpeakRequest) (*domain.TaskInfo, error)
	Interrupt(ctx context.Context, sid domain.SessionID) error
	StartListening(ctx context.Context, sid domain.SessionID) error
	StopListening(ctx context.Context, sid domain.SessionID) error
	KeepAlive(ctx context.Context, sid domain.SessionID) error
}
