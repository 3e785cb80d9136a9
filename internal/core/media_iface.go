package core

import (
	"context"

	"github.com/dkeye/Avatar/internal/domain"
)

// MediaTransport is the real-time media connection to the avatar.
// Callbacks must be registered before Connect so nothing is missed.
type MediaTransport interface {
	// PrepareConnection warms up the route to url. Best effort.
	PrepareConnection(ctx context.Context, url, token string) error
	// Connect returns once the media session is usable.
	Connect(ctx context.Context, url, token string) error
	// Disconnect tears the connection down and fires OnDisconnected.
	Disconnect() error
	// OnDataReceived is invoked for every inbound data message.
	OnDataReceived(func(data []byte))
	OnTrackSubscribed(func(track domain.Track))
	OnTrackUnsubscribed(func(track domain.Track))
	// OnDisconnected fires once per connection, whatever the reason.
	OnDisconnected(func(reason string))
}
