// Package metrics holds the Prometheus collectors of the avatar client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsDispatched counts events emitted on the bus, by event type.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_events_dispatched_total",
		Help: "Total number of events dispatched to subscribers",
	}, []string{"type"})

	// HandlerPanics counts subscriber handlers that panicked during dispatch.
	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_event_handler_panics_total",
		Help: "Total number of recovered panics in event handlers",
	}, []string{"type"})

	// InboundDropped counts inbound channel messages that could not be decoded.
	InboundDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_inbound_dropped_total",
		Help: "Total number of malformed or unknown inbound messages",
	}, []string{"channel"})

	// AudioBlocks counts captured audio blocks by outcome (sent, dropped, failed).
	AudioBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_audio_blocks_total",
		Help: "Total number of captured audio blocks",
	}, []string{"outcome"})

	// FramesSent counts control-socket frames handed to the write queue.
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_socket_frames_sent_total",
		Help: "Total number of frames queued on the control socket",
	}, []string{"kind"})

	// RTPPacketsDropped counts inbound RTP packets dropped because nobody
	// drained the track queue in time, by track kind.
	RTPPacketsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_rtp_packets_dropped_total",
		Help: "Total number of inbound RTP packets dropped on a full track queue",
	}, []string{"kind"})

	// SessionTransitions counts orchestrator state changes, by target state.
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_session_transitions_total",
		Help: "Total number of session state transitions",
	}, []string{"state"})

	// ControlPlaneRequests counts REST calls by endpoint and status code.
	ControlPlaneRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "avatar_control_plane_requests_total",
		Help: "Total number of control plane requests",
	}, []string{"endpoint", "status"})
)
