package domain

import "encoding/json"

type EventType string

const (
	EventAvatarStartTalking   EventType = "avatar_start_talking"
	EventAvatarStopTalking    EventType = "avatar_stop_talking"
	EventAvatarTalkingMessage EventType = "avatar_talking_message"
	EventAvatarEndMessage     EventType = "avatar_end_message"
	EventUserTalkingMessage   EventType = "user_talking_message"
	EventUserEndMessage       EventType = "user_end_message"

	EventUserStart   EventType = "user_start"
	EventUserStop    EventType = "user_stop"
	EventUserSilence EventType = "user_silence"

	EventStreamReady        EventType = "stream_ready"
	EventStreamDisconnected EventType = "stream_disconnected"
)

// MediaChannelEvents arrive as JSON on the media data channel.
var MediaChannelEvents = []EventType{
	EventAvatarStartTalking,
	EventAvatarStopTalking,
	EventAvatarTalkingMessage,
	EventAvatarEndMessage,
	EventUserTalkingMessage,
	EventUserEndMessage,
}

// ControlSocketEvents arrive as JSON on the control socket.
var ControlSocketEvents = []EventType{
	EventUserStart,
	EventUserStop,
	EventUserSilence,
}

// AllEvents is the full public event surface.
func AllEvents() []EventType {
	out := make([]EventType, 0, len(MediaChannelEvents)+len(ControlSocketEvents)+2)
	out = append(out, MediaChannelEvents...)
	out = append(out, ControlSocketEvents...)
	return append(out, EventStreamReady, EventStreamDisconnected)
}

// Event is the single payload shape delivered to subscribers.
// Fields not relevant to a given Type stay zero.
type Event struct {
	Type         EventType       `json:"type"`
	TaskID       string          `json:"task_id,omitempty"`
	Message      string          `json:"message,omitempty"`
	SilenceTimes int             `json:"silence_times,omitempty"`
	CountDown    float64         `json:"count_down,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Stream       *MediaStream    `json:"-"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

func IsOneOf(t EventType, set []EventType) bool {
	for _, s := range set {
		if s == t {
			return true
		}
	}
	return false
}
