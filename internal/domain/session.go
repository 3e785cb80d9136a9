// Package domain contains entity without logic, just meta-data
package domain

type SessionID string

// SessionInfo is what the control plane hands back for a freshly created session.
// It never changes after creation.
type SessionInfo struct {
	SessionID     SessionID `json:"session_id"`
	URL           string    `json:"url"`
	AccessToken   string    `json:"access_token"`
	DurationLimit int       `json:"session_duration_limit"`
	IsPaid        bool      `json:"is_paid"`
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

type VoiceSetting struct {
	VoiceID string  `json:"voice_id,omitempty"`
	Rate    float64 `json:"rate,omitempty"`
	Emotion string  `json:"emotion,omitempty"`
}

// StartRequest describes the avatar to bring up.
type StartRequest struct {
	AvatarName          string        `json:"avatar_name,omitempty"`
	Quality             Quality       `json:"quality,omitempty"`
	Voice               *VoiceSetting `json:"voice,omitempty"`
	KnowledgeID         string        `json:"knowledge_id,omitempty"`
	KnowledgeBase       string        `json:"knowledge_base,omitempty"`
	Language            string        `json:"language,omitempty"`
	DisableIdleTimeout  bool          `json:"disable_idle_timeout,omitempty"`
	ActivityIdleTimeout int           `json:"activity_idle_timeout,omitempty"`
}

type TaskType string

const TaskTypeTalk TaskType = "talk"

type TaskMode string

const TaskModeAsync TaskMode = "async"

type SpeakRequest struct {
	SessionID SessionID `json:"session_id"`
	Text      string    `json:"text"`
	TaskType  TaskType  `json:"task_type"`
	TaskMode  TaskMode  `json:"task_mode"`
}

type TaskInfo struct {
	TaskID   string  `json:"task_id"`
	Duration float64 `json:"duration_ms,omitempty"`
}

// SpeakTransport names the path a speak request took.
type SpeakTransport string

const (
	SpeakViaSocket SpeakTransport = "socket"
	SpeakViaREST   SpeakTransport = "rest"
)

type SpeakResult struct {
	Transport SpeakTransport `json:"transport"`
	TaskID    string         `json:"task_id,omitempty"`
}
