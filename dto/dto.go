package dto

import (
	"time"

	"github.com/google/uuid"
	"recording-worker/constant"
)

type StartRecordingRequest struct {
	CallID       string               `json:"callId" binding:"required"`
	Participants []string             `json:"participants" binding:"required"`
	CulturalTag  string               `json:"culturalTag,omitempty"`
	Priority     constant.JobPriority `json:"priority,omitempty"`
}

// OperationResult is the envelope every public orchestrator operation
// returns: callers always get a definitive outcome with timing attached.
type OperationResult struct {
	Success   bool         `json:"success"`
	ErrorCode string       `json:"errorCode,omitempty"`
	Error     string       `json:"error,omitempty"`
	ElapsedMs int64        `json:"elapsedMs"`
	Timestamp time.Time    `json:"timestamp"`
	Session   *SessionView `json:"session,omitempty"`
	Job       *JobView     `json:"job,omitempty"`
}

type SessionView struct {
	ID              uuid.UUID             `json:"id"`
	CallID          string                `json:"callId"`
	Participants    []string              `json:"participants"`
	State           constant.SessionState `json:"state"`
	CulturalTag     string                `json:"culturalTag,omitempty"`
	StartedAt       time.Time             `json:"startedAt"`
	EndedAt         *time.Time            `json:"endedAt,omitempty"`
	DurationSeconds int                   `json:"durationSeconds"`
	RecordingURL    string                `json:"recordingUrl,omitempty"`
	Quality         *QualityAggregate     `json:"quality,omitempty"`
}

type QualityAggregate struct {
	AvgAudioQuality float64 `json:"avgAudioQuality"`
	AvgNoiseLevel   float64 `json:"avgNoiseLevel"`
	AvgLatencyMs    float64 `json:"avgLatencyMs"`
	AvgPacketLoss   float64 `json:"avgPacketLoss"`
	AvgJitterMs     float64 `json:"avgJitterMs"`
	SampleCount     int     `json:"sampleCount"`
}

type JobView struct {
	ID          uuid.UUID            `json:"id"`
	RecordingID uuid.UUID            `json:"recordingId"`
	Provider    string               `json:"provider"`
	Priority    constant.JobPriority `json:"priority"`
	Status      constant.JobStatus   `json:"status"`
	Progress    int                  `json:"progress"`
	RetryCount  int                  `json:"retryCount"`
	Failure     string               `json:"failure,omitempty"`
}

type HealthReport struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	QueueDepth     int    `json:"queueDepth"`
	Storage        string `json:"storage"`
	Transcription  string `json:"transcription"`
}

// ControlMessage is the broker-side command shape consumed from the
// recording control queue.
type ControlMessage struct {
	Action       string               `json:"action"` // "start" or "stop"
	SessionID    uuid.UUID            `json:"sessionId,omitempty"`
	CallID       string               `json:"callId,omitempty"`
	Participants []string             `json:"participants,omitempty"`
	CulturalTag  string               `json:"culturalTag,omitempty"`
	Priority     constant.JobPriority `json:"priority,omitempty"`
}
