package entities

import (
	"time"

	"github.com/google/uuid"
	"recording-worker/constant"
)

type RecordingSession struct {
	ID              uuid.UUID             `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CallID          string                `json:"call_id" gorm:"type:varchar(128);not null;index:idx_recording_sessions_call_id"`
	Participants    string                `json:"participants" gorm:"type:jsonb;not null"`
	State           constant.SessionState `json:"state" gorm:"type:varchar(20);not null;index:idx_recording_sessions_state"`
	CulturalTag     *string               `json:"cultural_tag" gorm:"type:varchar(64)"`
	StartedAt       time.Time             `json:"started_at" gorm:"type:timestamptz;not null"`
	EndedAt         *time.Time            `json:"ended_at" gorm:"type:timestamptz"`
	DurationSeconds int                   `json:"duration_seconds" gorm:"type:integer;default:0"`
	RecordingURL    *string               `json:"recording_url" gorm:"type:varchar(1024)"`
	FailureReason   *string               `json:"failure_reason" gorm:"type:text"`

	// Quality aggregate, written once on finalize.
	AvgAudioQuality float64 `json:"avg_audio_quality" gorm:"type:double precision;default:0"`
	AvgNoiseLevel   float64 `json:"avg_noise_level" gorm:"type:double precision;default:0"`
	AvgLatencyMs    float64 `json:"avg_latency_ms" gorm:"type:double precision;default:0"`
	AvgPacketLoss   float64 `json:"avg_packet_loss" gorm:"type:double precision;default:0"`
	AvgJitterMs     float64 `json:"avg_jitter_ms" gorm:"type:double precision;default:0"`
	SampleCount     int     `json:"sample_count" gorm:"type:integer;default:0"`

	PurgedAt  *time.Time `json:"purged_at" gorm:"type:timestamptz"`
	CreatedAt time.Time  `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (RecordingSession) TableName() string {
	return "recording_sessions"
}
