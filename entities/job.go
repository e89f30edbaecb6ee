package entities

import (
	"time"

	"github.com/google/uuid"
	"recording-worker/constant"
)

type TranscriptionJob struct {
	ID            uuid.UUID            `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	RecordingID   uuid.UUID            `json:"recording_id" gorm:"type:uuid;not null;index:idx_transcription_jobs_recording"`
	Provider      string               `json:"provider" gorm:"type:varchar(64);not null"`
	Priority      constant.JobPriority `json:"priority" gorm:"type:varchar(10);not null;default:'NORMAL'"`
	Status        constant.JobStatus   `json:"status" gorm:"type:varchar(20);not null;index:idx_transcription_jobs_status"`
	Progress      int                  `json:"progress" gorm:"type:integer;default:0"`
	RetryCount    int                  `json:"retry_count" gorm:"type:integer;default:0"`
	RecordingURL  string               `json:"recording_url" gorm:"type:varchar(1024)"`
	FailureReason *string              `json:"failure_reason" gorm:"type:text"`
	CreatedAt     time.Time            `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time            `json:"updated_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (TranscriptionJob) TableName() string {
	return "transcription_jobs"
}
