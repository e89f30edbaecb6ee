// Package gateway defines the narrow provider abstractions the recording
// core calls through: durable storage for recorded audio and a
// speech-to-text backend. Implementations live here too; the core only
// sees the interfaces.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"recording-worker/entities"
)

// QualityMetrics is one measurement of call audio health as reported by
// the storage side.
type QualityMetrics struct {
	Timestamp    time.Time `json:"timestamp"`
	AudioQuality float64   `json:"audio_quality"` // 0.0–1.0
	NoiseLevel   float64   `json:"noise_level"`   // 0.0–1.0
	LatencyMs    float64   `json:"latency_ms"`
	PacketLoss   float64   `json:"packet_loss"` // fraction 0.0–1.0
	JitterMs     float64   `json:"jitter_ms"`
}

type RecordingOptions struct {
	CallID       string   `json:"call_id"`
	Participants []string `json:"participants"`
	CulturalTag  string   `json:"cultural_tag,omitempty"`
}

// StorageGateway opens and finalizes recording streams and owns the
// recorded objects afterwards. Every method takes a ctx the caller bounds
// with a timeout; a stalled provider must never stall the core.
type StorageGateway interface {
	Initialize(ctx context.Context) error
	StartRecording(ctx context.Context, sessionID uuid.UUID, opts RecordingOptions) (objectKey string, err error)
	FinalizeRecording(ctx context.Context, sessionID uuid.UUID) (url string, err error)
	AnalyzeQuality(ctx context.Context, sessionID uuid.UUID) (QualityMetrics, error)
	Delete(ctx context.Context, sessionID uuid.UUID) error
	Health(ctx context.Context) error
	Cleanup(ctx context.Context) error
}

// TranscriptionGateway performs transcription for a completed recording.
// Transcribe side-effects a persisted transcript; the core only tracks
// job outcome.
type TranscriptionGateway interface {
	Initialize(ctx context.Context) error
	Transcribe(ctx context.Context, job *entities.TranscriptionJob) error
	Health(ctx context.Context) error
	Cleanup(ctx context.Context) error
}
