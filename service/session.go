package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"recording-worker/constant"
	"recording-worker/entities"
	"recording-worker/gateway"
)

// QualitySample is one periodic measurement appended to a session's
// history. Samples are never mutated after insertion.
type QualitySample struct {
	Timestamp    time.Time
	AudioQuality float64
	NoiseLevel   float64
	LatencyMs    float64
	PacketLoss   float64
	JitterMs     float64
}

// legalTransitions is the only edge set a session may follow.
var legalTransitions = map[constant.SessionState][]constant.SessionState{
	constant.SessionStateInitializing: {constant.SessionStateRecording, constant.SessionStateFailed},
	constant.SessionStateRecording:    {constant.SessionStateProcessing, constant.SessionStateFailed},
	constant.SessionStateProcessing:   {constant.SessionStateCompleted, constant.SessionStateFailed},
}

// liveSession is the in-memory side of an active recording session. The
// entity is mutated only under mu, and only by the state machine and the
// quality monitor while the session is live.
type liveSession struct {
	mu        sync.Mutex
	entity    *entities.RecordingSession
	samples   []QualitySample
	monitor   *QualityMonitor
	objectKey string
	live      bool

	// priority is the transcription priority requested at start time.
	// Immutable after creation; a stop may still override it.
	priority constant.JobPriority
}

func newLiveSession(callID string, participants []string, culturalTag string, priority constant.JobPriority) *liveSession {
	now := time.Now().UTC()
	encoded, _ := json.Marshal(participants)
	entity := &entities.RecordingSession{
		ID:           uuid.New(),
		CallID:       callID,
		Participants: string(encoded),
		State:        constant.SessionStateInitializing,
		StartedAt:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if culturalTag != "" {
		entity.CulturalTag = &culturalTag
	}
	if priority == "" {
		priority = constant.JobPriorityNormal
	}
	return &liveSession{entity: entity, live: true, priority: priority}
}

// advance moves the session along the legal transition graph. Callers hold mu.
func (s *liveSession) advance(to constant.SessionState) error {
	from := s.entity.State
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			s.entity.State = to
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %s -> %s", from, to)
}

// appendSample records a quality measurement if the session is still live.
// A tick racing with finalization sees live=false and drops the sample.
func (s *liveSession) appendSample(sample QualitySample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live || s.entity.State != constant.SessionStateRecording {
		return false
	}
	s.samples = append(s.samples, sample)
	return true
}

// aggregate folds the sample history into the entity's quality columns.
// final carries the gateway-reported totals from finalization, counted as
// one more sample when present. Callers hold mu.
func (s *liveSession) aggregate(final *gateway.QualityMetrics) {
	samples := s.samples
	if final != nil {
		samples = append(samples, QualitySample{
			Timestamp:    final.Timestamp,
			AudioQuality: final.AudioQuality,
			NoiseLevel:   final.NoiseLevel,
			LatencyMs:    final.LatencyMs,
			PacketLoss:   final.PacketLoss,
			JitterMs:     final.JitterMs,
		})
	}
	n := len(samples)
	s.entity.SampleCount = n
	if n == 0 {
		return
	}
	var quality, noise, latency, loss, jitter float64
	for _, sample := range samples {
		quality += sample.AudioQuality
		noise += sample.NoiseLevel
		latency += sample.LatencyMs
		loss += sample.PacketLoss
		jitter += sample.JitterMs
	}
	fn := float64(n)
	s.entity.AvgAudioQuality = quality / fn
	s.entity.AvgNoiseLevel = noise / fn
	s.entity.AvgLatencyMs = latency / fn
	s.entity.AvgPacketLoss = loss / fn
	s.entity.AvgJitterMs = jitter / fn
}
