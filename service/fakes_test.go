package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"recording-worker/config"
	"recording-worker/constant"
	"recording-worker/entities"
	"recording-worker/gateway"
)

func testRecordingConfig() config.Recording {
	return config.Recording{
		SampleInterval:        10 * time.Millisecond,
		MinQuality:            0.5,
		GatewayTimeout:        time.Second,
		QueueCapacity:         16,
		PollInterval:          10 * time.Millisecond,
		RetentionDays:         30,
		RetentionSweepEvery:   time.Hour,
		TranscriptionEnabled:  true,
		TranscriptionProvider: "whisper",
	}
}

// fakeRepo is an in-memory RecordingRepository. It snapshots entities on
// save so tests can assert what was durably persisted at each step.
type fakeRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]entities.RecordingSession
	jobs     map[uuid.UUID]entities.TranscriptionJob
	saveErr  error
	// honorCtx makes writes fail once their context is done, like a real
	// database driver would.
	honorCtx bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions: make(map[uuid.UUID]entities.RecordingSession),
		jobs:     make(map[uuid.UUID]entities.TranscriptionJob),
	}
}

func (f *fakeRepo) Transaction(ctx context.Context, callback func(ctx context.Context) error, opts ...*sql.TxOptions) error {
	return callback(ctx)
}

func (f *fakeRepo) GetDB() *gorm.DB { return nil }

func (f *fakeRepo) SaveSession(ctx context.Context, session *entities.RecordingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeRepo) FindSessionById(ctx context.Context, id uuid.UUID) (*entities.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := session
	return &copied, nil
}

func (f *fakeRepo) SaveJob(ctx context.Context, job *entities.TranscriptionJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.honorCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	f.jobs[job.ID] = *job
	return nil
}

func (f *fakeRepo) FindJobById(ctx context.Context, id uuid.UUID) (*entities.TranscriptionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := job
	return &copied, nil
}

func (f *fakeRepo) FindJobsByRecordingId(ctx context.Context, recordingId uuid.UUID) ([]*entities.TranscriptionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*entities.TranscriptionJob
	for _, job := range f.jobs {
		if job.RecordingID == recordingId {
			copied := job
			jobs = append(jobs, &copied)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].CreatedAt.Before(jobs[j].CreatedAt) })
	return jobs, nil
}

func (f *fakeRepo) ListJobsByStatus(ctx context.Context, status constant.JobStatus) ([]*entities.TranscriptionJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []*entities.TranscriptionJob
	for _, job := range f.jobs {
		if job.Status == status {
			copied := job
			jobs = append(jobs, &copied)
		}
	}
	return jobs, nil
}

func (f *fakeRepo) ListExpiredSessions(ctx context.Context, before time.Time) ([]*entities.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sessions []*entities.RecordingSession
	for _, session := range f.sessions {
		if !session.State.Terminal() || session.PurgedAt != nil {
			continue
		}
		if session.EndedAt != nil && session.EndedAt.Before(before) {
			copied := session
			sessions = append(sessions, &copied)
		}
	}
	return sessions, nil
}

func (f *fakeRepo) MarkSessionPurged(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	session.PurgedAt = &at
	f.sessions[id] = session
	return nil
}

func (f *fakeRepo) session(id uuid.UUID) (entities.RecordingSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	return session, ok
}

func (f *fakeRepo) jobsForRecording(id uuid.UUID) []entities.TranscriptionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	var jobs []entities.TranscriptionJob
	for _, job := range f.jobs {
		if job.RecordingID == id {
			jobs = append(jobs, job)
		}
	}
	return jobs
}

func (f *fakeRepo) allSessions() []entities.RecordingSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	sessions := make([]entities.RecordingSession, 0, len(f.sessions))
	for _, session := range f.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

func (f *fakeRepo) allJobs() []entities.TranscriptionJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := make([]entities.TranscriptionJob, 0, len(f.jobs))
	for _, job := range f.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// fakeStorage is an in-memory StorageGateway test double.
type fakeStorage struct {
	mu          sync.Mutex
	failStart   bool
	failHealth  bool
	finalizeErr error
	metrics     gateway.QualityMetrics
	metricsErr  error
	deleteErr   map[uuid.UUID]error
	deleted     []uuid.UUID
	// startEntered signals that StartRecording is in flight; startGate
	// holds the call open until closed, simulating a slow storage open.
	startEntered chan struct{}
	startGate    chan struct{}
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		metrics: gateway.QualityMetrics{
			Timestamp:    time.Now().UTC(),
			AudioQuality: 0.9,
			NoiseLevel:   0.1,
			LatencyMs:    40,
			PacketLoss:   0.01,
			JitterMs:     3,
		},
		deleteErr: make(map[uuid.UUID]error),
	}
}

func (f *fakeStorage) Initialize(ctx context.Context) error { return nil }

func (f *fakeStorage) StartRecording(ctx context.Context, sessionID uuid.UUID, opts gateway.RecordingOptions) (string, error) {
	f.mu.Lock()
	fail := f.failStart
	entered := f.startEntered
	gate := f.startGate
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", errors.New("storage open refused")
	}
	return "call-recordings/" + sessionID.String() + "/stream.webm", nil
}

func (f *fakeStorage) FinalizeRecording(ctx context.Context, sessionID uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.finalizeErr != nil {
		return "", f.finalizeErr
	}
	return "https://storage.local/call-recordings/" + sessionID.String(), nil
}

func (f *fakeStorage) AnalyzeQuality(ctx context.Context, sessionID uuid.UUID) (gateway.QualityMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metricsErr != nil {
		return gateway.QualityMetrics{}, f.metricsErr
	}
	return f.metrics, nil
}

func (f *fakeStorage) Delete(ctx context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[sessionID]; ok {
		return err
	}
	f.deleted = append(f.deleted, sessionID)
	return nil
}

func (f *fakeStorage) Health(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHealth {
		return errors.New("bucket unreachable")
	}
	return nil
}

func (f *fakeStorage) Cleanup(ctx context.Context) error { return nil }

// fakeTranscriber is a TranscriptionGateway test double.
type fakeTranscriber struct {
	mu      sync.Mutex
	failFor map[uuid.UUID]error
	delay   time.Duration
	calls   []uuid.UUID
}

func newFakeTranscriber() *fakeTranscriber {
	return &fakeTranscriber{failFor: make(map[uuid.UUID]error)}
}

func (f *fakeTranscriber) Initialize(ctx context.Context) error { return nil }

func (f *fakeTranscriber) Transcribe(ctx context.Context, job *entities.TranscriptionJob) error {
	f.mu.Lock()
	delay := f.delay
	err := f.failFor[job.ID]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, job.ID)
	f.mu.Unlock()
	return nil
}

func (f *fakeTranscriber) Health(ctx context.Context) error { return nil }

func (f *fakeTranscriber) Cleanup(ctx context.Context) error { return nil }

func (f *fakeTranscriber) callOrder() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.calls...)
}
