package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"recording-worker/config"
	"recording-worker/constant"
	"recording-worker/dto"
	"recording-worker/entities"
	"recording-worker/gateway"
	"recording-worker/pkg/apperror"
	"recording-worker/repository"
)

// Orchestrator coordinates the recording session lifecycle, the quality
// monitors, the transcription dispatcher and the retention sweep, and owns
// the shutdown drain sequence.
type Orchestrator struct {
	cfg         config.Recording
	repo        repository.RecordingRepository
	storage     gateway.StorageGateway
	transcriber gateway.TranscriptionGateway
	registry    *Registry
	queue       *JobQueue
	dispatcher  *Dispatcher
	retention   *RetentionEnforcer

	// lifeCtx outlives individual requests; monitors and loops hang off it.
	lifeCtx   context.Context
	runCancel context.CancelFunc
	shut      atomic.Bool
}

func NewOrchestrator(
	cfg config.Recording,
	repo repository.RecordingRepository,
	storage gateway.StorageGateway,
	transcriber gateway.TranscriptionGateway,
) *Orchestrator {
	queue := NewJobQueue(cfg.QueueCapacity)
	return &Orchestrator{
		cfg:         cfg,
		repo:        repo,
		storage:     storage,
		transcriber: transcriber,
		registry:    NewRegistry(),
		queue:       queue,
		dispatcher:  NewDispatcher(queue, transcriber, repo, cfg.GatewayTimeout, cfg.PollInterval),
		retention:   NewRetentionEnforcer(repo, storage, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.RetentionSweepEvery, cfg.GatewayTimeout),
		lifeCtx:     context.Background(),
	}
}

// Run launches the dispatcher and retention loops. It returns immediately;
// the loops stop when Shutdown is called.
func (o *Orchestrator) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.lifeCtx = runCtx
	o.runCancel = cancel
	go o.dispatcher.Run(runCtx)
	go o.retention.Run(runCtx)
}

// StartRecording validates the request, registers the session and opens
// the storage stream. On gateway failure the session is persisted FAILED
// and no registry entry is left behind.
func (o *Orchestrator) StartRecording(ctx context.Context, req dto.StartRecordingRequest) dto.OperationResult {
	started := time.Now()

	if o.shut.Load() {
		return failure(started, apperror.Unavailable("orchestrator is shut down"))
	}
	if req.CallID == "" {
		return failure(started, apperror.Validation("callId is required"))
	}
	if len(req.Participants) == 0 {
		return failure(started, apperror.Validation("participants must not be empty"))
	}

	sess := newLiveSession(req.CallID, req.Participants, req.CulturalTag, req.Priority)
	if err := o.registry.Add(sess); err != nil {
		return failure(started, err)
	}

	logger := zerolog.Ctx(ctx).With().
		Str("session_id", sess.entity.ID.String()).
		Str("call_id", req.CallID).
		Logger()

	if err := o.repo.SaveSession(ctx, sess.entity); err != nil {
		o.registry.Remove(sess.entity.ID)
		logger.Error().Err(err).Msg("failed to persist new session")
		return failure(started, apperror.Provider("persistence", err))
	}

	sess.mu.Lock()
	if sess.entity.State != constant.SessionStateInitializing {
		// Shutdown failed the session between registration and persist.
		// Re-persist so the terminal record wins the write race.
		sess.mu.Unlock()
		if err := o.repo.SaveSession(ctx, sess.entity); err != nil {
			logger.Error().Err(err).Msg("failed to persist failed session")
		}
		return failure(started, apperror.Unavailable("orchestrator is shut down"))
	}
	sess.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	objectKey, err := o.storage.StartRecording(callCtx, sess.entity.ID, gateway.RecordingOptions{
		CallID:       req.CallID,
		Participants: req.Participants,
		CulturalTag:  req.CulturalTag,
	})
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("storage gateway rejected recording start")
		o.failSession(ctx, sess, "storage start failed: "+err.Error())
		return failure(started, apperror.Provider("storage", err))
	}

	sess.mu.Lock()
	sess.objectKey = objectKey
	if err := sess.advance(constant.SessionStateRecording); err != nil {
		// The only way out of INITIALIZING behind our back is the shutdown
		// drain failing the session while the storage open was in flight.
		sess.mu.Unlock()
		logger.Warn().Msg("session was drained by shutdown before recording began")
		return failure(started, apperror.Unavailable("orchestrator is shut down"))
	}
	sess.monitor = o.newMonitor(sess)
	sess.mu.Unlock()

	if err := o.repo.SaveSession(ctx, sess.entity); err != nil {
		logger.Error().Err(err).Msg("failed to persist recording state")
	}
	// Samplers outlive the request; they hang off the orchestrator lifetime.
	sess.monitor.Start(o.lifeCtx)

	logger.Info().Str("object_key", objectKey).Msg("recording session started")
	return success(started, o.sessionView(sess.entity), nil)
}

// StopRecording finalizes an active session: cancels its monitor, obtains
// the durable URL, persists the terminal record and enqueues a
// transcription job. The session leaves the registry only after the
// terminal persist succeeded.
func (o *Orchestrator) StopRecording(ctx context.Context, sessionID uuid.UUID) dto.OperationResult {
	started := time.Now()
	return o.stopSession(ctx, sessionID, started, "")
}

// StopRecordingWithPriority is StopRecording with an explicit transcription
// priority overriding the one requested at start time.
func (o *Orchestrator) StopRecordingWithPriority(ctx context.Context, sessionID uuid.UUID, priority constant.JobPriority) dto.OperationResult {
	started := time.Now()
	return o.stopSession(ctx, sessionID, started, priority)
}

func (o *Orchestrator) stopSession(ctx context.Context, sessionID uuid.UUID, started time.Time, priority constant.JobPriority) dto.OperationResult {
	sess, ok := o.registry.Get(sessionID)
	if !ok {
		return failure(started, apperror.NotFound("session", sessionID.String()))
	}
	if priority == "" {
		priority = sess.priority
	}

	logger := zerolog.Ctx(ctx).With().
		Str("session_id", sessionID.String()).
		Str("call_id", sess.entity.CallID).
		Logger()

	// Leave RECORDING under the session lock so a concurrent second stop
	// fails fast and no further samples are accepted.
	sess.mu.Lock()
	if sess.entity.State != constant.SessionStateRecording {
		sess.mu.Unlock()
		return failure(started, apperror.NotFound("session", sessionID.String()))
	}
	if err := sess.advance(constant.SessionStateProcessing); err != nil {
		sess.mu.Unlock()
		return failure(started, apperror.NotFound("session", sessionID.String()))
	}
	sess.live = false
	now := time.Now().UTC()
	sess.entity.EndedAt = &now
	sess.entity.DurationSeconds = int(now.Sub(sess.entity.StartedAt).Seconds())
	monitor := sess.monitor
	sess.mu.Unlock()

	// Await any in-flight sample write before finalizing.
	if monitor != nil {
		monitor.Stop()
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	url, err := o.storage.FinalizeRecording(callCtx, sessionID)
	cancel()

	if err != nil {
		logger.Error().Err(err).Msg("storage gateway failed to finalize recording")
		sess.mu.Lock()
		sess.aggregate(nil)
		reason := "storage finalize failed: " + err.Error()
		sess.entity.FailureReason = &reason
		_ = sess.advance(constant.SessionStateFailed)
		sess.mu.Unlock()
		if persistErr := o.repo.SaveSession(ctx, sess.entity); persistErr != nil {
			logger.Error().Err(persistErr).Msg("failed to persist failed session; keeping it registered")
			return failure(started, apperror.Provider("persistence", persistErr))
		}
		o.registry.Remove(sessionID)
		return failure(started, apperror.Provider("storage", err))
	}

	var final *gateway.QualityMetrics
	callCtx, cancel = context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	if metrics, qErr := o.storage.AnalyzeQuality(callCtx, sessionID); qErr == nil {
		final = &metrics
	} else {
		logger.Debug().Err(qErr).Msg("final quality analysis unavailable; using collected samples only")
	}
	cancel()

	sess.mu.Lock()
	sess.aggregate(final)
	sess.entity.RecordingURL = &url
	_ = sess.advance(constant.SessionStateCompleted)
	sess.mu.Unlock()

	if err := o.repo.SaveSession(ctx, sess.entity); err != nil {
		logger.Error().Err(err).Msg("failed to persist completed session; keeping it registered")
		return failure(started, apperror.Provider("persistence", err))
	}

	var jobView *dto.JobView
	if o.cfg.TranscriptionEnabled {
		job := &entities.TranscriptionJob{
			ID:           uuid.New(),
			RecordingID:  sessionID,
			Provider:     o.cfg.TranscriptionProvider,
			Priority:     priority,
			Status:       constant.JobStatusQueued,
			RecordingURL: url,
			CreatedAt:    time.Now().UTC(),
		}
		if err := o.enqueueJob(ctx, job); err != nil {
			logger.Error().Err(err).Msg("failed to enqueue transcription job")
		} else {
			v := jobToView(job)
			jobView = &v
		}
	}

	o.registry.Remove(sessionID)
	logger.Info().
		Int("duration_seconds", sess.entity.DurationSeconds).
		Int("samples", sess.entity.SampleCount).
		Msg("recording session completed")
	return success(started, o.sessionView(sess.entity), jobView)
}

func (o *Orchestrator) enqueueJob(ctx context.Context, job *entities.TranscriptionJob) error {
	if err := o.repo.SaveJob(ctx, job); err != nil {
		return apperror.Provider("persistence", err)
	}
	return o.queue.Enqueue(job)
}

// failSession persists a start-path failure and removes the registry entry
// so nothing dangles.
func (o *Orchestrator) failSession(ctx context.Context, sess *liveSession, reason string) {
	sess.mu.Lock()
	sess.live = false
	sess.entity.FailureReason = &reason
	now := time.Now().UTC()
	sess.entity.EndedAt = &now
	sess.entity.State = constant.SessionStateFailed
	sess.mu.Unlock()

	if err := o.repo.SaveSession(ctx, sess.entity); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("session_id", sess.entity.ID.String()).
			Msg("failed to persist failed session")
	}
	o.registry.Remove(sess.entity.ID)
}

// failStarting fails a session still waiting on its storage open. The
// state check and the transition share one critical section, so a start
// that just advanced to RECORDING is left for the stop path instead.
func (o *Orchestrator) failStarting(ctx context.Context, sess *liveSession, reason string) bool {
	sess.mu.Lock()
	if sess.entity.State != constant.SessionStateInitializing {
		sess.mu.Unlock()
		return false
	}
	sess.live = false
	sess.entity.FailureReason = &reason
	now := time.Now().UTC()
	sess.entity.EndedAt = &now
	sess.entity.State = constant.SessionStateFailed
	sess.mu.Unlock()

	if err := o.repo.SaveSession(ctx, sess.entity); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).
			Str("session_id", sess.entity.ID.String()).
			Msg("failed to persist failed session")
	}
	o.registry.Remove(sess.entity.ID)
	return true
}

func (o *Orchestrator) newMonitor(sess *liveSession) *QualityMonitor {
	sessionID := sess.entity.ID
	return NewQualityMonitor(o.cfg.SampleInterval, func(tickCtx context.Context) {
		callCtx, cancel := context.WithTimeout(tickCtx, o.cfg.GatewayTimeout)
		metrics, err := o.storage.AnalyzeQuality(callCtx, sessionID)
		cancel()
		if err != nil {
			zerolog.Ctx(tickCtx).Debug().Err(err).
				Str("session_id", sessionID.String()).
				Msg("quality sample unavailable")
			return
		}

		sample := QualitySample{
			Timestamp:    metrics.Timestamp,
			AudioQuality: metrics.AudioQuality,
			NoiseLevel:   metrics.NoiseLevel,
			LatencyMs:    metrics.LatencyMs,
			PacketLoss:   metrics.PacketLoss,
			JitterMs:     metrics.JitterMs,
		}
		if !sess.appendSample(sample) {
			return
		}
		if metrics.AudioQuality < o.cfg.MinQuality {
			zerolog.Ctx(tickCtx).Warn().
				Str("session_id", sessionID.String()).
				Float64("audio_quality", metrics.AudioQuality).
				Float64("threshold", o.cfg.MinQuality).
				Msg("audio quality below threshold")
		}
	})
}

// GetStatus answers from the registry for active sessions and falls back
// to the repository for finished ones.
func (o *Orchestrator) GetStatus(ctx context.Context, sessionID uuid.UUID) dto.OperationResult {
	started := time.Now()

	if sess, ok := o.registry.Get(sessionID); ok {
		sess.mu.Lock()
		view := o.sessionView(sess.entity)
		sess.mu.Unlock()
		return success(started, view, nil)
	}

	session, err := o.repo.FindSessionById(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return failure(started, apperror.NotFound("session", sessionID.String()))
		}
		return failure(started, apperror.Provider("persistence", err))
	}
	return success(started, o.sessionView(session), nil)
}

// GetTranscriptionStatus reports the most recent transcription job for a
// recording.
func (o *Orchestrator) GetTranscriptionStatus(ctx context.Context, recordingID uuid.UUID) dto.OperationResult {
	started := time.Now()

	jobs, err := o.repo.FindJobsByRecordingId(ctx, recordingID)
	if err != nil {
		return failure(started, apperror.Provider("persistence", err))
	}
	if len(jobs) == 0 {
		return failure(started, apperror.NotFound("transcription job", recordingID.String()))
	}

	latest := jobs[len(jobs)-1]
	view := jobToView(latest)
	return success(started, nil, &view)
}

// RequeueJob schedules another attempt for a failed job. Terminal
// statuses never regress, so the retry is a fresh job carrying the
// original's retry count plus one. This is the only retry path; the
// dispatcher itself is fail-fast.
func (o *Orchestrator) RequeueJob(ctx context.Context, jobID uuid.UUID) dto.OperationResult {
	started := time.Now()

	if o.shut.Load() {
		return failure(started, apperror.Unavailable("orchestrator is shut down"))
	}

	failed, err := o.repo.FindJobById(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return failure(started, apperror.NotFound("transcription job", jobID.String()))
		}
		return failure(started, apperror.Provider("persistence", err))
	}
	if failed.Status != constant.JobStatusFailed {
		return failure(started, apperror.Validation("only failed jobs can be requeued"))
	}

	retry := &entities.TranscriptionJob{
		ID:           uuid.New(),
		RecordingID:  failed.RecordingID,
		Provider:     failed.Provider,
		Priority:     failed.Priority,
		Status:       constant.JobStatusQueued,
		RetryCount:   failed.RetryCount + 1,
		RecordingURL: failed.RecordingURL,
		CreatedAt:    time.Now().UTC(),
	}
	if err := o.enqueueJob(ctx, retry); err != nil {
		return failure(started, err)
	}

	view := jobToView(retry)
	return success(started, nil, &view)
}

// Recover reloads persisted queue state after a restart: QUEUED jobs go
// back into the priority queue and jobs left PROCESSING by a crash are
// re-queued with their retry count bumped.
func (o *Orchestrator) Recover(ctx context.Context) error {
	queued, err := o.repo.ListJobsByStatus(ctx, constant.JobStatusQueued)
	if err != nil {
		return apperror.Provider("persistence", err)
	}
	for _, job := range queued {
		if err := o.queue.Enqueue(job); err != nil {
			return err
		}
	}

	interrupted, err := o.repo.ListJobsByStatus(ctx, constant.JobStatusProcessing)
	if err != nil {
		return apperror.Provider("persistence", err)
	}
	for _, job := range interrupted {
		job.Status = constant.JobStatusQueued
		job.Progress = 0
		job.RetryCount++
		if err := o.repo.SaveJob(ctx, job); err != nil {
			return apperror.Provider("persistence", err)
		}
		if err := o.queue.Enqueue(job); err != nil {
			return err
		}
	}

	if len(queued) > 0 || len(interrupted) > 0 {
		zerolog.Ctx(ctx).Info().
			Int("queued", len(queued)).
			Int("interrupted", len(interrupted)).
			Msg("recovered transcription jobs from persistence")
	}
	return nil
}

// Health reports gateway reachability together with live counters.
func (o *Orchestrator) Health(ctx context.Context) dto.HealthReport {
	report := dto.HealthReport{
		Status:         "ok",
		ActiveSessions: o.registry.Count(),
		QueueDepth:     o.queue.Len(),
		Storage:        "ok",
		Transcription:  "ok",
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()
	if err := o.storage.Health(callCtx); err != nil {
		report.Status = "degraded"
		report.Storage = err.Error()
	}
	if err := o.transcriber.Health(callCtx); err != nil {
		report.Status = "degraded"
		report.Transcription = err.Error()
	}
	if o.shut.Load() {
		report.Status = "shutdown"
	}
	return report
}

// ActiveMonitorCount reports how many quality samplers are running.
func (o *Orchestrator) ActiveMonitorCount() int {
	count := 0
	for _, sess := range o.registry.Active() {
		sess.mu.Lock()
		if sess.monitor != nil && sess.monitor.Running() {
			count++
		}
		sess.mu.Unlock()
	}
	return count
}

// Shutdown drains everything: stops every registered session through the
// normal stop path (failing ones still waiting on their storage open),
// waits for the in-flight dispatcher job, fails the remaining queued jobs
// with a shutdown reason and only then releases the gateways. No session
// or job is left non-terminal.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.shut.CompareAndSwap(false, true) {
		return nil
	}
	zerolog.Ctx(ctx).Info().Msg("orchestrator shutdown started")
	o.registry.Close()

	// Loop until the registry is empty: a start that passed the shut check
	// before we flipped it may still be registering work.
	for {
		active := o.registry.Active()
		if len(active) == 0 {
			break
		}
		for _, sess := range active {
			sess.mu.Lock()
			state := sess.entity.State
			sess.mu.Unlock()

			switch state {
			case constant.SessionStateRecording:
				result := o.stopSession(ctx, sess.entity.ID, time.Now(), "")
				if !result.Success {
					zerolog.Ctx(ctx).Warn().
						Str("session_id", sess.entity.ID.String()).
						Str("error_code", result.ErrorCode).
						Msg("session did not stop cleanly during shutdown")
				}
			case constant.SessionStateInitializing:
				o.failStarting(ctx, sess, "shutdown")
			default:
				// A stop is mid-flight on another goroutine; it deregisters
				// the session when it finishes.
			}
		}
		if ctx.Err() != nil {
			zerolog.Ctx(ctx).Error().Int("remaining", o.registry.Count()).
				Msg("shutdown context expired before the registry drained")
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if o.runCancel != nil {
		o.runCancel()
		<-o.dispatcher.Done()
		<-o.retention.Done()
	}

	remaining := o.queue.DrainClose()
	for _, job := range remaining {
		reason := "shutdown"
		job.Status = constant.JobStatusFailed
		job.FailureReason = &reason
		if err := o.repo.SaveJob(ctx, job); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).
				Str("job_id", job.ID.String()).
				Msg("failed to persist shutdown-failed job")
		}
	}
	if len(remaining) > 0 {
		zerolog.Ctx(ctx).Info().Int("failed_by_shutdown", len(remaining)).Msg("queued jobs failed by shutdown")
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.GatewayTimeout)
	defer cancel()
	if err := o.storage.Cleanup(callCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("storage gateway cleanup failed")
	}
	if err := o.transcriber.Cleanup(callCtx); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("transcription gateway cleanup failed")
	}

	zerolog.Ctx(ctx).Info().Msg("orchestrator shutdown finished")
	return nil
}

func (o *Orchestrator) sessionView(session *entities.RecordingSession) *dto.SessionView {
	var participants []string
	_ = json.Unmarshal([]byte(session.Participants), &participants)

	view := &dto.SessionView{
		ID:              session.ID,
		CallID:          session.CallID,
		Participants:    participants,
		State:           session.State,
		StartedAt:       session.StartedAt,
		EndedAt:         session.EndedAt,
		DurationSeconds: session.DurationSeconds,
	}
	if session.CulturalTag != nil {
		view.CulturalTag = *session.CulturalTag
	}
	if session.RecordingURL != nil {
		view.RecordingURL = *session.RecordingURL
	}
	if session.SampleCount > 0 {
		view.Quality = &dto.QualityAggregate{
			AvgAudioQuality: session.AvgAudioQuality,
			AvgNoiseLevel:   session.AvgNoiseLevel,
			AvgLatencyMs:    session.AvgLatencyMs,
			AvgPacketLoss:   session.AvgPacketLoss,
			AvgJitterMs:     session.AvgJitterMs,
			SampleCount:     session.SampleCount,
		}
	}
	return view
}

func jobToView(job *entities.TranscriptionJob) dto.JobView {
	view := dto.JobView{
		ID:          job.ID,
		RecordingID: job.RecordingID,
		Provider:    job.Provider,
		Priority:    job.Priority,
		Status:      job.Status,
		Progress:    job.Progress,
		RetryCount:  job.RetryCount,
	}
	if job.FailureReason != nil {
		view.Failure = *job.FailureReason
	}
	return view
}

func success(started time.Time, session *dto.SessionView, job *dto.JobView) dto.OperationResult {
	return dto.OperationResult{
		Success:   true,
		ElapsedMs: time.Since(started).Milliseconds(),
		Timestamp: time.Now().UTC(),
		Session:   session,
		Job:       job,
	}
}

func failure(started time.Time, err error) dto.OperationResult {
	return dto.OperationResult{
		Success:   false,
		ErrorCode: string(apperror.CodeOf(err)),
		Error:     err.Error(),
		ElapsedMs: time.Since(started).Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
}
