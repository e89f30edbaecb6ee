package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"recording-worker/constant"
	"recording-worker/dto"
)

func newTestOrchestrator(repo *fakeRepo, storage *fakeStorage, transcriber *fakeTranscriber) *Orchestrator {
	return NewOrchestrator(testRecordingConfig(), repo, storage, transcriber)
}

func startTestSession(t *testing.T, o *Orchestrator, callID string) uuid.UUID {
	t.Helper()
	result := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       callID,
		Participants: []string{"p1", "p2"},
	})
	if !result.Success {
		t.Fatalf("start recording failed: %s", result.Error)
	}
	return result.Session.ID
}

func TestStartRecording_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())

	result := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c1",
		Participants: []string{"p1"},
		CulturalTag:  "formal",
	})

	if !result.Success {
		t.Fatalf("start failed: %s", result.Error)
	}
	if result.Session.State != constant.SessionStateRecording {
		t.Errorf("session state = %s, want RECORDING", result.Session.State)
	}
	if o.registry.Count() != 1 {
		t.Errorf("registry count = %d, want 1", o.registry.Count())
	}
	if o.ActiveMonitorCount() != 1 {
		t.Errorf("active monitors = %d, want 1", o.ActiveMonitorCount())
	}

	persisted, ok := repo.session(result.Session.ID)
	if !ok {
		t.Fatal("session not persisted")
	}
	if persisted.State != constant.SessionStateRecording {
		t.Errorf("persisted state = %s, want RECORDING", persisted.State)
	}

	// Leave no timer behind.
	o.StopRecording(context.Background(), result.Session.ID)
}

func TestStartRecording_Validation(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())

	result := o.StartRecording(context.Background(), dto.StartRecordingRequest{CallID: "c1"})
	if result.Success {
		t.Fatal("expected start without participants to fail")
	}
	if result.ErrorCode != "VALIDATION" {
		t.Errorf("error code = %s, want VALIDATION", result.ErrorCode)
	}

	result = o.StartRecording(context.Background(), dto.StartRecordingRequest{Participants: []string{"p1"}})
	if result.ErrorCode != "VALIDATION" {
		t.Errorf("error code = %s, want VALIDATION", result.ErrorCode)
	}

	// Fail-fast: nothing was registered or persisted.
	if o.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", o.registry.Count())
	}
	if len(repo.sessions) != 0 {
		t.Errorf("persisted sessions = %d, want 0", len(repo.sessions))
	}
}

func TestStartRecording_DuplicateCall(t *testing.T) {
	o := newTestOrchestrator(newFakeRepo(), newFakeStorage(), newFakeTranscriber())

	id := startTestSession(t, o, "c1")

	result := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c1",
		Participants: []string{"p3"},
	})
	if result.Success {
		t.Fatal("expected duplicate start to fail")
	}
	if result.ErrorCode != "CONCURRENCY" {
		t.Errorf("error code = %s, want CONCURRENCY", result.ErrorCode)
	}

	o.StopRecording(context.Background(), id)
}

func TestStartRecording_StorageFailure(t *testing.T) {
	repo := newFakeRepo()
	storage := newFakeStorage()
	storage.failStart = true
	o := newTestOrchestrator(repo, storage, newFakeTranscriber())

	result := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c1",
		Participants: []string{"p1"},
	})
	if result.Success {
		t.Fatal("expected start to fail when storage open fails")
	}
	if result.ErrorCode != "PROVIDER" {
		t.Errorf("error code = %s, want PROVIDER", result.ErrorCode)
	}

	// No dangling registry entry, and the failure was persisted.
	if o.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", o.registry.Count())
	}
	if o.ActiveMonitorCount() != 0 {
		t.Errorf("active monitors = %d, want 0", o.ActiveMonitorCount())
	}
	var found bool
	for _, session := range repo.sessions {
		if session.CallID == "c1" {
			found = true
			if session.State != constant.SessionStateFailed {
				t.Errorf("persisted state = %s, want FAILED", session.State)
			}
		}
	}
	if !found {
		t.Error("failed session was not persisted")
	}

	// The call id is free for a fresh attempt.
	storage.mu.Lock()
	storage.failStart = false
	storage.mu.Unlock()
	restart := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c1",
		Participants: []string{"p1"},
	})
	if !restart.Success {
		t.Fatalf("restart after failure rejected: %s", restart.Error)
	}
	o.StopRecording(context.Background(), restart.Session.ID)
}

func TestStopRecording_HappyPath(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())

	id := startTestSession(t, o, "c1")
	result := o.StopRecording(context.Background(), id)

	if !result.Success {
		t.Fatalf("stop failed: %s", result.Error)
	}
	if result.Session.State != constant.SessionStateCompleted {
		t.Errorf("session state = %s, want COMPLETED", result.Session.State)
	}
	if result.Session.RecordingURL == "" {
		t.Error("completed session has empty recording URL")
	}
	if result.Job == nil {
		t.Fatal("no transcription job enqueued")
	}
	if result.Job.Status != constant.JobStatusQueued {
		t.Errorf("job status = %s, want QUEUED", result.Job.Status)
	}

	if o.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", o.registry.Count())
	}
	if o.ActiveMonitorCount() != 0 {
		t.Errorf("active monitors = %d, want 0", o.ActiveMonitorCount())
	}

	persisted, ok := repo.session(id)
	if !ok {
		t.Fatal("terminal session not persisted")
	}
	if persisted.State != constant.SessionStateCompleted {
		t.Errorf("persisted state = %s, want COMPLETED", persisted.State)
	}
	if jobs := repo.jobsForRecording(id); len(jobs) != 1 {
		t.Errorf("persisted jobs = %d, want 1", len(jobs))
	}
}

func TestStopRecording_Twice(t *testing.T) {
	o := newTestOrchestrator(newFakeRepo(), newFakeStorage(), newFakeTranscriber())

	id := startTestSession(t, o, "c1")
	if result := o.StopRecording(context.Background(), id); !result.Success {
		t.Fatalf("first stop failed: %s", result.Error)
	}

	second := o.StopRecording(context.Background(), id)
	if second.Success {
		t.Fatal("expected second stop to fail")
	}
	if second.ErrorCode != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", second.ErrorCode)
	}
}

func TestStopRecording_UnknownSession(t *testing.T) {
	o := newTestOrchestrator(newFakeRepo(), newFakeStorage(), newFakeTranscriber())

	result := o.StopRecording(context.Background(), uuid.New())
	if result.Success || result.ErrorCode != "NOT_FOUND" {
		t.Errorf("error code = %s, want NOT_FOUND", result.ErrorCode)
	}
}

func TestStopRecording_FinalizeFailure(t *testing.T) {
	repo := newFakeRepo()
	storage := newFakeStorage()
	storage.finalizeErr = errors.New("finalize refused")
	o := newTestOrchestrator(repo, storage, newFakeTranscriber())

	id := startTestSession(t, o, "c1")
	result := o.StopRecording(context.Background(), id)

	if result.Success {
		t.Fatal("expected stop to fail when finalize fails")
	}
	if result.ErrorCode != "PROVIDER" {
		t.Errorf("error code = %s, want PROVIDER", result.ErrorCode)
	}

	persisted, ok := repo.session(id)
	if !ok {
		t.Fatal("failed session not persisted")
	}
	if persisted.State != constant.SessionStateFailed {
		t.Errorf("persisted state = %s, want FAILED", persisted.State)
	}
	if jobs := repo.jobsForRecording(id); len(jobs) != 0 {
		t.Errorf("jobs enqueued on finalize failure = %d, want 0", len(jobs))
	}
	if o.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", o.registry.Count())
	}
}

func TestGetStatus_ActiveThenPersisted(t *testing.T) {
	o := newTestOrchestrator(newFakeRepo(), newFakeStorage(), newFakeTranscriber())

	id := startTestSession(t, o, "c1")
	active := o.GetStatus(context.Background(), id)
	if !active.Success || active.Session.State != constant.SessionStateRecording {
		t.Errorf("active status state = %v, want RECORDING", active.Session)
	}

	o.StopRecording(context.Background(), id)
	finished := o.GetStatus(context.Background(), id)
	if !finished.Success || finished.Session.State != constant.SessionStateCompleted {
		t.Errorf("persisted status state = %v, want COMPLETED", finished.Session)
	}

	missing := o.GetStatus(context.Background(), uuid.New())
	if missing.Success || missing.ErrorCode != "NOT_FOUND" {
		t.Errorf("unknown session error code = %s, want NOT_FOUND", missing.ErrorCode)
	}
}

func TestGetTranscriptionStatus_ReachesTerminal(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())
	o.Run(context.Background())
	defer o.Shutdown(context.Background())

	id := startTestSession(t, o, "c1")
	if result := o.StopRecording(context.Background(), id); !result.Success {
		t.Fatalf("stop failed: %s", result.Error)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status := o.GetTranscriptionStatus(context.Background(), id)
		if status.Success && status.Job.Status.Terminal() {
			if status.Job.Status != constant.JobStatusCompleted {
				t.Errorf("job status = %s, want COMPLETED", status.Job.Status)
			}
			if status.Job.Progress != 100 {
				t.Errorf("job progress = %d, want 100", status.Job.Progress)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("transcription job never reached a terminal state")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestQualityMonitor_TimerCountMatchesSessions(t *testing.T) {
	o := newTestOrchestrator(newFakeRepo(), newFakeStorage(), newFakeTranscriber())

	ids := make([]uuid.UUID, 0, 3)
	for _, callID := range []string{"c1", "c2", "c3"} {
		ids = append(ids, startTestSession(t, o, callID))
	}
	if o.ActiveMonitorCount() != 3 {
		t.Errorf("active monitors = %d, want 3", o.ActiveMonitorCount())
	}

	for _, id := range ids {
		o.StopRecording(context.Background(), id)
	}
	if o.ActiveMonitorCount() != 0 {
		t.Errorf("active monitors after stop = %d, want 0", o.ActiveMonitorCount())
	}
}

func TestQualityMonitor_AppendsSamplesToSession(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())

	id := startTestSession(t, o, "c1")

	sess, _ := o.registry.Get(id)
	deadline := time.Now().Add(time.Second)
	for {
		sess.mu.Lock()
		n := len(sess.samples)
		sess.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("monitor appended %d samples within 1s, want >= 2", n)
		}
		time.Sleep(time.Millisecond)
	}

	result := o.StopRecording(context.Background(), id)
	if !result.Success {
		t.Fatalf("stop failed: %s", result.Error)
	}
	if result.Session.Quality == nil || result.Session.Quality.SampleCount < 2 {
		t.Error("aggregated quality missing from completed session")
	}
}

func TestRequeueJob(t *testing.T) {
	repo := newFakeRepo()
	transcriber := newFakeTranscriber()
	o := newTestOrchestrator(repo, newFakeStorage(), transcriber)

	job := queuedTestJob(constant.JobPriorityNormal)
	reason := "provider exploded"
	job.Status = constant.JobStatusFailed
	job.FailureReason = &reason
	if err := repo.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("save job: %v", err)
	}

	result := o.RequeueJob(context.Background(), job.ID)
	if !result.Success {
		t.Fatalf("requeue failed: %s", result.Error)
	}
	if result.Job.Status != constant.JobStatusQueued {
		t.Errorf("job status = %s, want QUEUED", result.Job.Status)
	}
	if result.Job.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", result.Job.RetryCount)
	}
	if result.Job.ID == job.ID {
		t.Error("requeue reused the failed job id; terminal statuses must not regress")
	}
	if o.queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", o.queue.Len())
	}

	// The original job stays FAILED.
	original, err := repo.FindJobById(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("find original job: %v", err)
	}
	if original.Status != constant.JobStatusFailed {
		t.Errorf("original job status = %s, want FAILED", original.Status)
	}

	// Only failed jobs can be requeued.
	completed := queuedTestJob(constant.JobPriorityNormal)
	completed.Status = constant.JobStatusCompleted
	if err := repo.SaveJob(context.Background(), completed); err != nil {
		t.Fatalf("save job: %v", err)
	}
	if result := o.RequeueJob(context.Background(), completed.ID); result.Success || result.ErrorCode != "VALIDATION" {
		t.Errorf("requeue of completed job: code = %s, want VALIDATION", result.ErrorCode)
	}
}

func TestRecover_ReloadsPersistedQueueState(t *testing.T) {
	repo := newFakeRepo()
	queued := queuedTestJob(constant.JobPriorityNormal)
	interrupted := queuedTestJob(constant.JobPriorityHigh)
	interrupted.Status = constant.JobStatusProcessing
	if err := repo.SaveJob(context.Background(), queued); err != nil {
		t.Fatalf("save job: %v", err)
	}
	if err := repo.SaveJob(context.Background(), interrupted); err != nil {
		t.Fatalf("save job: %v", err)
	}

	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())
	if err := o.Recover(context.Background()); err != nil {
		t.Fatalf("recover failed: %v", err)
	}

	if o.queue.Len() != 2 {
		t.Errorf("queue length after recover = %d, want 2", o.queue.Len())
	}

	recovered, err := repo.FindJobById(context.Background(), interrupted.ID)
	if err != nil {
		t.Fatalf("find interrupted job: %v", err)
	}
	if recovered.Status != constant.JobStatusQueued {
		t.Errorf("interrupted job status = %s, want QUEUED", recovered.Status)
	}
	if recovered.RetryCount != 1 {
		t.Errorf("interrupted job retry count = %d, want 1", recovered.RetryCount)
	}

	// The interrupted high-priority job comes off the queue first.
	claimed := o.queue.Claim()
	if claimed == nil || claimed.ID != interrupted.ID {
		t.Error("recovered high-priority job was not claimed first")
	}
}

func TestShutdown_DrainsSessionsAndJobs(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())
	// The dispatcher is deliberately not running: jobs enqueued during
	// shutdown must still reach a terminal state via the drain policy.

	first := startTestSession(t, o, "c1")
	second := startTestSession(t, o, "c2")

	// One job already queued before shutdown begins.
	stale := queuedTestJob(constant.JobPriorityLow)
	if err := repo.SaveJob(context.Background(), stale); err != nil {
		t.Fatalf("save job: %v", err)
	}
	if err := o.queue.Enqueue(stale); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	for _, id := range []uuid.UUID{first, second} {
		persisted, ok := repo.session(id)
		if !ok {
			t.Fatalf("session %s not persisted", id)
		}
		if !persisted.State.Terminal() {
			t.Errorf("session %s state = %s, want terminal", id, persisted.State)
		}
	}
	if o.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", o.registry.Count())
	}
	if o.ActiveMonitorCount() != 0 {
		t.Errorf("active monitors = %d, want 0", o.ActiveMonitorCount())
	}

	for _, job := range repo.allJobs() {
		if !job.Status.Terminal() {
			t.Errorf("job %s status = %s, want terminal", job.ID, job.Status)
		}
		if job.ID == stale.ID {
			if job.Status != constant.JobStatusFailed || job.FailureReason == nil || *job.FailureReason != "shutdown" {
				t.Errorf("stale job not failed by shutdown: %+v", job)
			}
		}
	}

	// Operations after shutdown are refused.
	result := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c3",
		Participants: []string{"p1"},
	})
	if result.Success || result.ErrorCode != "UNAVAILABLE" {
		t.Errorf("post-shutdown start: code = %s, want UNAVAILABLE", result.ErrorCode)
	}
}

func TestHealth_ReportsCountsAndGatewayState(t *testing.T) {
	storage := newFakeStorage()
	o := newTestOrchestrator(newFakeRepo(), storage, newFakeTranscriber())

	id := startTestSession(t, o, "c1")
	report := o.Health(context.Background())
	if report.Status != "ok" {
		t.Errorf("health status = %s, want ok", report.Status)
	}
	if report.ActiveSessions != 1 {
		t.Errorf("active sessions = %d, want 1", report.ActiveSessions)
	}

	storage.mu.Lock()
	storage.failHealth = true
	storage.mu.Unlock()
	report = o.Health(context.Background())
	if report.Status != "degraded" {
		t.Errorf("health status = %s, want degraded", report.Status)
	}

	storage.mu.Lock()
	storage.failHealth = false
	storage.mu.Unlock()
	o.StopRecording(context.Background(), id)
}

func TestShutdown_FailsSessionStillStarting(t *testing.T) {
	repo := newFakeRepo()
	storage := newFakeStorage()
	storage.startEntered = make(chan struct{}, 1)
	storage.startGate = make(chan struct{})
	o := newTestOrchestrator(repo, storage, newFakeTranscriber())

	results := make(chan dto.OperationResult, 1)
	go func() {
		results <- o.StartRecording(context.Background(), dto.StartRecordingRequest{
			CallID:       "c1",
			Participants: []string{"p1"},
		})
	}()
	<-storage.startEntered

	// The session is registered but still INITIALIZING in the storage open.
	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	close(storage.startGate)

	result := <-results
	if result.Success {
		t.Error("start succeeded although shutdown drained the session")
	}

	sessions := repo.allSessions()
	if len(sessions) != 1 {
		t.Fatalf("persisted sessions = %d, want 1", len(sessions))
	}
	if !sessions[0].State.Terminal() {
		t.Errorf("session state after shutdown = %s, want terminal", sessions[0].State)
	}
	if o.registry.Count() != 0 {
		t.Errorf("registry count = %d, want 0", o.registry.Count())
	}
	if o.ActiveMonitorCount() != 0 {
		t.Errorf("active monitors = %d, want 0", o.ActiveMonitorCount())
	}
}

func TestStopRecording_CompletesWhenFinalAnalysisFails(t *testing.T) {
	repo := newFakeRepo()
	storage := newFakeStorage()
	storage.metricsErr = errors.New("metrics sidecar missing")
	o := newTestOrchestrator(repo, storage, newFakeTranscriber())

	id := startTestSession(t, o, "c1")
	result := o.StopRecording(context.Background(), id)

	if !result.Success {
		t.Fatalf("stop failed: %s", result.Error)
	}
	if result.Session.State != constant.SessionStateCompleted {
		t.Errorf("session state = %s, want COMPLETED", result.Session.State)
	}
	if result.Session.Quality != nil {
		t.Errorf("quality aggregate = %+v, want none without samples", result.Session.Quality)
	}
}

func TestStopRecording_UsesPriorityRequestedAtStart(t *testing.T) {
	repo := newFakeRepo()
	o := newTestOrchestrator(repo, newFakeStorage(), newFakeTranscriber())

	started := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c1",
		Participants: []string{"p1"},
		Priority:     constant.JobPriorityHigh,
	})
	if !started.Success {
		t.Fatalf("start failed: %s", started.Error)
	}
	stopped := o.StopRecording(context.Background(), started.Session.ID)
	if !stopped.Success {
		t.Fatalf("stop failed: %s", stopped.Error)
	}
	if stopped.Job == nil {
		t.Fatal("no transcription job enqueued")
	}
	if stopped.Job.Priority != constant.JobPriorityHigh {
		t.Errorf("job priority = %s, want HIGH from the start request", stopped.Job.Priority)
	}

	// An explicit stop priority still overrides the one from start.
	second := o.StartRecording(context.Background(), dto.StartRecordingRequest{
		CallID:       "c2",
		Participants: []string{"p1"},
		Priority:     constant.JobPriorityHigh,
	})
	if !second.Success {
		t.Fatalf("start failed: %s", second.Error)
	}
	override := o.StopRecordingWithPriority(context.Background(), second.Session.ID, constant.JobPriorityLow)
	if !override.Success {
		t.Fatalf("stop failed: %s", override.Error)
	}
	if override.Job.Priority != constant.JobPriorityLow {
		t.Errorf("job priority = %s, want LOW override", override.Job.Priority)
	}
}
