package service

import (
	"container/heap"
	"sync"

	"recording-worker/constant"
	"recording-worker/entities"
	"recording-worker/pkg/apperror"
)

type queuedJob struct {
	job *entities.TranscriptionJob
	seq uint64
}

// jobHeap orders by priority rank, then FIFO within a tier.
type jobHeap []*queuedJob

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	ri, rj := h[i].job.Priority.Rank(), h[j].job.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*queuedJob)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// JobQueue is the bounded, priority-ordered transcription queue. Claiming
// flips a job from QUEUED to PROCESSING under the queue lock, so no two
// dispatcher workers can own the same job. The queue holds its own copy
// of every job; the caller's struct is never touched after Enqueue
// returns, so enqueuers and the dispatcher share nothing.
type JobQueue struct {
	mu       sync.Mutex
	heap     jobHeap
	seq      uint64
	capacity int
	closed   bool
	wake     chan struct{}
}

func NewJobQueue(capacity int) *JobQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &JobQueue{
		capacity: capacity,
		wake:     make(chan struct{}, 1),
	}
}

func (q *JobQueue) Enqueue(job *entities.TranscriptionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return apperror.Unavailable("transcription queue is closed")
	}
	if len(q.heap) >= q.capacity {
		return apperror.Unavailable("transcription queue is at capacity").
			WithDetail("capacity", q.capacity)
	}

	q.seq++
	copied := *job
	heap.Push(&q.heap, &queuedJob{job: &copied, seq: q.seq})

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Claim pops the highest-priority queued job and atomically marks it
// PROCESSING. Returns nil when the queue is empty.
func (q *JobQueue) Claim() *entities.TranscriptionJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.heap) > 0 {
		item := heap.Pop(&q.heap).(*queuedJob)
		if item.job.Status != constant.JobStatusQueued {
			continue
		}
		item.job.Status = constant.JobStatusProcessing
		return item.job
	}
	return nil
}

// Wake signals the dispatcher that work may be available.
func (q *JobQueue) Wake() <-chan struct{} {
	return q.wake
}

func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// DrainClose closes the queue to new work and returns everything still
// queued, in priority order.
func (q *JobQueue) DrainClose() []*entities.TranscriptionJob {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	remaining := make([]*entities.TranscriptionJob, 0, len(q.heap))
	for len(q.heap) > 0 {
		item := heap.Pop(&q.heap).(*queuedJob)
		remaining = append(remaining, item.job)
	}
	return remaining
}
