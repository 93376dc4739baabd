package services

import (
	"sync"

	"github.com/tubeflow/tubeflow/internal/core/domain"
)

// JobQueue is the ordered holding area for pending jobs. Higher priority
// dequeues first; among equal priorities insertion order is preserved.
// The positional insert keeps ordering stable without a heap, which is
// fine at the queue depths this pipeline sees.
type JobQueue struct {
	mu    sync.Mutex
	items []*domain.Job
}

func NewJobQueue() *JobQueue {
	return &JobQueue{}
}

// Enqueue inserts the job before the first entry with a strictly lower
// priority, so equal-priority jobs stay FIFO.
func (q *JobQueue) Enqueue(job *domain.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, queued := range q.items {
		if job.Priority > queued.Priority {
			q.items = append(q.items[:i], append([]*domain.Job{job}, q.items[i:]...)...)
			return
		}
	}
	q.items = append(q.items, job)
}

// DequeueNext removes and returns the highest-priority, earliest-inserted
// job, or nil if the queue is empty.
func (q *JobQueue) DequeueNext() *domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job
}

// Remove drops a still-queued job. Returning false means the id was not
// in the queue (already dispatched or unknown), which is a no-op signal,
// not an error.
func (q *JobQueue) Remove(id domain.JobID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.items {
		if job.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

func (q *JobQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns value copies of the queued jobs in dequeue order.
func (q *JobQueue) Snapshot() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Job, 0, len(q.items))
	for _, job := range q.items {
		out = append(out, *job)
	}
	return out
}
