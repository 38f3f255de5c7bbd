// Package queue provides the in-memory task queue for background jobs.
// Each job type has its own FIFO and at most one drain at a time; a failing
// job goes back to the tail until it reaches its attempt bound.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// DefaultMaxAttempts is used when AddJob is called with maxAttempts <= 0.
const DefaultMaxAttempts = 3

// Handler processes one job. A non-nil error counts as a failed attempt.
type Handler func(ctx context.Context, job models.Job) error

// FailureFunc is called once for every job that is dropped.
type FailureFunc func(job models.Job, err error)

// TaskQueue runs jobs per type, serially within a type and concurrently across types.
type TaskQueue struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	pending   map[string][]*models.Job
	draining  map[string]bool
	closed    bool
	onFailure FailureFunc

	idle   sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *logging.Logger
	now    func() time.Time
}

// NewTaskQueue creates an empty TaskQueue.
func NewTaskQueue(logger *logging.Logger) *TaskQueue {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskQueue{
		handlers: make(map[string]Handler),
		pending:  make(map[string][]*models.Job),
		draining: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With("task_queue"),
		now:      time.Now,
	}
}

// OnFailure sets the callback that receives dropped jobs.
func (q *TaskQueue) OnFailure(fn FailureFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFailure = fn
}

// RegisterHandler sets the handler for jobType, replacing any earlier one.
func (q *TaskQueue) RegisterHandler(jobType string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = handler
}

// AddJob appends a job to its type's queue and starts a drain if none is running.
func (q *TaskQueue) AddJob(jobType string, payload interface{}, maxAttempts int) (*models.Job, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode job payload", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, apperrors.New(apperrors.ErrInvalid, "task queue is closed")
	}

	job := &models.Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		CreatedAt:   q.now().UnixMilli(),
	}
	q.pending[jobType] = append(q.pending[jobType], job)

	q.logger.Debug("job enqueued", map[string]interface{}{"job_id": job.ID, "type": jobType})

	if !q.draining[jobType] {
		q.draining[jobType] = true
		q.idle.Add(1)
		go q.drain(jobType)
	}

	snapshot := *job
	return &snapshot, nil
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// drain processes jobType until its queue is empty.
func (q *TaskQueue) drain(jobType string) {
	defer q.idle.Done()

	for {
		q.mu.Lock()
		jobs := q.pending[jobType]
		if len(jobs) == 0 {
			q.draining[jobType] = false
			delete(q.pending, jobType)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		q.pending[jobType] = jobs[1:]
		handler := q.handlers[jobType]
		q.mu.Unlock()

		if handler == nil {
			q.drop(job, apperrors.New(apperrors.ErrNotFound, "no handler registered for "+jobType))
			continue
		}

		err := q.run(handler, job)
		if err == nil {
			q.logger.Debug("job completed", map[string]interface{}{"job_id": job.ID, "type": jobType})
			continue
		}

		job.Attempts++
		if job.Exhausted() {
			q.drop(job, err)
			continue
		}

		q.logger.Warn("job failed, requeued", map[string]interface{}{
			"job_id":  job.ID,
			"type":    jobType,
			"attempt": job.Attempts,
			"max":     job.MaxAttempts,
			"error":   err.Error(),
		})
		q.mu.Lock()
		q.pending[jobType] = append(q.pending[jobType], job)
		q.mu.Unlock()
	}
}

// run calls the handler, turning a panic into a failed attempt.
func (q *TaskQueue) run(handler Handler, job *models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.New(apperrors.ErrInternal, "job handler panicked")
		}
	}()
	return handler(q.ctx, *job)
}

func (q *TaskQueue) drop(job *models.Job, err error) {
	q.logger.Error("job dropped", err, map[string]interface{}{
		"job_id":   job.ID,
		"type":     job.Type,
		"attempts": job.Attempts,
	})

	q.mu.Lock()
	fn := q.onFailure
	q.mu.Unlock()
	if fn != nil {
		fn(*job, err)
	}
}

// Wait blocks until every drain has gone idle.
func (q *TaskQueue) Wait() {
	q.idle.Wait()
}

// Close stops accepting jobs, cancels the handler context and waits for running drains.
// Jobs still queued at that point are drained with a cancelled context.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.idle.Wait()
}

// Stats returns the number of queued jobs per type.
func (q *TaskQueue) Stats() map[string]int {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[string]int, len(q.pending))
	for jobType, jobs := range q.pending {
		stats[jobType] = len(jobs)
	}
	return stats
}

// Draining reports whether jobType currently has an active drain.
func (q *TaskQueue) Draining(jobType string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining[jobType]
}
