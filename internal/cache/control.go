package cache

import (
	"context"
	"encoding/json"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/models"
)

// Control message types accepted by HandleControl.
const (
	ControlSkipWaiting  = "SKIP_WAITING"
	ControlClearCache   = "CLEAR_CACHE"
	ControlCacheURLs    = "CACHE_URLS"
	ControlGetCacheSize = "GET_CACHE_SIZE"
)

// JobPopulate is the task queue job type that fills the shell group with URLs.
const JobPopulate = "cache.populate"

// ControlMessage is sent by an application window to the agent.
type ControlMessage struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

// ControlReply acknowledges a ControlMessage.
type ControlReply struct {
	Type        string `json:"type"`
	OK          bool   `json:"ok"`
	JobID       string `json:"jobId,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Placeholder bool   `json:"placeholder,omitempty"`
	Error       string `json:"error,omitempty"`
}

// JobQueue is the part of the task queue the manager enqueues work on.
type JobQueue interface {
	AddJob(jobType string, payload interface{}, maxAttempts int) (*models.Job, error)
}

type populatePayload struct {
	URLs []string `json:"urls"`
}

// UseQueue routes CACHE_URLS work through q.
func (m *Manager) UseQueue(q JobQueue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = q
}

// PopulateJob is the task queue handler for JobPopulate.
func (m *Manager) PopulateJob(ctx context.Context, job models.Job) error {
	var p populatePayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "decode populate payload", err)
	}
	return m.Populate(ctx, p.URLs)
}

// HandleControl applies a control message. Unknown types are rejected.
func (m *Manager) HandleControl(ctx context.Context, msg ControlMessage) (ControlReply, error) {
	reply := ControlReply{Type: msg.Type}

	switch msg.Type {
	case ControlSkipWaiting:
		if err := m.Activate(ctx); err != nil {
			return failed(reply, err)
		}

	case ControlClearCache:
		if err := m.ClearAll(ctx); err != nil {
			return failed(reply, err)
		}

	case ControlCacheURLs:
		m.mu.Lock()
		q := m.queue
		m.mu.Unlock()

		if q == nil {
			if err := m.Populate(ctx, msg.URLs); err != nil {
				return failed(reply, err)
			}
			break
		}
		job, err := q.AddJob(JobPopulate, populatePayload{URLs: msg.URLs}, 0)
		if err != nil {
			return failed(reply, err)
		}
		reply.JobID = job.ID

	case ControlGetCacheSize:
		// Size is not computed; callers must not treat it as real state.
		reply.Placeholder = true

	default:
		return failed(reply, apperrors.New(apperrors.ErrInvalid, "unknown control message "+msg.Type))
	}

	reply.OK = true
	return reply, nil
}

func failed(reply ControlReply, err error) (ControlReply, error) {
	reply.Error = err.Error()
	return reply, err
}
