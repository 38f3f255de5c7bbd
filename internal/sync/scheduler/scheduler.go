// Package scheduler decides when the sync coordinator runs.
// Passes are event driven: a reconnect or an explicit retry fires one, never a timer.
package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/kimhsiao/ridelink/backend/internal/errors"
	"github.com/kimhsiao/ridelink/backend/internal/logging"
	"github.com/kimhsiao/ridelink/backend/internal/models"
	syncpkg "github.com/kimhsiao/ridelink/backend/internal/sync"
	"github.com/kimhsiao/ridelink/backend/internal/sync/queue"
)

// JobRetentionSweep is the task queue job type that deletes old synced records.
const JobRetentionSweep = "retention.sweep"

// Prober reports whether the backend is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// Sweeper deletes synced records older than maxAge.
type Sweeper interface {
	ClearOldData(ctx context.Context, maxAge time.Duration) (int64, error)
}

// HTTPProber probes a health URL. Any 2xx answer means online.
type HTTPProber struct {
	Client *http.Client
	URL    string
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	UserID          string        // Owner whose trips are synced
	ProbeInterval   time.Duration // How often the prober runs (default: 30 seconds)
	SweepInterval   time.Duration // How often a retention sweep is enqueued (default: 1 hour)
	RetentionMaxAge time.Duration // Age past which synced records are deleted (default: 30 days)
	SyncTimeout     time.Duration // Bound on a single pass (default: 5 minutes)
	Prober          Prober        // Optional connectivity source
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		ProbeInterval:   30 * time.Second,
		SweepInterval:   time.Hour,
		RetentionMaxAge: 30 * 24 * time.Hour,
		SyncTimeout:     5 * time.Minute,
	}
}

func (c *SchedulerConfig) withDefaults() *SchedulerConfig {
	out := *c
	def := DefaultSchedulerConfig()
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = def.ProbeInterval
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = def.SweepInterval
	}
	if out.RetentionMaxAge <= 0 {
		out.RetentionMaxAge = def.RetentionMaxAge
	}
	if out.SyncTimeout <= 0 {
		out.SyncTimeout = def.SyncTimeout
	}
	return &out
}

// Scheduler triggers sync passes and enqueues retention sweeps.
type Scheduler struct {
	coordinator syncpkg.CoordinatorInterface
	queue       *queue.TaskQueue
	config      *SchedulerConfig
	logger      *logging.Logger

	trigger chan struct{}
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.RWMutex
	isRunning    bool
	isOnline     bool
	lastSyncTime time.Time
	lastResult   *syncpkg.SyncResult
}

type sweepPayload struct {
	MaxAgeMs int64 `json:"maxAgeMs"`
}

// NewScheduler creates a new Scheduler and registers the retention job handler on q.
func NewScheduler(coordinator syncpkg.CoordinatorInterface, q *queue.TaskQueue, sweeper Sweeper, config *SchedulerConfig, logger *logging.Logger) *Scheduler {
	if config == nil {
		config = DefaultSchedulerConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Scheduler{
		coordinator: coordinator,
		queue:       q,
		config:      config.withDefaults(),
		logger:      logger.With("scheduler"),
		trigger:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}

	if q != nil && sweeper != nil {
		q.RegisterHandler(JobRetentionSweep, func(ctx context.Context, job models.Job) error {
			var p sweepPayload
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return apperrors.Wrap(apperrors.ErrInvalid, "decode sweep payload", err)
			}
			deleted, err := sweeper.ClearOldData(ctx, time.Duration(p.MaxAgeMs)*time.Millisecond)
			if err != nil {
				return err
			}
			s.logger.Info("retention sweep finished", map[string]interface{}{"deleted": deleted})
			return nil
		})
	}

	return s
}

// Start starts the sync, probe and sweep loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.syncLoop(ctx)

	if s.config.Prober != nil {
		s.wg.Add(1)
		go s.probeLoop(ctx)
	}

	if s.queue != nil {
		s.wg.Add(1)
		go s.sweepLoop(ctx)
	}

	s.logger.Info("sync scheduler started", map[string]interface{}{"user_id": s.config.UserID})
}

// Stop cancels a running pass and waits for every loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("sync scheduler stopped")
}

// SetOnlineStatus records connectivity. An offline to online transition fires a pass.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}

	s.logger.Info("online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})

	if isOnline {
		s.TriggerNow()
	}
}

// TriggerNow requests a pass. Requests made while one is already queued coalesce.
// Returns false when the request was merged into a pending one.
func (s *Scheduler) TriggerNow() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// SyncNow runs a pass on the caller's goroutine and returns its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.config.SyncTimeout)
	defer cancel()

	result, err := s.coordinator.Sync(syncCtx, s.config.UserID)
	if result != nil {
		s.mu.Lock()
		s.lastResult = result
		if err == nil {
			s.lastSyncTime = result.EndTime
		}
		s.mu.Unlock()
	}
	return result, err
}

func (s *Scheduler) syncLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-s.trigger:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	result, err := s.SyncNow(ctx)
	switch {
	case apperrors.Is(err, apperrors.ErrSyncInProgress):
		s.logger.Debug("sync already in progress, skipping")
	case err != nil:
		s.logger.Error("sync pass failed", err, map[string]interface{}{"user_id": s.config.UserID})
	case result.Failed() > 0:
		s.logger.Warn("sync pass left records unsynced", map[string]interface{}{"failed": result.Failed()})
	}
}

func (s *Scheduler) probeLoop(ctx context.Context) {
	defer s.wg.Done()

	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, s.config.ProbeInterval)
		defer cancel()
		s.SetOnlineStatus(s.config.Prober.Probe(probeCtx))
	}

	probe()
	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			probe()
		}
	}
}

func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.EnqueueSweep(); err != nil {
				s.logger.Error("failed to enqueue retention sweep", err)
			}
		}
	}
}

// EnqueueSweep adds a retention sweep job to the task queue.
// It fails with ErrInvalid when the scheduler was built without a queue.
func (s *Scheduler) EnqueueSweep() error {
	if s.queue == nil {
		return apperrors.New(apperrors.ErrInvalid, "scheduler has no task queue")
	}
	payload := sweepPayload{MaxAgeMs: s.config.RetentionMaxAge.Milliseconds()}
	_, err := s.queue.AddJob(JobRetentionSweep, payload, 1)
	return err
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool                `json:"isRunning"`
	IsOnline       bool                `json:"isOnline"`
	SyncInProgress bool                `json:"syncInProgress"`
	LastSyncTime   *time.Time          `json:"lastSyncTime,omitempty"`
	LastResult     *syncpkg.SyncResult `json:"lastResult,omitempty"`
	LastError      string              `json:"lastError,omitempty"`
	QueueStats     map[string]int      `json:"queueStats"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:  s.isRunning,
		IsOnline:   s.isOnline,
		LastResult: s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.SyncInProgress = s.coordinator.Status() == syncpkg.SyncStatusSyncing
	if err := s.coordinator.LastError(); err != nil {
		status.LastError = err.Error()
	}
	if s.queue != nil {
		status.QueueStats = s.queue.Stats()
	}
	return status
}

// IsOnline returns whether the backend was last seen reachable.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
