package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"execEngine/internal/ports"

	"github.com/robfig/cron/v3"
)

// positionSnapshotter is the part of the ExecutionService the snapshot job drives.
type positionSnapshotter interface {
	SnapshotPositions(ctx context.Context) (int, error)
}

// SnapshotJob periodically persists every ledger position on a cron schedule.
type SnapshotJob struct {
	cron     *cron.Cron
	schedule string
	target   positionSnapshotter
	logger   ports.Logger

	mu      sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// NewSnapshotJob parses the schedule (standard cron spec or descriptor such as "@every 30s").
func NewSnapshotJob(schedule string, target positionSnapshotter, logger ports.Logger) (*SnapshotJob, error) {
	if target == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for SnapshotJob")
	}

	j := &SnapshotJob{
		cron:     cron.New(),
		schedule: schedule,
		target:   target,
		logger:   logger,
	}
	if _, err := j.cron.AddFunc(schedule, j.Run); err != nil {
		return nil, fmt.Errorf("failed to schedule position snapshots %q: %w", schedule, err)
	}
	return j, nil
}

// Start starts the cron loop.
func (j *SnapshotJob) Start() {
	j.logger.Info(context.Background(), "Starting position snapshot job", map[string]interface{}{"schedule": j.schedule})
	j.cron.Start()
}

// Stop stops the cron loop and waits for a running snapshot.
func (j *SnapshotJob) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info(context.Background(), "Position snapshot job stopped")
}

// Run takes one snapshot immediately.
func (j *SnapshotJob) Run() {
	ctx := context.Background()
	start := time.Now()
	n, err := j.target.SnapshotPositions(ctx)

	j.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.runs++
	j.mu.Unlock()

	if err != nil {
		j.logger.Error(ctx, err, "Position snapshot failed", map[string]interface{}{"saved": n})
		return
	}
	j.logger.Debug(ctx, "Position snapshot saved", map[string]interface{}{
		"positions": n,
		"duration":  time.Since(start).String(),
	})
}

// SnapshotStatus describes the most recent snapshot run.
type SnapshotStatus struct {
	Schedule  string    `json:"schedule"`
	LastRun   time.Time `json:"lastRun"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

// Status reports the outcome of the most recent run.
func (j *SnapshotJob) Status() SnapshotStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := SnapshotStatus{Schedule: j.schedule, LastRun: j.lastRun, Runs: j.runs}
	if j.lastErr != nil {
		st.LastError = j.lastErr.Error()
	}
	return st
}
