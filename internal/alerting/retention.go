package alerting

import (
	"context"
	"time"

	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/logger"
	"github.com/envsense/envsense/internal/observability/metrics"
)

const (
	// DefaultRetention is how long closed records are kept.
	DefaultRetention = 90 * 24 * time.Hour
	// DefaultCleanupInterval is how often the sweeper runs.
	DefaultCleanupInterval = time.Hour
	// sweepTimeout is the context deadline for one purge.
	sweepTimeout = 30 * time.Second
)

// RetentionSweeper deletes closed alert records past the retention window.
type RetentionSweeper struct {
	records   repository.AlertRecordRepository
	retention time.Duration
	interval  time.Duration
	log       logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewRetentionSweeper creates a sweeper. Non-positive durations fall back to
// DefaultRetention and DefaultCleanupInterval.
func NewRetentionSweeper(records repository.AlertRecordRepository, retention, interval time.Duration, log logger.Logger, m *metrics.Metrics) *RetentionSweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &RetentionSweeper{
		records:   records,
		retention: retention,
		interval:  interval,
		log:       log.Module("retention"),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sweep deletes records resolved before now minus the retention window and
// returns how many were removed.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.records.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.AddPurged(deleted)
	if deleted > 0 {
		s.log.Info("alert record cleanup completed",
			logger.Int64("deleted", deleted),
			logger.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// Run sweeps on every tick until ctx is cancelled. A failed sweep is logged
// and retried on the next tick.
func (s *RetentionSweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			if _, err := s.Sweep(sweepCtx); err != nil {
				s.log.Error("alert record cleanup failed", logger.Error(err))
			}
			cancel()
		}
	}
}
