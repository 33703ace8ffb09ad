package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CleanupInterval is how often stores purge entries past their retention window.
const CleanupInterval = 1 * time.Hour

const purgeTimeout = 5 * time.Minute

// purgeFunc deletes entries older than cutoff and reports how many were removed.
type purgeFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// retentionSweeper enforces AUDIT_RETENTION_DAYS for stores without native expiry.
type retentionSweeper struct {
	store    string
	days     int
	interval time.Duration
	purge    purgeFunc
	logger   *slog.Logger
	now      func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newRetentionSweeper(store string, days int, purge purgeFunc) *retentionSweeper {
	return &retentionSweeper{
		store:    store,
		days:     days,
		interval: CleanupInterval,
		purge:    purge,
		logger:   slog.Default(),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// start sweeps once immediately and then every interval until close.
// With retention disabled nothing runs.
func (s *retentionSweeper) start() {
	if s.days <= 0 {
		close(s.done)
		return
	}
	go s.loop()
}

func (s *retentionSweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep runs one purge and returns the number of deleted entries.
func (s *retentionSweeper) sweep() int64 {
	if s.days <= 0 {
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	cutoff := s.now().AddDate(0, 0, -s.days)
	deleted, err := s.purge(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to purge expired audit logs", "store", s.store, "error", err)
		return 0
	}
	if deleted > 0 {
		s.logger.Info("purged expired audit logs",
			"store", s.store,
			"deleted", deleted,
			"retention_days", s.days,
			"cutoff", cutoff,
		)
	}
	return deleted
}

// close stops the loop and waits for a running sweep. Safe to call multiple times.
func (s *retentionSweeper) close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	<-s.done
}
