package session

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultReapInterval is how often the reaper sweeps the table.
	DefaultReapInterval = 30 * time.Second

	// DefaultIdleTimeout is how long a session may stay silent before it
	// is evicted.
	DefaultIdleTimeout = time.Minute
)

// Reaper periodically evicts sessions that have gone silent past the idle
// timeout. Eviction uses the same removal path as an explicit disconnect;
// the onEvict hook lets the server close the stream handle and notify
// remaining peers.
type Reaper struct {
	table    *Table
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	onEvict  func(*Session)
}

// NewReaper creates a reaper over the given table. onEvict may be nil.
func NewReaper(table *Table, logger *slog.Logger, interval, timeout time.Duration, onEvict func(*Session)) *Reaper {
	return &Reaper{
		table:    table,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
		onEvict:  onEvict,
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Session reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("idle_timeout", r.timeout),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Session reaper stopping")
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

// sweep evicts every session idle longer than the timeout. It snapshots
// first so no lock is held while evict hooks touch the network.
func (r *Reaper) sweep(now time.Time) int {
	var evicted int
	for _, sess := range r.table.Snapshot() {
		idle := now.Sub(sess.LastUpdate())
		if idle <= r.timeout {
			continue
		}

		if !r.table.Remove(sess.Identity()) {
			continue
		}
		evicted++

		r.logger.Info("Evicted idle session",
			slog.String("identity", sess.Identity()),
			slog.Duration("idle", idle),
		)

		if r.onEvict != nil {
			r.onEvict(sess)
		}
	}
	return evicted
}
