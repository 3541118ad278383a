package service

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PendingReconciler periodically fails PENDING records that have not been
// touched for StaleAfter, so a crashed attempt does not block its key
// forever. The failed record can be claimed again by the next request.
//
// StaleAfter of 0 disables reconciliation.
type PendingReconciler struct {
	dedup      *Deduplicator
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ReconcilerConfig holds the parameters for NewPendingReconciler.
type ReconcilerConfig struct {
	// StaleAfter must exceed the longest issuance attempt, otherwise a
	// live attempt can be failed underneath itself.
	StaleAfter time.Duration

	// Interval is how often the sweep runs. Defaults to one minute.
	Interval time.Duration
}

func NewPendingReconciler(d *Deduplicator, cfg ReconcilerConfig, logger *slog.Logger) *PendingReconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PendingReconciler{
		dedup:      d,
		staleAfter: cfg.StaleAfter,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Start begins the background loop: one sweep immediately, then one per
// interval until ctx is cancelled or Stop is called.
func (p *PendingReconciler) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	p.done = make(chan struct{})

	if p.staleAfter <= 0 {
		p.logger.Info("pending reconciler disabled (stale_after=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx, p.done)

	p.logger.Info("pending reconciler started",
		"stale_after", p.staleAfter.String(),
		"interval", p.interval.String(),
	)
}

// Stop signals the loop to exit and waits for it. Safe to call more than
// once, and before Start.
func (p *PendingReconciler) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// RunOnce performs a single sweep and returns the number of records failed.
func (p *PendingReconciler) RunOnce(ctx context.Context) (int64, error) {
	now := p.now().UTC()
	cutoff := now.Add(-p.staleAfter)
	n, err := p.dedup.FailStale(ctx, cutoff, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Warn("reconciled stale pending records",
			"count", n,
			"cutoff", cutoff.Format(time.RFC3339),
		)
	}
	return n, nil
}

func (p *PendingReconciler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.sweep(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *PendingReconciler) sweep(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("pending reconcile failed", "err", err)
	}
}
