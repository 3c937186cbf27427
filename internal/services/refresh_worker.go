package services

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codyseavey/plebmtg/internal/models"
)

type refresher interface {
	Refresh(ctx context.Context, trigger string) (*models.AnalysisRun, error)
	Running() bool
}

type runIndex interface {
	LatestRun() (*models.AnalysisRun, error)
	Invalidate()
}

// RefreshWorker refetches and reanalyzes in the background whenever the
// latest successful run is older than the refresh interval, and on demand.
type RefreshWorker struct {
	analysis      refresher
	results       runIndex
	interval      time.Duration
	checkInterval time.Duration
	trigger       chan string
	now           func() time.Time

	mu          sync.RWMutex
	lastAttempt time.Time
	lastRunID   string
	lastError   string
}

type RefreshStatus struct {
	Running     bool      `json:"running"`
	Queued      bool      `json:"queued"`
	Interval    string    `json:"interval"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastRunID   string    `json:"last_run_id,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

// NewRefreshWorker schedules refreshes every interval; zero disables the
// schedule and leaves only manual triggers.
func NewRefreshWorker(analysis refresher, results runIndex, interval time.Duration) *RefreshWorker {
	return &RefreshWorker{
		analysis:      analysis,
		results:       results,
		interval:      interval,
		checkInterval: 15 * time.Minute,
		trigger:       make(chan string, 1),
		now:           time.Now,
	}
}

// Start runs until ctx is cancelled.
func (w *RefreshWorker) Start(ctx context.Context) {
	var tick <-chan time.Time
	if w.interval > 0 {
		log.Infof("Refresh worker started: will refresh data every %v", w.interval)
		w.checkAndRefresh(ctx)

		ticker := time.NewTicker(w.checkInterval)
		defer ticker.Stop()
		tick = ticker.C
	} else {
		log.Info("Refresh worker started: scheduled refresh disabled, manual triggers only")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("Refresh worker stopping...")
			return
		case <-tick:
			w.checkAndRefresh(ctx)
		case trigger := <-w.trigger:
			w.refresh(ctx, trigger)
		}
	}
}

// Trigger queues a refresh. It returns false when one is already queued or
// running.
func (w *RefreshWorker) Trigger() bool {
	if w.analysis.Running() {
		return false
	}
	select {
	case w.trigger <- "api":
		return true
	default:
		return false
	}
}

func (w *RefreshWorker) Status() RefreshStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	interval := "disabled"
	if w.interval > 0 {
		interval = w.interval.String()
	}
	return RefreshStatus{
		Running:     w.analysis.Running(),
		Queued:      len(w.trigger) > 0,
		Interval:    interval,
		LastAttempt: w.lastAttempt,
		LastRunID:   w.lastRunID,
		LastError:   w.lastError,
	}
}

// due reports whether the latest successful run is missing or stale.
func (w *RefreshWorker) due() bool {
	run, err := w.results.LatestRun()
	if errors.Is(err, ErrNoRun) {
		return true
	}
	if err != nil {
		log.Errorf("Refresh worker: failed to look up latest run: %v", err)
		return false
	}
	return w.now().Sub(run.StartedAt) >= w.interval
}

func (w *RefreshWorker) checkAndRefresh(ctx context.Context) {
	if w.due() {
		w.refresh(ctx, "schedule")
	}
}

func (w *RefreshWorker) refresh(ctx context.Context, trigger string) {
	w.mu.Lock()
	w.lastAttempt = w.now()
	w.mu.Unlock()

	run, err := w.analysis.Refresh(ctx, trigger)
	if errors.Is(err, ErrRunInProgress) {
		log.Debug("Refresh worker: run already in progress, skipping")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if run != nil {
		w.lastRunID = run.ID
	}
	if err != nil {
		w.lastError = err.Error()
		log.Errorf("Refresh worker: refresh failed: %v", err)
		return
	}
	w.lastError = ""
	w.results.Invalidate()
}
