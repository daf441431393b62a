package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/common/metrics"
	"github.com/commutetracker-core/internal/reconcile"
	"github.com/commutetracker-core/internal/replica"
	"github.com/commutetracker-core/internal/signal"
)

// Syncer runs one reconciliation pass.
type Syncer interface {
	Sync(ctx context.Context) error
}

// SchedulerConfig drives the loop cadence.
type SchedulerConfig struct {
	ScanInterval    time.Duration
	SyncInterval    time.Duration
	TravelRetention time.Duration
}

// Scheduler owns the dedicated scan-react loop: trigger a scan, feed the
// snapshot through the state machine, repeat. Reconciliation runs on its own
// goroutine; the engine's busy guard keeps passes mutually exclusive. No
// error terminates the loop except external cancellation.
type Scheduler struct {
	config    SchedulerConfig
	source    signal.Source
	machine   *TravelStateMachine
	syncer    Syncer
	store     replica.Store
	logger    logger.Logger
	collector *metrics.Collector

	syncRequests chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

func NewScheduler(cfg SchedulerConfig, source signal.Source, machine *TravelStateMachine,
	syncer Syncer, store replica.Store, log logger.Logger, col *metrics.Collector) *Scheduler {
	return &Scheduler{
		config:       cfg,
		source:       source,
		machine:      machine,
		syncer:       syncer,
		store:        store,
		logger:       log,
		collector:    col,
		syncRequests: make(chan struct{}, 1),
	}
}

// RequestSync asks for a reconciliation pass soon. Non-blocking; a request
// while one is already queued or running is dropped.
func (s *Scheduler) RequestSync() {
	select {
	case s.syncRequests <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting detection scheduler",
		"scan_interval", s.config.ScanInterval,
		"sync_interval", s.config.SyncInterval)

	// Resume an open travel before the first scan.
	if err := s.machine.Restore(ctx); err != nil {
		s.logger.Error("Restoring travel state failed", "error", err)
	}

	scanTicker := time.NewTicker(s.config.ScanInterval)
	defer scanTicker.Stop()
	syncTicker := time.NewTicker(s.config.SyncInterval)
	defer syncTicker.Stop()
	pruneTicker := time.NewTicker(24 * time.Hour)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Detection scheduler stopped")
			return nil
		case <-scanTicker.C:
			s.runScan(ctx)
		case <-syncTicker.C:
			go s.runSync(ctx)
		case <-s.syncRequests:
			go s.runSync(ctx)
		case <-pruneTicker.C:
			s.prune(ctx)
		}
	}
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("scheduler not running")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
	return nil
}

func (s *Scheduler) runScan(ctx context.Context) {
	if err := s.source.TriggerScan(ctx); err != nil {
		// Radio unavailable is degraded capability, not a crash.
		s.logger.Warn("Scan failed", "error", err)
		if s.collector != nil {
			s.collector.ScanErrors.Inc()
		}
		return
	}
	if s.collector != nil {
		s.collector.ScansTotal.Inc()
	}
	results := s.source.Results()
	loc, hasLoc := s.source.LastKnownLocation()
	s.machine.HandleScan(ctx, results, loc, hasLoc)
}

func (s *Scheduler) runSync(ctx context.Context) {
	err := s.syncer.Sync(ctx)
	if errors.Is(err, reconcile.ErrSyncInFlight) {
		s.logger.Debug("Sync pass already in flight, request dropped")
		return
	}
	if err != nil {
		s.logger.Error("Reconciliation pass failed", "error", err)
	}
}

func (s *Scheduler) prune(ctx context.Context) {
	if s.config.TravelRetention <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.config.TravelRetention)
	n, err := s.store.PruneTravels(ctx, cutoff)
	if err != nil {
		s.logger.Error("Travel pruning failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Pruned old synced travels", "removed", n)
	}
}
