package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/commutetracker-core/internal/common/config"
	"github.com/commutetracker-core/internal/common/db"
	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/common/metrics"
	"github.com/commutetracker-core/internal/detect"
	"github.com/commutetracker-core/internal/events"
	"github.com/commutetracker-core/internal/reconcile"
	"github.com/commutetracker-core/internal/replica"
	signalsrc "github.com/commutetracker-core/internal/signal"
)

func main() {
	// Load .env if present; plain environment variables work too.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(
		logger.ParseLevel(cfg.Logging.Level),
		logger.ConsoleWriter(),
		logger.FileWriter(cfg.Logging.FilePath),
	)

	log.Info("Commute tracker starting",
		"version", "1.0.0",
		"log_level", cfg.Logging.Level,
		"watched_networks", len(cfg.Detection.WatchedNames),
		"remote", cfg.Remote.BaseURL != "",
	)

	if cfg.Detection.ScanCommand == "" {
		log.Fatal("SCAN_COMMAND must be configured")
	}

	// Local replica: Postgres when configured, in-memory otherwise.
	var store replica.Store
	if cfg.Database.Enabled() {
		database, err := db.New(cfg.Database.ConnectionString(), log)
		if err != nil {
			log.Fatal("Failed to connect to database", "error", err)
		}
		defer database.Close()
		sqlStore := replica.NewSQLStore(database)
		if err := sqlStore.EnsureSchema(context.Background()); err != nil {
			log.Fatal("Failed to ensure replica schema", "error", err)
		}
		store = sqlStore
	} else {
		log.Warn("No database configured, replica state is in-memory only")
		store = replica.NewMemoryStore()
	}

	// Outbound event sinks.
	var pubs events.Multi
	var bus *events.NATSBus
	if cfg.Events.NATSURL != "" {
		bus, err = events.NewNATSBus(cfg.Events.NATSURL, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", "error", err)
		}
		defer bus.Close()
		pubs = append(pubs, bus)
	}
	if cfg.Events.WebhookURL != "" {
		pubs = append(pubs, events.NewWebhookNotifier(cfg.Events.WebhookURL))
	}
	var publisher events.Publisher = events.Nop{}
	if len(pubs) > 0 {
		publisher = pubs
	}

	var collector *metrics.Collector
	if cfg.Metrics.Addr != "" {
		collector = metrics.NewCollector()
		srv := collector.Serve(cfg.Metrics.Addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("Metrics server listening", "addr", cfg.Metrics.Addr)
	}

	// Remote store client and reconciliation engine.
	var client *reconcile.Client
	var syncer detect.Syncer = noopSyncer{}
	var stopCreator detect.RemoteStopCreator
	var distance detect.DistanceLookup
	if cfg.Remote.BaseURL != "" {
		client = reconcile.NewClient(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, log)
		syncer = reconcile.NewEngine(store, client, publisher, log, collector,
			cfg.Sync.RemoteToleranceM, cfg.Sync.AutoUpload)
		stopCreator = client
		distance = client
	} else {
		log.Warn("No remote store configured, running detection only")
	}

	source := signalsrc.NewCommandSource(cfg.Detection.ScanCommand, cfg.Detection.LocationCommand, log)
	tracker := detect.NewCandidateTracker(nil)
	resolver := detect.NewStopResolver(store, stopCreator, log, collector, cfg.Detection.StopToleranceM)
	machine := detect.NewTravelStateMachine(store, resolver, tracker, distance, publisher,
		log, collector, detect.Config{
			UserID:            cfg.Detection.UserID,
			WatchedNames:      cfg.Detection.WatchedNames,
			ThresholdUpDBM:    cfg.Detection.ThresholdUpDBM,
			ThresholdDownDBM:  cfg.Detection.ThresholdDownDBM,
			MinDwell:          cfg.Detection.MinDwell,
			DepartureDebounce: cfg.Detection.DepartureDebounce,
		}, nil)

	scheduler := detect.NewScheduler(detect.SchedulerConfig{
		ScanInterval:    cfg.Detection.ScanInterval,
		SyncInterval:    cfg.Sync.Interval,
		TravelRetention: cfg.Sync.TravelRetention,
	}, source, machine, syncer, store, log, collector)
	machine.OnTravelCompleted = scheduler.RequestSync

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Line-selection responses arrive asynchronously over NATS.
	if bus != nil {
		sub, err := bus.SubscribeLineSelections(func(sel events.LineSelection) {
			if err := machine.AssignLine(ctx, sel.TravelID, sel.LineID); err != nil {
				log.Error("Failed to apply line selection",
					"travel_id", sel.TravelID, "line_id", sel.LineID, "error", err)
			}
		})
		if err != nil {
			log.Fatal("Failed to subscribe to line selections", "error", err)
		}
		defer sub.Unsubscribe()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Start(ctx); err != nil {
			log.Error("Detection scheduler error", "error", err)
		}
	}()

	// Catch up with the remote store right away.
	scheduler.RequestSync()

	<-sigChan
	log.Info("Shutdown signal received")

	cancel()
	wg.Wait()

	log.Info("Commute tracker stopped")
}

// noopSyncer stands in when no remote store is configured.
type noopSyncer struct{}

func (noopSyncer) Sync(context.Context) error { return nil }
