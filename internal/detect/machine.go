package detect

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/common/metrics"
	"github.com/commutetracker-core/internal/events"
	"github.com/commutetracker-core/internal/geo"
	"github.com/commutetracker-core/internal/replica"
	"github.com/commutetracker-core/internal/signal"
)

// DistanceLookup resolves the travelled distance between two stops via the
// external routing service.
type DistanceLookup interface {
	DistanceBetween(ctx context.Context, a, b *replica.Stop) (float64, error)
}

// Config carries the detection tuning knobs.
type Config struct {
	UserID            int64
	WatchedNames      []string
	ThresholdUpDBM    int
	ThresholdDownDBM  int
	MinDwell          time.Duration
	DepartureDebounce time.Duration
}

// TravelStateMachine decides travel start and end. Idle and Boarding are
// implicit in the tracker's candidate set; Aboard means one open travel with
// one bound network; ResolvingLine is Aboard with no line assigned yet,
// waiting for an asynchronous disambiguation response that may never come.
type TravelStateMachine struct {
	store     replica.Store
	resolver  *StopResolver
	tracker   *CandidateTracker
	distance  DistanceLookup
	publisher events.Publisher
	logger    logger.Logger
	collector *metrics.Collector
	cfg       Config
	watched   map[string]bool
	now       func() time.Time

	// OnTravelCompleted, when set, is invoked after a travel closes (the
	// post-travel sync trigger).
	OnTravelCompleted func()

	// transitions serializes travel mutations. Line assignments arrive on
	// the event bus goroutine while the scan loop opens and closes travels;
	// without this lock an assignment's read-modify-write could land after
	// a close and reopen the travel.
	transitions sync.Mutex

	mu             sync.Mutex
	activeMAC      string
	activeTravelID int64
}

func NewTravelStateMachine(store replica.Store, resolver *StopResolver, tracker *CandidateTracker,
	distance DistanceLookup, pub events.Publisher, log logger.Logger, col *metrics.Collector,
	cfg Config, now func() time.Time) *TravelStateMachine {
	if now == nil {
		now = time.Now
	}
	watched := make(map[string]bool, len(cfg.WatchedNames))
	for _, n := range cfg.WatchedNames {
		watched[n] = true
	}
	return &TravelStateMachine{
		store:     store,
		resolver:  resolver,
		tracker:   tracker,
		distance:  distance,
		publisher: pub,
		logger:    log,
		collector: col,
		cfg:       cfg,
		watched:   watched,
		now:       now,
	}
}

// Aboard reports whether a travel is currently open.
func (m *TravelStateMachine) Aboard() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeTravelID != 0
}

// Restore reads back the persisted (network, travel) binding so a restart
// while aboard resumes directly into Aboard instead of re-detecting the
// boarding and opening a duplicate travel.
func (m *TravelStateMachine) Restore(ctx context.Context) error {
	b, err := m.store.Binding(ctx)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	t, err := m.store.Travel(ctx, b.TravelID)
	if errors.Is(err, replica.ErrNotFound) || (err == nil && !t.Open()) {
		m.logger.Warn("Stale session binding, clearing", "travel_id", b.TravelID)
		return m.store.ClearBinding(ctx)
	}
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.activeMAC = b.NetworkMAC
	m.activeTravelID = b.TravelID
	m.mu.Unlock()
	m.logger.Info("Resumed open travel after restart",
		"travel_id", b.TravelID, "network", b.NetworkMAC)
	return nil
}

// HandleScan consumes one scan snapshot. It is called synchronously from the
// scan loop; tracker and state transitions never run concurrently with each
// other.
func (m *TravelStateMachine) HandleScan(ctx context.Context, results []signal.ScanResult,
	loc geo.Point, hasLoc bool) {
	m.mu.Lock()
	aboard := m.activeTravelID != 0
	activeMAC := m.activeMAC
	m.mu.Unlock()

	if aboard {
		departed, at, atOK := m.tracker.TrackDeparture(activeMAC, results,
			m.cfg.ThresholdDownDBM, m.cfg.DepartureDebounce, loc, hasLoc)
		if !departed {
			return
		}
		if !atOK {
			// Degraded: no fix at drop time, fall back to whatever we have.
			at, atOK = loc, hasLoc
		}
		if err := m.closeTravel(ctx, at, atOK); err != nil {
			m.logger.Error("Failed to close travel", "error", err)
		}
		return
	}

	m.tracker.Observe(results, m.watched, m.cfg.ThresholdUpDBM, loc, hasLoc)
	if m.collector != nil {
		m.collector.ActiveCandidates.Set(float64(m.tracker.CandidateCount()))
	}

	mac, entry, ok := m.tracker.Promote(m.cfg.MinDwell)
	if !ok {
		return
	}
	if err := m.beginTravel(ctx, mac, entry); err != nil {
		m.logger.Error("Failed to open travel", "network", mac, "error", err)
	}
}

func (m *TravelStateMachine) beginTravel(ctx context.Context, mac string, entry CandidateEntry) error {
	m.transitions.Lock()
	defer m.transitions.Unlock()

	vehicle, err := m.store.Vehicle(ctx, mac)
	if errors.Is(err, replica.ErrNotFound) {
		vehicle = &replica.Vehicle{MAC: mac}
	} else if err != nil {
		return err
	}
	vehicle.LastRefresh = m.now()
	vehicle.Synced = false

	startStop, err := m.resolver.Resolve(ctx, entry.Location)
	if err != nil {
		return err
	}

	travel := &replica.Travel{
		UserID:      m.cfg.UserID,
		StartedAt:   m.now(),
		VehicleMAC:  mac,
		StartStopID: startStop.ID,
	}
	created, err := m.store.BeginTravel(ctx, travel, vehicle)
	if err != nil {
		return err
	}

	m.tracker.ClearCandidates()
	m.mu.Lock()
	m.activeMAC = mac
	m.activeTravelID = created.ID
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.TravelsStarted.Inc()
		m.collector.ActiveCandidates.Set(0)
	}
	m.logger.Info("Travel opened", "travel_id", created.ID, "network", mac,
		"start_stop", startStop.ID)

	// One known line: assign it directly. Zero or several: hand the choice
	// to the user and keep scanning while the travel stays line-less.
	if len(startStop.LineIDs) == 1 {
		if err := m.assignLine(ctx, created.ID, startStop.LineIDs[0]); err != nil {
			m.logger.Error("Failed to assign sole line", "error", err)
		}
		return nil
	}
	req := events.DisambiguationRequest{
		EventID:          uuid.NewString(),
		TravelID:         created.ID,
		CandidateLineIDs: append([]int64(nil), startStop.LineIDs...),
		EmittedAt:        m.now(),
	}
	if err := m.publisher.PublishDisambiguation(req); err != nil {
		m.logger.Error("Failed to publish disambiguation request", "error", err)
		m.countPublish(false)
	} else {
		m.countPublish(true)
	}
	return nil
}

func (m *TravelStateMachine) countPublish(ok bool) {
	if m.collector == nil {
		return
	}
	if ok {
		m.collector.EventsPublished.Inc()
	} else {
		m.collector.EventPublishErrs.Inc()
	}
}

// AssignLine applies an external disambiguation response: sets the travel's
// line, links the line to the boarding stop on both sides, and propagates
// the line to the vehicle when it differs. Has no effect on the radio
// detection state. Safe to call from any goroutine; the assignment and the
// scan loop's transitions never interleave.
func (m *TravelStateMachine) AssignLine(ctx context.Context, travelID, lineID int64) error {
	m.transitions.Lock()
	defer m.transitions.Unlock()
	return m.assignLine(ctx, travelID, lineID)
}

func (m *TravelStateMachine) assignLine(ctx context.Context, travelID, lineID int64) error {
	travel, err := m.store.Travel(ctx, travelID)
	if err != nil {
		return err
	}

	if _, err := m.store.Line(ctx, lineID); errors.Is(err, replica.ErrNotFound) {
		// The collaborator may name a server-side line we have not pulled
		// yet; record it locally and let reconciliation fill in the name.
		if err := m.store.SaveLine(ctx, &replica.Line{ID: lineID}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	travel.LineID = &lineID
	if err := m.store.SaveTravel(ctx, travel); err != nil {
		return err
	}
	if err := m.store.LinkLineStop(ctx, lineID, travel.StartStopID); err != nil {
		return err
	}
	if travel.EndStopID != nil {
		if err := m.store.LinkLineStop(ctx, lineID, *travel.EndStopID); err != nil {
			return err
		}
	}

	vehicle, err := m.store.Vehicle(ctx, travel.VehicleMAC)
	if err != nil {
		return err
	}
	if vehicle.LineID == nil || *vehicle.LineID != lineID {
		vehicle.LineID = &lineID
		vehicle.LastRefresh = m.now()
		vehicle.Synced = false
		if err := m.store.SaveVehicle(ctx, vehicle); err != nil {
			return err
		}
	}
	m.logger.Info("Line assigned to travel", "travel_id", travelID, "line_id", lineID)
	return nil
}

func (m *TravelStateMachine) closeTravel(ctx context.Context, at geo.Point, atOK bool) error {
	m.transitions.Lock()
	defer m.transitions.Unlock()

	m.mu.Lock()
	travelID := m.activeTravelID
	m.mu.Unlock()

	travel, err := m.store.Travel(ctx, travelID)
	if err != nil {
		return err
	}
	startStop, err := m.store.Stop(ctx, travel.StartStopID)
	if err != nil {
		return err
	}

	var endStop *replica.Stop
	if atOK {
		endStop, err = m.resolver.Resolve(ctx, at)
		if err != nil {
			return err
		}
	} else {
		// No location at all during the drop window: the boarding stop is
		// the best alighting estimate we have.
		m.logger.Warn("Closing travel without a location fix", "travel_id", travelID)
		endStop = startStop
	}

	// Distance lookup failure is silent: the travel still closes with zero
	// distance and is never retried for distance alone.
	var dist float64
	if m.distance != nil {
		if d, err := m.distance.DistanceBetween(ctx, startStop, endStop); err != nil {
			m.logger.Warn("Distance lookup failed, defaulting to zero", "error", err)
		} else {
			dist = d
		}
	}

	now := m.now()
	endID := endStop.ID
	travel.EndStopID = &endID
	travel.DistanceMeters = dist
	travel.DurationSeconds = int64(now.Sub(travel.StartedAt).Seconds())
	if err := m.store.CloseTravel(ctx, travel); err != nil {
		return err
	}
	if travel.LineID != nil {
		if err := m.store.LinkLineStop(ctx, *travel.LineID, endID); err != nil {
			m.logger.Error("Failed to link line to alighting stop", "error", err)
		}
	}

	m.mu.Lock()
	m.activeMAC = ""
	m.activeTravelID = 0
	m.mu.Unlock()

	if m.collector != nil {
		m.collector.TravelsFinished.Inc()
	}
	m.logger.Info("Travel closed", "travel_id", travel.ID, "end_stop", endID,
		"duration_s", travel.DurationSeconds, "distance_m", dist)

	ev := events.TravelCompleted{
		EventID:         uuid.NewString(),
		TravelID:        travel.ID,
		DurationSeconds: travel.DurationSeconds,
		DistanceMeters:  travel.DistanceMeters,
		EmittedAt:       now,
	}
	if err := m.publisher.PublishTravelCompleted(ev); err != nil {
		m.logger.Error("Failed to publish travel completed event", "error", err)
		m.countPublish(false)
	} else {
		m.countPublish(true)
	}
	if m.OnTravelCompleted != nil {
		m.OnTravelCompleted()
	}
	return nil
}
