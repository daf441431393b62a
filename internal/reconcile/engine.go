// Package reconcile brings the local replica and the remote authoritative
// store to a consistent state: bulk pull, deterministic merge, then a push
// of everything created offline.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/common/metrics"
	"github.com/commutetracker-core/internal/events"
	"github.com/commutetracker-core/internal/geo"
	"github.com/commutetracker-core/internal/replica"
	"github.com/commutetracker-core/pkg/remote"
)

// ErrSyncInFlight is returned when a pass is requested while another one is
// running. The request is dropped, not queued.
var ErrSyncInFlight = errors.New("reconcile: sync already in flight")

type Engine struct {
	store     replica.Store
	api       API
	publisher events.Publisher
	logger    logger.Logger
	collector *metrics.Collector

	// remoteToleranceM is the radius under which a pulled stop and a local
	// unsynced stop count as the same place.
	remoteToleranceM float64
	autoUpload       bool

	busy atomic.Bool
}

func NewEngine(store replica.Store, api API, pub events.Publisher, log logger.Logger,
	col *metrics.Collector, remoteToleranceM float64, autoUpload bool) *Engine {
	return &Engine{
		store:            store,
		api:              api,
		publisher:        pub,
		logger:           log,
		collector:        col,
		remoteToleranceM: remoteToleranceM,
		autoUpload:       autoUpload,
	}
}

// Sync runs one full reconciliation pass. At most one pass runs at a time
// system-wide; a second caller gets ErrSyncInFlight and nothing happens.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.busy.CompareAndSwap(false, true) {
		if e.collector != nil {
			e.collector.SyncSkipped.Inc()
		}
		return ErrSyncInFlight
	}
	defer e.busy.Store(false)

	start := time.Now()
	if e.collector != nil {
		e.collector.SyncPasses.Inc()
		defer func() {
			e.collector.SyncDuration.Observe(time.Since(start).Seconds())
		}()
	}

	if err := e.pullAndMerge(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.notifyUnauthorized()
			return err
		}
		e.countError("pull")
		return err
	}

	if err := e.push(ctx); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			e.notifyUnauthorized()
			return err
		}
		return err
	}

	if e.autoUpload {
		e.uploadTravels(ctx)
	}

	e.updateUnsyncedGauge(ctx)
	e.logger.Info("Reconciliation pass finished", "elapsed", time.Since(start))
	return nil
}

func (e *Engine) notifyUnauthorized() {
	e.logger.Warn("Remote store rejected credentials, aborting sync pass")
	if err := e.publisher.PublishSyncUnauthorized(events.SyncUnauthorized{
		EventID:   uuid.NewString(),
		EmittedAt: time.Now(),
	}); err != nil {
		e.logger.Error("Failed to publish unauthorized event", "error", err)
		if e.collector != nil {
			e.collector.EventPublishErrs.Inc()
		}
	} else if e.collector != nil {
		e.collector.EventsPublished.Inc()
	}
}

func (e *Engine) countError(stage string) {
	if e.collector != nil {
		e.collector.SyncErrors.WithLabelValues(stage).Inc()
	}
}

// pullAndMerge fetches the full remote reference set and folds it into the
// local replica. Remote wins on every field except lastRefresh, where the
// larger timestamp wins regardless of origin. Malformed entities are skipped
// and the pass continues.
func (e *Engine) pullAndMerge(ctx context.Context) error {
	snap, err := e.api.PullAll(ctx)
	if err != nil {
		return fmt.Errorf("pulling remote snapshot: %w", err)
	}

	for _, rv := range snap.Vehicles {
		if rv.MAC == "" {
			e.logger.Warn("Skipping remote vehicle without MAC")
			e.countError("merge")
			continue
		}
		if err := e.mergeVehicle(ctx, rv); err != nil {
			e.logger.Error("Vehicle merge failed", "mac", rv.MAC, "error", err)
			e.countError("merge")
		}
	}

	for _, rl := range snap.Lines {
		if rl.ID <= 0 {
			e.logger.Warn("Skipping remote line with invalid id", "id", rl.ID)
			e.countError("merge")
			continue
		}
		if err := e.mergeLine(ctx, rl); err != nil {
			e.logger.Error("Line merge failed", "line_id", rl.ID, "error", err)
			e.countError("merge")
		}
	}

	for _, rs := range snap.Stops {
		if rs.ID <= 0 {
			e.logger.Warn("Skipping remote stop with invalid id", "id", rs.ID)
			e.countError("merge")
			continue
		}
		if err := e.mergeStop(ctx, rs); err != nil {
			e.logger.Error("Stop merge failed", "stop_id", rs.ID, "error", err)
			e.countError("merge")
		}
	}

	return nil
}

func (e *Engine) mergeVehicle(ctx context.Context, rv remote.Vehicle) error {
	local, err := e.store.Vehicle(ctx, rv.MAC)
	if errors.Is(err, replica.ErrNotFound) {
		local = &replica.Vehicle{MAC: rv.MAC}
	} else if err != nil {
		return err
	}
	local.LineID = rv.LineID
	// Never regress a more recent local observation.
	if rv.LastRefresh.After(local.LastRefresh) {
		local.LastRefresh = rv.LastRefresh
	}
	local.Synced = true
	return e.store.SaveVehicle(ctx, local)
}

func (e *Engine) mergeLine(ctx context.Context, rl remote.Line) error {
	local, err := e.store.Line(ctx, rl.ID)
	if errors.Is(err, replica.ErrNotFound) {
		local = &replica.Line{ID: rl.ID}
	} else if err != nil {
		return err
	}
	local.Name = rl.Name
	local.Synced = true
	if err := e.store.SaveLine(ctx, local); err != nil {
		return err
	}
	// Apply vehicle-to-line links carried by the payload.
	for _, mac := range rl.VehicleMACs {
		v, err := e.store.Vehicle(ctx, mac)
		if errors.Is(err, replica.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if v.LineID == nil || *v.LineID != rl.ID {
			id := rl.ID
			v.LineID = &id
			if err := e.store.SaveVehicle(ctx, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) mergeStop(ctx context.Context, rs remote.Stop) error {
	local, err := e.store.Stop(ctx, rs.ID)
	if errors.Is(err, replica.ErrNotFound) {
		// Unknown server id: a local unsynced stop within tolerance is the
		// same place, so adopt the server id instead of duplicating.
		match, err := e.findUnsyncedStopNear(ctx, geo.Point{Lat: rs.Lat, Lon: rs.Lon})
		if err != nil {
			return err
		}
		if match != nil {
			if err := e.store.RekeyStop(ctx, match.ID, rs.ID); err != nil {
				return err
			}
			local, err = e.store.Stop(ctx, rs.ID)
			if err != nil {
				return err
			}
		} else {
			local = &replica.Stop{ID: rs.ID}
		}
	} else if err != nil {
		return err
	}

	local.Lat = rs.Lat
	local.Lon = rs.Lon
	local.Synced = true
	if err := e.store.SaveStop(ctx, local); err != nil {
		return err
	}

	for _, lineID := range rs.LineIDs {
		if err := e.store.LinkLineStop(ctx, lineID, rs.ID); err != nil {
			// The payload may reference a line this pass failed to merge;
			// skip the link, keep going.
			e.logger.Warn("Skipping line link for stop", "stop_id", rs.ID, "line_id", lineID, "error", err)
		}
	}
	return nil
}

func (e *Engine) findUnsyncedStopNear(ctx context.Context, p geo.Point) (*replica.Stop, error) {
	stops, err := e.store.Stops(ctx)
	if err != nil {
		return nil, err
	}
	var best *replica.Stop
	bestDist := e.remoteToleranceM
	for _, s := range stops {
		if s.Synced {
			continue
		}
		d := geo.DistanceMeters(p, geo.Point{Lat: s.Lat, Lon: s.Lon})
		if d <= bestDist {
			best = s
			bestDist = d
		}
	}
	return best, nil
}

// push sends every local entity still unsynced: update by natural key first,
// create when the remote does not know it. Stops and lines created remotely
// get their provisional ids rewritten to the server-assigned ones. Any
// failure leaves the entity unsynced for the next pass.
func (e *Engine) push(ctx context.Context) error {
	if err := e.pushStops(ctx); err != nil {
		return err
	}
	if err := e.pushLines(ctx); err != nil {
		return err
	}
	return e.pushVehicles(ctx)
}

func (e *Engine) pushStops(ctx context.Context) error {
	stops, err := e.store.Stops(ctx)
	if err != nil {
		return fmt.Errorf("listing stops: %w", err)
	}
	for _, s := range stops {
		if s.Synced {
			continue
		}
		payload := remote.Stop{ID: s.ID, Lat: s.Lat, Lon: s.Lon}
		if !replica.IsProvisional(s.ID) {
			err = e.api.UpdateStop(ctx, s.ID, payload)
			if err == nil {
				s.Synced = true
				if err := e.store.SaveStop(ctx, s); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			if !errors.Is(err, ErrNotFound) {
				e.logger.Warn("Stop update failed, will retry next pass", "stop_id", s.ID, "error", err)
				e.countError("push")
				continue
			}
		}
		created, err := e.api.CreateStop(ctx, payload)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			e.logger.Warn("Stop create failed, will retry next pass", "stop_id", s.ID, "error", err)
			e.countError("push")
			continue
		}
		if err := e.store.RekeyStop(ctx, s.ID, created.ID); err != nil {
			return fmt.Errorf("rekeying stop %d to %d: %w", s.ID, created.ID, err)
		}
		e.pushStopLinks(ctx, created.ID)
	}
	return nil
}

// pushStopLinks mirrors a freshly created stop's line links to the server,
// for pairs where both sides already carry server ids.
func (e *Engine) pushStopLinks(ctx context.Context, stopID int64) {
	s, err := e.store.Stop(ctx, stopID)
	if err != nil {
		e.logger.Warn("Cannot load stop for link push", "stop_id", stopID, "error", err)
		return
	}
	for _, lineID := range s.LineIDs {
		if replica.IsProvisional(lineID) {
			continue
		}
		if err := e.api.LinkLineStop(ctx, lineID, stopID); err != nil {
			e.logger.Warn("Line link push failed", "line_id", lineID, "stop_id", stopID, "error", err)
			e.countError("push")
		}
	}
}

func (e *Engine) pushLines(ctx context.Context) error {
	lines, err := e.store.Lines(ctx)
	if err != nil {
		return fmt.Errorf("listing lines: %w", err)
	}
	for _, l := range lines {
		if l.Synced {
			continue
		}
		payload := remote.Line{ID: l.ID, Name: l.Name}
		if !replica.IsProvisional(l.ID) {
			err = e.api.UpdateLine(ctx, l.ID, payload)
			if err == nil {
				l.Synced = true
				if err := e.store.SaveLine(ctx, l); err != nil {
					return err
				}
				continue
			}
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			if !errors.Is(err, ErrNotFound) {
				e.logger.Warn("Line update failed, will retry next pass", "line_id", l.ID, "error", err)
				e.countError("push")
				continue
			}
		}
		created, err := e.api.CreateLine(ctx, payload)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			e.logger.Warn("Line create failed, will retry next pass", "line_id", l.ID, "error", err)
			e.countError("push")
			continue
		}
		if err := e.store.RekeyLine(ctx, l.ID, created.ID); err != nil {
			return fmt.Errorf("rekeying line %d to %d: %w", l.ID, created.ID, err)
		}
		e.pushLineLinks(ctx, created.ID)
	}
	return nil
}

func (e *Engine) pushLineLinks(ctx context.Context, lineID int64) {
	l, err := e.store.Line(ctx, lineID)
	if err != nil {
		e.logger.Warn("Cannot load line for link push", "line_id", lineID, "error", err)
		return
	}
	for _, stopID := range l.StopIDs {
		if replica.IsProvisional(stopID) {
			continue
		}
		if err := e.api.LinkLineStop(ctx, lineID, stopID); err != nil {
			e.logger.Warn("Line link push failed", "line_id", lineID, "stop_id", stopID, "error", err)
			e.countError("push")
		}
	}
}

func (e *Engine) pushVehicles(ctx context.Context) error {
	vehicles, err := e.store.Vehicles(ctx)
	if err != nil {
		return fmt.Errorf("listing vehicles: %w", err)
	}
	for _, v := range vehicles {
		if v.Synced {
			continue
		}
		// A vehicle still pointing at a provisional line waits for the line
		// push to land first.
		if v.LineID != nil && replica.IsProvisional(*v.LineID) {
			continue
		}
		payload := remote.Vehicle{MAC: v.MAC, LineID: v.LineID, LastRefresh: v.LastRefresh}
		err = e.api.UpdateVehicle(ctx, v.MAC, payload)
		if errors.Is(err, ErrNotFound) {
			_, err = e.api.CreateVehicle(ctx, payload)
		}
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			e.logger.Warn("Vehicle push failed, will retry next pass", "mac", v.MAC, "error", err)
			e.countError("push")
			continue
		}
		v.Synced = true
		if err := e.store.SaveVehicle(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

// uploadTravels sends completed travels pending upload. Travels are
// append-only from the device's perspective; the server never sends them
// back.
func (e *Engine) uploadTravels(ctx context.Context) {
	travels, err := e.store.CompletedUnsynced(ctx)
	if err != nil {
		e.logger.Error("Listing pending travels failed", "error", err)
		e.countError("upload")
		return
	}
	for _, t := range travels {
		// Wait until every referenced id is server-assigned.
		if replica.IsProvisional(t.StartStopID) ||
			(t.EndStopID != nil && replica.IsProvisional(*t.EndStopID)) ||
			(t.LineID != nil && replica.IsProvisional(*t.LineID)) {
			continue
		}
		payload := remote.Travel{
			UserID:          t.UserID,
			StartedAt:       t.StartedAt,
			DurationSeconds: t.DurationSeconds,
			DistanceMeters:  t.DistanceMeters,
			VehicleMAC:      t.VehicleMAC,
			LineID:          t.LineID,
			StartStopID:     t.StartStopID,
			EndStopID:       *t.EndStopID,
		}
		if err := e.api.UploadTravel(ctx, payload); err != nil {
			e.logger.Warn("Travel upload failed, will retry next pass", "travel_id", t.ID, "error", err)
			e.countError("upload")
			continue
		}
		t.Synced = true
		if err := e.store.SaveTravel(ctx, t); err != nil {
			e.logger.Error("Marking travel synced failed", "travel_id", t.ID, "error", err)
		}
	}
}

func (e *Engine) updateUnsyncedGauge(ctx context.Context) {
	if e.collector == nil {
		return
	}
	var pending float64
	if vs, err := e.store.Vehicles(ctx); err == nil {
		for _, v := range vs {
			if !v.Synced {
				pending++
			}
		}
	}
	if ls, err := e.store.Lines(ctx); err == nil {
		for _, l := range ls {
			if !l.Synced {
				pending++
			}
		}
	}
	if ss, err := e.store.Stops(ctx); err == nil {
		for _, s := range ss {
			if !s.Synced {
				pending++
			}
		}
	}
	e.collector.PushedPending.Set(pending)
}
