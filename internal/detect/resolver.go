package detect

import (
	"context"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/common/metrics"
	"github.com/commutetracker-core/internal/geo"
	"github.com/commutetracker-core/internal/replica"
	"github.com/commutetracker-core/pkg/remote"
)

// RemoteStopCreator is the slice of the remote API the resolver needs to
// register a freshly created stop server-side.
type RemoteStopCreator interface {
	CreateStop(ctx context.Context, s remote.Stop) (*remote.Stop, error)
}

// StopResolver maps a location to a canonical stop. Stop identity is
// radius-based: any existing stop within toleranceM is "the same place",
// with ties broken by minimal distance.
type StopResolver struct {
	store      replica.Store
	remote     RemoteStopCreator
	logger     logger.Logger
	collector  *metrics.Collector
	toleranceM float64
}

func NewStopResolver(store replica.Store, rc RemoteStopCreator, log logger.Logger,
	col *metrics.Collector, toleranceM float64) *StopResolver {
	return &StopResolver{
		store:      store,
		remote:     rc,
		logger:     log,
		collector:  col,
		toleranceM: toleranceM,
	}
}

// Resolve returns the nearest stop within tolerance of p, or creates one.
// A created stop is pushed to the remote store right away; if that fails it
// stays provisional and unsynced until the next reconciliation pass picks it
// up. Given a stable stop set, repeated calls at the same coordinate return
// the same stop.
func (r *StopResolver) Resolve(ctx context.Context, p geo.Point) (*replica.Stop, error) {
	stops, err := r.store.Stops(ctx)
	if err != nil {
		return nil, err
	}

	var nearest *replica.Stop
	nearestDist := r.toleranceM
	for _, s := range stops {
		d := geo.DistanceMeters(p, geo.Point{Lat: s.Lat, Lon: s.Lon})
		if d <= nearestDist {
			nearest = s
			nearestDist = d
		}
	}
	if nearest != nil {
		if r.collector != nil {
			r.collector.StopsResolved.Inc()
		}
		return nearest, nil
	}

	created, err := r.store.NewLocalStop(ctx, p.Lat, p.Lon)
	if err != nil {
		return nil, err
	}
	if r.collector != nil {
		r.collector.StopsCreated.Inc()
	}
	r.logger.Info("Created new stop", "stop_id", created.ID, "lat", p.Lat, "lon", p.Lon)

	if r.remote != nil {
		remoteStop, err := r.remote.CreateStop(ctx, remote.Stop{Lat: p.Lat, Lon: p.Lon})
		if err != nil {
			r.logger.Warn("Remote stop creation failed, keeping provisional id",
				"stop_id", created.ID, "error", err)
			return created, nil
		}
		if err := r.store.RekeyStop(ctx, created.ID, remoteStop.ID); err != nil {
			return nil, err
		}
		return r.store.Stop(ctx, remoteStop.ID)
	}
	return created, nil
}
