package replica

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point lookups when no entity has the given key.
var ErrNotFound = errors.New("replica: not found")

// Store is the local replica. Every method is one atomic logical step: a
// method that touches several entities (BeginTravel, CloseTravel,
// LinkLineStop, the rekey operations) commits all of its writes or none.
// Readers observe consistent snapshots and may run concurrently with the
// single writer.
type Store interface {
	Vehicle(ctx context.Context, mac string) (*Vehicle, error)
	Vehicles(ctx context.Context) ([]*Vehicle, error)
	// SaveVehicle inserts or fully overwrites a vehicle keyed by MAC.
	SaveVehicle(ctx context.Context, v *Vehicle) error

	Line(ctx context.Context, id int64) (*Line, error)
	Lines(ctx context.Context) ([]*Line, error)
	SaveLine(ctx context.Context, l *Line) error
	// NewLocalLine creates an unsynced line under a provisional negative id.
	NewLocalLine(ctx context.Context, name string) (*Line, error)
	// RekeyLine replaces a provisional line id with the server-assigned one,
	// rewriting every reference (vehicles, stops, travels) and marking the
	// line synced. If a line already exists under newID the provisional
	// record is folded into it, links merged.
	RekeyLine(ctx context.Context, oldID, newID int64) error

	Stop(ctx context.Context, id int64) (*Stop, error)
	Stops(ctx context.Context) ([]*Stop, error)
	SaveStop(ctx context.Context, s *Stop) error
	// NewLocalStop creates an unsynced stop under a provisional negative id.
	NewLocalStop(ctx context.Context, lat, lon float64) (*Stop, error)
	// RekeyStop replaces a provisional stop id with the server-assigned one,
	// rewriting every reference (lines, travels) and marking the stop
	// synced. If a stop already exists under newID (the server deduplicated
	// to a place we already hold) the provisional record is folded into it.
	RekeyStop(ctx context.Context, oldID, newID int64) error

	// LinkLineStop records the line<->stop association on both sides in one
	// transaction. Linking an already linked pair is a no-op.
	LinkLineStop(ctx context.Context, lineID, stopID int64) error

	// OpenTravel returns the single open travel, or nil when idle.
	OpenTravel(ctx context.Context) (*Travel, error)
	Travel(ctx context.Context, id int64) (*Travel, error)
	// BeginTravel creates the travel, upserts its vehicle and persists the
	// (network, travel) binding in one transaction. The returned travel
	// carries the assigned id.
	BeginTravel(ctx context.Context, t *Travel, v *Vehicle) (*Travel, error)
	SaveTravel(ctx context.Context, t *Travel) error
	// CloseTravel overwrites the travel with its closed state and clears the
	// binding in one transaction.
	CloseTravel(ctx context.Context, t *Travel) error
	// CompletedUnsynced lists closed travels not yet uploaded.
	CompletedUnsynced(ctx context.Context) ([]*Travel, error)
	// PruneTravels deletes synced closed travels older than the cutoff and
	// returns how many were removed.
	PruneTravels(ctx context.Context, olderThan time.Time) (int64, error)

	// Binding returns the persisted (network, travel) pair, or nil when idle.
	Binding(ctx context.Context) (*Binding, error)
	ClearBinding(ctx context.Context) error
}
