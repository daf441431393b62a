// Package replica holds the locally persisted copy of shared transit
// reference data (vehicles, lines, stops) and the device-owned travels,
// together with the Store interface both the detection loop and the
// reconciliation engine write through.
package replica

import "time"

// Vehicle is keyed by its radio MAC address. LineID is a weak reference to
// the line the vehicle is currently believed to serve.
type Vehicle struct {
	MAC         string
	LineID      *int64
	LastRefresh time.Time
	Synced      bool
}

// Line is keyed by its server-assigned id. Locally created lines carry a
// provisional negative id until the first successful push. The set of
// vehicles currently assigned to a line is derived from Vehicle.LineID, not
// stored redundantly here.
type Line struct {
	ID      int64
	Name    string
	StopIDs []int64
	Synced  bool
}

// Stop is keyed by its server-assigned id (provisional negative until
// synced). Stop identity is radius-based, not key-based: two stops within
// tolerance of each other are the same place.
type Stop struct {
	ID      int64
	Lat     float64
	Lon     float64
	LineIDs []int64
	Synced  bool
}

// Travel is one vehicle-boarding episode. EndStopID is nil while the travel
// is open. Travels are device-owned and never merged with remote state.
type Travel struct {
	ID              int64
	UserID          int64
	StartedAt       time.Time
	DurationSeconds int64
	DistanceMeters  float64
	VehicleMAC      string
	LineID          *int64
	StartStopID     int64
	EndStopID       *int64
	Synced          bool
}

// Open reports whether the travel has not been closed yet.
func (t *Travel) Open() bool {
	return t.EndStopID == nil
}

// Binding is the scalar pair that survives process restarts: the network
// bound to the open travel and the travel's id. Absent when idle.
type Binding struct {
	NetworkMAC string
	TravelID   int64
}

// IsProvisional reports whether an id is a locally generated placeholder
// not yet replaced by a server-assigned one.
func IsProvisional(id int64) bool {
	return id < 0
}
