// Package remote defines the JSON payloads exchanged with the authoritative
// remote store.
package remote

import "time"

type Vehicle struct {
	MAC         string    `json:"mac"`
	LineID      *int64    `json:"lineId,omitempty"`
	LastRefresh time.Time `json:"lastRefresh"`
}

type Line struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	StopIDs     []int64  `json:"stopIds,omitempty"`
	VehicleMACs []string `json:"vehicleMacs,omitempty"`
}

type Stop struct {
	ID      int64   `json:"id"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	LineIDs []int64 `json:"lineIds,omitempty"`
}

// Snapshot is the bulk pull payload: the full remote reference set with its
// relationships.
type Snapshot struct {
	Vehicles []Vehicle `json:"vehicles"`
	Lines    []Line    `json:"lines"`
	Stops    []Stop    `json:"stops"`
}

type Travel struct {
	UserID          int64     `json:"userId"`
	StartedAt       time.Time `json:"startedAt"`
	DurationSeconds int64     `json:"durationSeconds"`
	DistanceMeters  float64   `json:"distanceMeters"`
	VehicleMAC      string    `json:"vehicleMac"`
	LineID          *int64    `json:"lineId,omitempty"`
	StartStopID     int64     `json:"startStopId"`
	EndStopID       int64     `json:"endStopId"`
}

type Distance struct {
	Meters float64 `json:"meters"`
}
