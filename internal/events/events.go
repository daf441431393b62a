// Package events carries the core's outbound messages (disambiguation
// requests, travel completions, auth failures) to whatever presentation
// layer is listening, and receives asynchronous line-selection responses.
package events

import "time"

// DisambiguationRequest asks an external collaborator to pick the line for
// an open travel. CandidateLineIDs is empty when the boarding stop has no
// known lines at all.
type DisambiguationRequest struct {
	EventID          string    `json:"eventId"`
	TravelID         int64     `json:"travelId"`
	CandidateLineIDs []int64   `json:"candidateLineIds"`
	EmittedAt        time.Time `json:"emittedAt"`
}

// TravelCompleted announces a closed travel.
type TravelCompleted struct {
	EventID         string    `json:"eventId"`
	TravelID        int64     `json:"travelId"`
	DurationSeconds int64     `json:"durationSeconds"`
	DistanceMeters  float64   `json:"distanceMeters"`
	EmittedAt       time.Time `json:"emittedAt"`
}

// SyncUnauthorized signals that the remote store rejected our credentials;
// the auth collaborator owns the re-login flow.
type SyncUnauthorized struct {
	EventID   string    `json:"eventId"`
	EmittedAt time.Time `json:"emittedAt"`
}

// LineSelection is the asynchronous response to a DisambiguationRequest.
type LineSelection struct {
	TravelID int64 `json:"travelId"`
	LineID   int64 `json:"lineId"`
}

// Publisher is the outbound sink. Implementations must be safe for
// concurrent use; publish failures are reported but never block the
// detection loop.
type Publisher interface {
	PublishDisambiguation(req DisambiguationRequest) error
	PublishTravelCompleted(ev TravelCompleted) error
	PublishSyncUnauthorized(ev SyncUnauthorized) error
}

// Nop discards all events.
type Nop struct{}

func (Nop) PublishDisambiguation(DisambiguationRequest) error { return nil }
func (Nop) PublishTravelCompleted(TravelCompleted) error      { return nil }
func (Nop) PublishSyncUnauthorized(SyncUnauthorized) error    { return nil }

// Multi fans an event out to every wrapped publisher, returning the first
// error encountered after trying them all.
type Multi []Publisher

func (m Multi) PublishDisambiguation(req DisambiguationRequest) error {
	var first error
	for _, p := range m {
		if err := p.PublishDisambiguation(req); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) PublishTravelCompleted(ev TravelCompleted) error {
	var first error
	for _, p := range m {
		if err := p.PublishTravelCompleted(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) PublishSyncUnauthorized(ev SyncUnauthorized) error {
	var first error
	for _, p := range m {
		if err := p.PublishSyncUnauthorized(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
