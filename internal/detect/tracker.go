// Package detect turns noisy periodic radio scans into boarding and
// alighting decisions: candidate tracking, stop resolution and the travel
// state machine driven by the scan loop.
package detect

import (
	"time"

	"github.com/commutetracker-core/internal/geo"
	"github.com/commutetracker-core/internal/signal"
)

// CandidateEntry is the ephemeral per-network tracking state: when the
// network was first seen above threshold and where the device was at that
// instant. Never persisted.
type CandidateEntry struct {
	FirstSeen   time.Time
	Location    geo.Point
	HasLocation bool
}

// CandidateTracker maintains the "time observed continuously" state for
// watch-listed networks and the single away timer for the network bound to
// an open travel. It is driven from one goroutine and keeps no locks.
type CandidateTracker struct {
	now        func() time.Time
	candidates map[string]*CandidateEntry

	awayStart   *time.Time
	awayAt      geo.Point
	awayHasLoc  bool
}

func NewCandidateTracker(now func() time.Time) *CandidateTracker {
	if now == nil {
		now = time.Now
	}
	return &CandidateTracker{
		now:        now,
		candidates: make(map[string]*CandidateEntry),
	}
}

// Observe processes one scan snapshot. Watch-listed networks seen above
// thresholdUp become candidates (timer anchored now, location captured now);
// a candidate seen below threshold, or not seen at all, is dropped, so brief
// flickers restart the dwell from scratch. Without a location fix no new
// candidate can be created, but existing timers keep running.
func (t *CandidateTracker) Observe(results []signal.ScanResult, watched map[string]bool,
	thresholdUp int, loc geo.Point, hasLoc bool) {
	seenAbove := make(map[string]bool)
	for _, r := range results {
		if !watched[r.Name] {
			continue
		}
		if r.RSSI > thresholdUp {
			seenAbove[r.MAC] = true
			if _, tracking := t.candidates[r.MAC]; !tracking && hasLoc {
				t.candidates[r.MAC] = &CandidateEntry{
					FirstSeen:   t.now(),
					Location:    loc,
					HasLocation: true,
				}
			}
		}
	}
	for mac := range t.candidates {
		if !seenAbove[mac] {
			delete(t.candidates, mac)
		}
	}
}

// Promote returns a candidate whose timer has run continuously for at least
// minDwell, removing it from the tracker. When several qualify the one
// observed longest wins.
func (t *CandidateTracker) Promote(minDwell time.Duration) (string, CandidateEntry, bool) {
	now := t.now()
	var bestMAC string
	var best *CandidateEntry
	for mac, e := range t.candidates {
		if now.Sub(e.FirstSeen) < minDwell {
			continue
		}
		if best == nil || e.FirstSeen.Before(best.FirstSeen) {
			bestMAC, best = mac, e
		}
	}
	if best == nil {
		return "", CandidateEntry{}, false
	}
	entry := *best
	delete(t.candidates, bestMAC)
	return bestMAC, entry, true
}

// ClearCandidates drops all tracked candidates. Called once a travel opens:
// only one travel may be open system-wide.
func (t *CandidateTracker) ClearCandidates() {
	t.candidates = make(map[string]*CandidateEntry)
}

// CandidateCount reports how many networks are currently tracked.
func (t *CandidateTracker) CandidateCount() int {
	return len(t.candidates)
}

// TrackDeparture inspects a scan for the network bound to the open travel.
// Seeing it at or above thresholdDown cancels any pending away timer. Seen
// below threshold or entirely absent, one shared away timer starts (anchored
// at the location known at that moment); once it has run for debounce the
// network is declared departed, with the alighting point being the location
// captured when the timer started.
func (t *CandidateTracker) TrackDeparture(activeMAC string, results []signal.ScanResult,
	thresholdDown int, debounce time.Duration, loc geo.Point, hasLoc bool) (bool, geo.Point, bool) {
	for _, r := range results {
		if r.MAC == activeMAC && r.RSSI >= thresholdDown {
			t.resetAway()
			return false, geo.Point{}, false
		}
	}

	now := t.now()
	if t.awayStart == nil {
		t.awayStart = &now
		t.awayAt = loc
		t.awayHasLoc = hasLoc
		return false, geo.Point{}, false
	}
	if now.Sub(*t.awayStart) >= debounce {
		at, ok := t.awayAt, t.awayHasLoc
		t.resetAway()
		return true, at, ok
	}
	return false, geo.Point{}, false
}

func (t *CandidateTracker) resetAway() {
	t.awayStart = nil
	t.awayHasLoc = false
}
