// Package signal is the OS boundary: it triggers radio scans and location
// fixes and exposes the latest results to the detection loop.
package signal

import (
	"context"

	"github.com/commutetracker-core/internal/geo"
)

// ScanResult is one network observed during a scan.
type ScanResult struct {
	MAC  string
	Name string
	// RSSI in dBm; closer to zero is stronger.
	RSSI int
}

// Source triggers scans and reports results. TriggerScan blocks until the
// scan completes or ctx is done; Results and LastKnownLocation return the
// data captured by the most recent completed scan.
type Source interface {
	TriggerScan(ctx context.Context) error
	Results() []ScanResult
	LastKnownLocation() (geo.Point, bool)
}
