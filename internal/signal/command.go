package signal

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/commutetracker-core/internal/common/logger"
	"github.com/commutetracker-core/internal/geo"
)

// CommandSource shells out to platform tools for scanning and location.
// The scan command must print one network per line as "MAC<TAB>NAME<TAB>RSSI"
// and the location command a single "LAT<TAB>LON" line. Both commands are
// operator-supplied so the service stays portable across radio stacks.
type CommandSource struct {
	scanCmd string
	locCmd  string
	logger  logger.Logger

	mu      sync.RWMutex
	results []ScanResult
	lastFix *geo.Point
}

func NewCommandSource(scanCmd, locCmd string, log logger.Logger) *CommandSource {
	return &CommandSource{scanCmd: scanCmd, locCmd: locCmd, logger: log}
}

func (s *CommandSource) TriggerScan(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "sh", "-c", s.scanCmd).Output()
	if err != nil {
		return fmt.Errorf("running scan command: %w", err)
	}
	results := parseScanOutput(string(out))

	// Location is best effort: a failed fix degrades the cycle, it never
	// fails the scan.
	var fix *geo.Point
	if s.locCmd != "" {
		locOut, err := exec.CommandContext(ctx, "sh", "-c", s.locCmd).Output()
		if err != nil {
			s.logger.Warn("Location command failed", "error", err)
		} else if p, ok := parseLocationOutput(string(locOut)); ok {
			fix = &p
		}
	}

	s.mu.Lock()
	s.results = results
	if fix != nil {
		s.lastFix = fix
	}
	s.mu.Unlock()
	return nil
}

func (s *CommandSource) Results() []ScanResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ScanResult(nil), s.results...)
}

func (s *CommandSource) LastKnownLocation() (geo.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastFix == nil {
		return geo.Point{}, false
	}
	return *s.lastFix, true
}

func parseScanOutput(out string) []ScanResult {
	var results []ScanResult
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) != 3 {
			continue
		}
		rssi, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			continue
		}
		results = append(results, ScanResult{
			MAC:  strings.ToUpper(strings.TrimSpace(parts[0])),
			Name: strings.TrimSpace(parts[1]),
			RSSI: rssi,
		})
	}
	return results
}

func parseLocationOutput(out string) (geo.Point, bool) {
	parts := strings.Split(strings.TrimSpace(out), "\t")
	if len(parts) != 2 {
		return geo.Point{}, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: lat, Lon: lon}, true
}
