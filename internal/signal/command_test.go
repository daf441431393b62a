package signal

import (
	"context"
	"testing"

	"github.com/commutetracker-core/internal/common/logger"
)

func TestParseScanOutput(t *testing.T) {
	out := "aa:bb:cc:dd:ee:ff\tBusA\t-62\n" +
		"11:22:33:44:55:66\tCafe Wifi\t-48\n" +
		"garbage line\n" +
		"de:ad:be:ef:00:01\tBusB\tnotanumber\n" +
		"\n"

	results := parseScanOutput(out)
	if len(results) != 2 {
		t.Fatalf("expected 2 parsed results, got %d", len(results))
	}
	if results[0].MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MAC must be uppercased, got %s", results[0].MAC)
	}
	if results[0].Name != "BusA" || results[0].RSSI != -62 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].Name != "Cafe Wifi" {
		t.Errorf("names with spaces must survive, got %q", results[1].Name)
	}
}

func TestParseLocationOutput(t *testing.T) {
	p, ok := parseLocationOutput("-37.8136\t144.9631\n")
	if !ok {
		t.Fatal("expected a valid fix")
	}
	if p.Lat != -37.8136 || p.Lon != 144.9631 {
		t.Errorf("unexpected point: %+v", p)
	}

	if _, ok := parseLocationOutput("no fix"); ok {
		t.Error("malformed output must not produce a fix")
	}
	if _, ok := parseLocationOutput(""); ok {
		t.Error("empty output must not produce a fix")
	}
}

func TestCommandSourceScan(t *testing.T) {
	src := NewCommandSource(
		`printf 'aa:bb:cc:dd:ee:ff\tBusA\t-62\n'`,
		`printf -- '-37.8136\t144.9631\n'`,
		logger.Discard(),
	)

	if _, ok := src.LastKnownLocation(); ok {
		t.Fatal("no location before the first scan")
	}

	if err := src.TriggerScan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	results := src.Results()
	if len(results) != 1 || results[0].Name != "BusA" {
		t.Fatalf("unexpected results: %+v", results)
	}
	loc, ok := src.LastKnownLocation()
	if !ok || loc.Lat != -37.8136 {
		t.Errorf("unexpected location: %+v ok=%v", loc, ok)
	}
}

func TestCommandSourceKeepsLastFixOnLocationFailure(t *testing.T) {
	src := NewCommandSource(`printf ''`, `printf '1.5\t2.5\n'`, logger.Discard())
	if err := src.TriggerScan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if _, ok := src.LastKnownLocation(); !ok {
		t.Fatal("expected a fix after the first scan")
	}

	// The location command starts failing; the stale fix must remain usable.
	src.locCmd = "exit 1"
	if err := src.TriggerScan(context.Background()); err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	loc, ok := src.LastKnownLocation()
	if !ok || loc.Lat != 1.5 {
		t.Errorf("stale fix must survive a location failure, got %+v ok=%v", loc, ok)
	}
}
