package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WATCHED_NETWORK_NAMES", "BusA")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Detection.ThresholdUpDBM != -70 || cfg.Detection.ThresholdDownDBM != -75 {
		t.Errorf("unexpected threshold defaults: %d/%d",
			cfg.Detection.ThresholdUpDBM, cfg.Detection.ThresholdDownDBM)
	}
	if cfg.Detection.MinDwell != 5*time.Second {
		t.Errorf("expected 5s min dwell, got %v", cfg.Detection.MinDwell)
	}
	if cfg.Detection.DepartureDebounce != 3*time.Second {
		t.Errorf("expected 3s debounce, got %v", cfg.Detection.DepartureDebounce)
	}
	if cfg.Detection.StopToleranceM != 6 {
		t.Errorf("expected 6m stop tolerance, got %v", cfg.Detection.StopToleranceM)
	}
	if cfg.Sync.Interval != 15*time.Minute {
		t.Errorf("expected 15m sync interval, got %v", cfg.Sync.Interval)
	}
	if cfg.Sync.RemoteToleranceM != 5 {
		t.Errorf("expected 5m remote tolerance, got %v", cfg.Sync.RemoteToleranceM)
	}
	if !cfg.Sync.AutoUpload {
		t.Error("auto upload must default to on")
	}
	if cfg.Database.Enabled() {
		t.Error("database must be off without DB_HOST")
	}
}

func TestLoadRequiresWatchedNames(t *testing.T) {
	t.Setenv("WATCHED_NETWORK_NAMES", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error without watched network names")
	}
}

func TestWatchedNamesList(t *testing.T) {
	t.Setenv("WATCHED_NETWORK_NAMES", " BusA , TramB,,MetroC ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	want := []string{"BusA", "TramB", "MetroC"}
	if len(cfg.Detection.WatchedNames) != len(want) {
		t.Fatalf("expected %d names, got %v", len(want), cfg.Detection.WatchedNames)
	}
	for i, n := range want {
		if cfg.Detection.WatchedNames[i] != n {
			t.Errorf("name %d: expected %q, got %q", i, n, cfg.Detection.WatchedNames[i])
		}
	}
}

func TestOverridesAndFallbacks(t *testing.T) {
	t.Setenv("WATCHED_NETWORK_NAMES", "BusA")
	t.Setenv("SIGNAL_THRESHOLD_UP_DBM", "-65")
	t.Setenv("MIN_DWELL", "8s")
	t.Setenv("SYNC_AUTO_UPLOAD", "off")
	t.Setenv("SCAN_INTERVAL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Detection.ThresholdUpDBM != -65 {
		t.Errorf("expected -65, got %d", cfg.Detection.ThresholdUpDBM)
	}
	if cfg.Detection.MinDwell != 8*time.Second {
		t.Errorf("expected 8s, got %v", cfg.Detection.MinDwell)
	}
	if cfg.Sync.AutoUpload {
		t.Error("expected auto upload off")
	}
	if cfg.Detection.ScanInterval != time.Second {
		t.Errorf("a bad duration must fall back to the default, got %v", cfg.Detection.ScanInterval)
	}
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{Host: "localhost", Port: "5432", User: "u", Password: "p", DBName: "d"}
	want := "host=localhost port=5432 user=u password=p dbname=d sslmode=disable"
	if got := db.ConnectionString(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
