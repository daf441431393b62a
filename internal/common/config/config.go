package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Database  DatabaseConfig
	Remote    RemoteConfig
	Detection DetectionConfig
	Sync      SyncConfig
	Events    EventsConfig
	Metrics   MetricsConfig
	Logging   LoggingConfig
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RemoteConfig describes the authoritative remote store.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DetectionConfig tunes the scan loop and the boarding/alighting heuristics.
type DetectionConfig struct {
	UserID            int64
	WatchedNames      []string
	ScanInterval      time.Duration
	ThresholdUpDBM    int
	ThresholdDownDBM  int
	MinDwell          time.Duration
	DepartureDebounce time.Duration
	StopToleranceM    float64
	ScanCommand       string
	LocationCommand   string
}

type SyncConfig struct {
	Interval         time.Duration
	AutoUpload       bool
	RemoteToleranceM float64
	TravelRetention  time.Duration
}

type EventsConfig struct {
	NATSURL    string
	WebhookURL string
}

type MetricsConfig struct {
	Addr string
}

type LoggingConfig struct {
	Level    string
	FilePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", ""),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "commutetracker"),
		},
		Remote: RemoteConfig{
			BaseURL: getEnv("REMOTE_BASE_URL", ""),
			APIKey:  getEnv("REMOTE_API_KEY", ""),
			Timeout: getDurationEnv("REMOTE_TIMEOUT", 10*time.Second),
		},
		Detection: DetectionConfig{
			UserID:            getInt64Env("USER_ID", 1),
			WatchedNames:      getListEnv("WATCHED_NETWORK_NAMES"),
			ScanInterval:      getDurationEnv("SCAN_INTERVAL", time.Second),
			ThresholdUpDBM:    getIntEnv("SIGNAL_THRESHOLD_UP_DBM", -70),
			ThresholdDownDBM:  getIntEnv("SIGNAL_THRESHOLD_DOWN_DBM", -75),
			MinDwell:          getDurationEnv("MIN_DWELL", 5*time.Second),
			DepartureDebounce: getDurationEnv("DEPARTURE_DEBOUNCE", 3*time.Second),
			StopToleranceM:    getFloatEnv("STOP_TOLERANCE_M", 6),
			ScanCommand:       getEnv("SCAN_COMMAND", ""),
			LocationCommand:   getEnv("LOCATION_COMMAND", ""),
		},
		Sync: SyncConfig{
			Interval:         getDurationEnv("SYNC_INTERVAL", 15*time.Minute),
			AutoUpload:       getBoolEnv("SYNC_AUTO_UPLOAD", true),
			RemoteToleranceM: getFloatEnv("REMOTE_STOP_TOLERANCE_M", 5),
			TravelRetention:  getDurationEnv("TRAVEL_RETENTION", 90*24*time.Hour),
		},
		Events: EventsConfig{
			NATSURL:    getEnv("NATS_URL", ""),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			FilePath: getEnv("LOG_FILE", "commutetracker.log"),
		},
	}

	if len(cfg.Detection.WatchedNames) == 0 {
		return nil, fmt.Errorf("WATCHED_NETWORK_NAMES must list at least one network name")
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

// Enabled reports whether a Postgres replica is configured. Without it the
// service falls back to the in-memory store.
func (c *DatabaseConfig) Enabled() bool {
	return c.Host != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return defaultValue
}

func getListEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
