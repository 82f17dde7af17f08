// Package config provides application configuration for AtomHub.
//
// Configuration is loaded from an optional JSON file and overridden by
// environment variables, mirroring the process environment the hub and
// listener binaries are deployed with.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/JevgeniGandsuUT/TallinnATOM/errors"
)

// Duration wraps time.Duration with JSON support for "1s"-style strings
// and plain millisecond numbers.
type Duration time.Duration

// UnmarshalJSON parses either a duration string ("10s") or milliseconds (10000)
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value) * time.Millisecond)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration type %T", v)
	}
}

// MarshalJSON renders the duration as a string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// InfluxConfig holds the time-series store connection settings
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`

	// QueryTimeout bounds every store query; a timed-out query is treated
	// like any other refresh failure and stale data is served instead.
	QueryTimeout Duration `json:"query_timeout"`
}

// NATSConfig holds the ingest bus connection settings
type NATSConfig struct {
	URL           string `json:"url"`
	StatusSubject string `json:"status_subject"`
	InitSubject   string `json:"init_subject"`
}

// Config represents the complete application configuration
type Config struct {
	HTTPAddr string `json:"http_addr"`

	Influx InfluxConfig `json:"influx"`
	NATS   NATSConfig   `json:"nats"`

	Team        string `json:"team"`
	Measurement string `json:"measurement"`

	// Range is the lookback window for the latest-state query.
	Range Duration `json:"range"`

	// OfflineThreshold drives the online/offline classification. It is
	// evaluated when a merge runs, so staleness detection can lag by up to
	// one cache TTL plus one refresh duration.
	OfflineThreshold Duration `json:"offline_threshold"`

	// CacheTTL bounds how long a merged snapshot set is served without a
	// fresh store query.
	CacheTTL Duration `json:"cache_ttl"`

	// StreamInterval is the live stream tick cadence, clamped to 300ms.
	StreamInterval Duration `json:"stream_interval"`

	// StreamRetry is the reconnect-interval directive sent to subscribers.
	StreamRetry Duration `json:"stream_retry"`

	// HistoryEventWindow is the fine aggregation window for the valve
	// transition timeline. HistoryChartWindow is the coarse window for the
	// pressure chart series.
	HistoryEventWindow Duration `json:"history_event_window"`
	HistoryChartWindow Duration `json:"history_chart_window"`

	// TemplatesDir is where per-device init fragments are stored.
	TemplatesDir string `json:"templates_dir"`

	EnableCORS bool `json:"enable_cors"`
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	return &Config{
		HTTPAddr: ":5000",
		Influx: InfluxConfig{
			URL:          "http://127.0.0.1:8086",
			QueryTimeout: Duration(60 * time.Second),
		},
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			StatusSubject: "sensors.*.status",
			InitSubject:   "sensors.*.init",
		},
		Team:               "TallinnAtom",
		Measurement:        "device_status",
		Range:              Duration(10 * time.Minute),
		OfflineThreshold:   Duration(15 * time.Second),
		CacheTTL:           Duration(time.Second),
		StreamInterval:     Duration(2 * time.Second),
		StreamRetry:        Duration(2 * time.Second),
		HistoryEventWindow: Duration(time.Second),
		HistoryChartWindow: Duration(10 * time.Second),
		TemplatesDir:       "device_templates",
	}
}

// Load reads configuration from an optional JSON file, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "read file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "Config", "Load", "parse file")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides configuration from the process environment
func (c *Config) applyEnv() {
	setString(&c.Influx.URL, "INFLUX_URL")
	setString(&c.Influx.Token, "INFLUX_TOKEN")
	setString(&c.Influx.Org, "INFLUX_ORG")
	setString(&c.Influx.Bucket, "INFLUX_BUCKET")
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Team, "TEAM_FILTER")
	setString(&c.Measurement, "INFLUX_MEASUREMENT")
	setString(&c.TemplatesDir, "DEVICE_TEMPLATES_DIR")

	if port, ok := lookupInt("PORT"); ok {
		c.HTTPAddr = fmt.Sprintf(":%d", port)
	}
	if v, ok := lookupInt("OFFLINE_SECONDS"); ok {
		c.OfflineThreshold = Duration(time.Duration(v) * time.Second)
	}
	if v, ok := lookupInt("SSE_INTERVAL_MS"); ok {
		c.StreamInterval = Duration(time.Duration(v) * time.Millisecond)
	}
	if v, ok := lookupInt("INFLUX_TIMEOUT_MS"); ok {
		c.Influx.QueryTimeout = Duration(time.Duration(v) * time.Millisecond)
	}
	if v, ok := lookupFloat("CACHE_TTL_SEC"); ok {
		c.CacheTTL = Duration(time.Duration(v * float64(time.Second)))
	}
	if v := os.Getenv("INFLUX_RANGE"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			c.Range = Duration(parsed)
		}
	}
	if v := os.Getenv("HISTORY_WINDOW_EVERY"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			c.HistoryEventWindow = Duration(parsed)
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func lookupInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Validate checks required settings and clamps tunables to safe ranges
func (c *Config) Validate() error {
	if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"influx url, org and bucket are required")
	}
	if c.Measurement == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"measurement is required")
	}

	// Clamp the stream cadence to avoid a busy loop
	if c.StreamInterval.Std() < 300*time.Millisecond {
		c.StreamInterval = Duration(300 * time.Millisecond)
	}
	if c.StreamRetry.Std() <= 0 {
		c.StreamRetry = Duration(2 * time.Second)
	}
	if c.CacheTTL.Std() <= 0 {
		c.CacheTTL = Duration(time.Second)
	}
	if c.Influx.QueryTimeout.Std() <= 0 {
		c.Influx.QueryTimeout = Duration(60 * time.Second)
	}
	if c.OfflineThreshold.Std() <= 0 {
		c.OfflineThreshold = Duration(15 * time.Second)
	}
	if c.Range.Std() <= 0 {
		c.Range = Duration(10 * time.Minute)
	}
	if c.HistoryEventWindow.Std() <= 0 {
		c.HistoryEventWindow = Duration(time.Second)
	}
	if c.HistoryChartWindow.Std() <= 0 {
		c.HistoryChartWindow = Duration(10 * time.Second)
	}

	return nil
}
