// Package config loads and validates snapshot service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultTargetURL is the radar page captured when no override is configured.
const DefaultTargetURL = "https://nowcast.meteo.noa.gr/el/radar/"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Target   TargetConfig   `mapstructure:"target"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Consent  ConsentConfig  `mapstructure:"consent"`
	Annotate AnnotateConfig `mapstructure:"annotate"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Probe    ProbeConfig    `mapstructure:"probe"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int    `mapstructure:"port"`
	SnapshotRoute          string `mapstructure:"snapshot_route"`
	RefreshIntervalSeconds int    `mapstructure:"refresh_interval_seconds"`
	RequestTimeoutSeconds  int    `mapstructure:"request_timeout_seconds"`
}

// TargetConfig describes the page being captured.
type TargetConfig struct {
	URL             string `mapstructure:"url"`
	Ready           string `mapstructure:"ready"`
	ReadySelector   string `mapstructure:"ready_selector"`
	CaptureMode     string `mapstructure:"capture_mode"`
	CaptureSelector string `mapstructure:"capture_selector"`
}

// HeadlessConfig configures the per-run browser session.
type HeadlessConfig struct {
	ExecPath        string `mapstructure:"exec_path"`
	UserAgent       string `mapstructure:"user_agent"`
	NoSandbox       bool   `mapstructure:"no_sandbox"`
	ViewportWidth   int    `mapstructure:"viewport_width"`
	ViewportHeight  int    `mapstructure:"viewport_height"`
	NavTimeoutSec   int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs   int    `mapstructure:"settle_delay_ms"`
	IdleMaxInflight int    `mapstructure:"idle_max_inflight"`
	IdleQuietMs     int    `mapstructure:"idle_quiet_ms"`
}

// ConsentConfig configures cookie banner suppression.
type ConsentConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	Cookies          []ConsentCookie `mapstructure:"cookies"`
	BannerSelectors  []string        `mapstructure:"banner_selectors"`
	AcceptSelectors  []string        `mapstructure:"accept_selectors"`
	BlockURLPatterns []string        `mapstructure:"block_url_patterns"`
	PollWindowMs     int             `mapstructure:"poll_window_ms"`
	PollIntervalMs   int             `mapstructure:"poll_interval_ms"`
	SearchFrames     bool            `mapstructure:"search_frames"`
}

// ConsentCookie is pre-seeded into the browser before navigation.
type ConsentCookie struct {
	Name   string `mapstructure:"name"`
	Value  string `mapstructure:"value"`
	Domain string `mapstructure:"domain"`
	Path   string `mapstructure:"path"`
}

// AnnotateConfig styles the timestamp overlay.
type AnnotateConfig struct {
	TimeZone    string  `mapstructure:"time_zone"`
	Layout      string  `mapstructure:"layout"`
	FontSize    float64 `mapstructure:"font_size"`
	Color       string  `mapstructure:"color"`
	StrokeColor string  `mapstructure:"stroke_color"`
	StrokeWidth int     `mapstructure:"stroke_width"`
	Anchor      string  `mapstructure:"anchor"`
	Margin      int     `mapstructure:"margin"`
}

// StorageConfig selects where the latest snapshot lives.
type StorageConfig struct {
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	GCS     GCSStorageConfig   `mapstructure:"gcs"`
	Redis   RedisStorageConfig `mapstructure:"redis"`
}

// LocalStorageConfig points at the published file.
type LocalStorageConfig struct {
	Path string `mapstructure:"path"`
}

// GCSStorageConfig names the bucket object holding the snapshot.
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// RedisStorageConfig names the key holding the snapshot.
type RedisStorageConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// ScheduleConfig controls the recurring trigger.
type ScheduleConfig struct {
	PeriodSeconds     int  `mapstructure:"period_seconds"`
	RunTimeoutSeconds int  `mapstructure:"run_timeout_seconds"`
	RunOnStart        bool `mapstructure:"run_on_start"`
}

// ProbeConfig toggles the pre-flight reachability probe.
type ProbeConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// NotifyConfig holds publish notification settings.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RADARSNAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := applyPortEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyPortEnv lets the platform-provided PORT win over configured values.
func applyPortEnv(cfg *Config) error {
	raw := strings.TrimSpace(os.Getenv("PORT"))
	if raw == "" {
		return nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse PORT %q: %w", raw, err)
	}
	cfg.Server.Port = port
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.snapshot_route", "/radar-latest.png")
	v.SetDefault("server.refresh_interval_seconds", 30)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("target.url", DefaultTargetURL)
	v.SetDefault("target.ready", "networkidle")
	v.SetDefault("target.capture_mode", "viewport")
	v.SetDefault("target.ready_selector", "")
	v.SetDefault("target.capture_selector", "")
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.user_agent", "")
	v.SetDefault("headless.no_sandbox", true)
	v.SetDefault("headless.viewport_width", 1280)
	v.SetDefault("headless.viewport_height", 960)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 2500)
	v.SetDefault("headless.idle_max_inflight", 2)
	v.SetDefault("headless.idle_quiet_ms", 500)
	v.SetDefault("consent.enabled", true)
	v.SetDefault("consent.banner_selectors", []string{"#cookies-popup", ".cookies-bar", ".cookie-consent"})
	v.SetDefault("consent.accept_selectors", []string{})
	v.SetDefault("consent.block_url_patterns", []string{})
	v.SetDefault("consent.poll_window_ms", 5000)
	v.SetDefault("consent.poll_interval_ms", 250)
	v.SetDefault("consent.search_frames", true)
	v.SetDefault("annotate.time_zone", "Europe/Athens")
	v.SetDefault("annotate.layout", "02/01/2006, 15:04")
	v.SetDefault("annotate.font_size", 22)
	v.SetDefault("annotate.color", "yellow")
	v.SetDefault("annotate.stroke_color", "")
	v.SetDefault("annotate.stroke_width", 0)
	v.SetDefault("annotate.anchor", "top-left")
	v.SetDefault("annotate.margin", 10)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.path", "radar-latest.png")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.object", "radar-latest.png")
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", "radarsnap:latest")
	v.SetDefault("schedule.period_seconds", 300)
	v.SetDefault("schedule.run_timeout_seconds", 120)
	v.SetDefault("schedule.run_on_start", true)
	v.SetDefault("probe.enabled", false)
	v.SetDefault("probe.timeout_seconds", 10)
	v.SetDefault("probe.user_agent", "")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "radarsnap")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !strings.HasPrefix(c.Server.SnapshotRoute, "/") || len(c.Server.SnapshotRoute) < 2 {
		return fmt.Errorf("server.snapshot_route must start with / and name a file")
	}
	if u, err := url.Parse(c.Target.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("target.url must be an absolute URL")
	}
	switch c.Target.Ready {
	case "load", "networkidle":
	case "selector":
		if c.Target.ReadySelector == "" {
			return fmt.Errorf("target.ready_selector must be set when target.ready is selector")
		}
	default:
		return fmt.Errorf("target.ready must be one of load, networkidle, selector")
	}
	switch c.Target.CaptureMode {
	case "viewport", "full":
	case "element":
		if c.Target.CaptureSelector == "" {
			return fmt.Errorf("target.capture_selector must be set when target.capture_mode is element")
		}
	default:
		return fmt.Errorf("target.capture_mode must be one of viewport, full, element")
	}
	if c.Headless.ViewportWidth <= 0 || c.Headless.ViewportHeight <= 0 {
		return fmt.Errorf("headless.viewport_width and headless.viewport_height must be > 0")
	}
	if c.Headless.NavTimeoutSec <= 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be > 0")
	}
	if c.Headless.SettleDelayMs < 0 {
		return fmt.Errorf("headless.settle_delay_ms must be >= 0")
	}
	if c.Annotate.FontSize <= 0 {
		return fmt.Errorf("annotate.font_size must be > 0")
	}
	if c.Schedule.PeriodSeconds <= 0 {
		return fmt.Errorf("schedule.period_seconds must be > 0")
	}
	if c.Schedule.RunTimeoutSeconds <= 0 {
		return fmt.Errorf("schedule.run_timeout_seconds must be > 0")
	}
	switch c.Storage.Backend {
	case "local":
		if strings.TrimSpace(c.Storage.Local.Path) == "" {
			return fmt.Errorf("storage.local.path must be set for the local backend")
		}
	case "memory":
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket must be set for the gcs backend")
		}
	case "redis":
		if c.Storage.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs, redis")
	}
	return nil
}

// Period returns the schedule period as a duration.
func (c Config) Period() time.Duration {
	return time.Duration(c.Schedule.PeriodSeconds) * time.Second
}

// RunTimeout returns the overall per-run deadline.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Schedule.RunTimeoutSeconds) * time.Second
}
