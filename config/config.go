package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Driverlink DriverlinkConfig `yaml:"driverlink"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Status     StatusConfig     `yaml:"status"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type DriverlinkConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// RealtimeConfig carries everything the coordinator and its transport
// channels need. It is passed by value into each channel at construction and
// again on config updates.
type RealtimeConfig struct {
	BaseURL    string `yaml:"base_url"`
	TenantID   string `yaml:"tenant_id"`
	TenantHost string `yaml:"tenant_host"`
	DriverID   string `yaml:"driver_id"`
	AuthToken  string `yaml:"auth_token"`

	Transports TransportsConfig `yaml:"transports"`
	Socket     SocketConfig     `yaml:"socket"`
	Poll       PollConfig       `yaml:"poll"`
	Push       PushConfig       `yaml:"push"`
	Dedup      DedupConfig      `yaml:"dedup"`
}

// TransportsConfig selects which channels the coordinator starts. Primary is
// advisory: it names the transport the host treats as its main feed.
type TransportsConfig struct {
	Socket  bool   `yaml:"socket"`
	Poll    bool   `yaml:"poll"`
	Push    bool   `yaml:"push"`
	Primary string `yaml:"primary"`
}

type SocketConfig struct {
	Endpoint             string        `yaml:"endpoint"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
}

type PollConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	Interval         time.Duration `yaml:"interval"`
	Timeout          time.Duration `yaml:"timeout"`
	CacheWindow      time.Duration `yaml:"cache_window"`
	FailureThreshold int           `yaml:"failure_threshold"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type PushConfig struct {
	TopicPrefix string `yaml:"topic_prefix"`
	RoleTopic   string `yaml:"role_topic"`
}

type DedupConfig struct {
	Window        time.Duration `yaml:"window"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StatusConfig controls the local HTTP status endpoint.
type StatusConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Address      string `yaml:"address"`
	EventHistory int    `yaml:"event_history"`
}

type MetricsConfig struct {
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
	ReportInterval time.Duration    `yaml:"report_interval"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	DashboardName   string `yaml:"dashboard_name"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// Defaults applied when the file leaves tuning knobs unset. The poll interval
// floor exists to keep many devices from hammering a single endpoint.
const (
	DefaultReconnectInterval    = 5 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultPingInterval         = 20 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultPollInterval         = 60 * time.Second
	MinPollInterval             = 30 * time.Second
	DefaultPollTimeout          = 15 * time.Second
	DefaultCacheWindow          = 10 * time.Second
	DefaultFailureThreshold     = 5
	DefaultDedupWindow          = 60 * time.Second
	DefaultSweepInterval        = 30 * time.Second
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Secrets come from the environment when present.
	if v := os.Getenv("DRIVERLINK_AUTH_TOKEN"); v != "" {
		config.Realtime.AuthToken = strings.TrimSpace(v)
	}
	if config.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}

	config.Realtime.ApplyDefaults()

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills unset tuning fields and clamps the poll interval to the
// permitted minimum.
func (r *RealtimeConfig) ApplyDefaults() {
	if r.Socket.ReconnectInterval <= 0 {
		r.Socket.ReconnectInterval = DefaultReconnectInterval
	}
	if r.Socket.MaxReconnectAttempts <= 0 {
		r.Socket.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if r.Socket.PingInterval <= 0 {
		r.Socket.PingInterval = DefaultPingInterval
	}
	if r.Socket.HandshakeTimeout <= 0 {
		r.Socket.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if r.Poll.Interval <= 0 {
		r.Poll.Interval = DefaultPollInterval
	}
	if r.Poll.Interval < MinPollInterval {
		r.Poll.Interval = MinPollInterval
	}
	if r.Poll.Timeout <= 0 {
		r.Poll.Timeout = DefaultPollTimeout
	}
	if r.Poll.CacheWindow <= 0 {
		r.Poll.CacheWindow = DefaultCacheWindow
	}
	if r.Poll.FailureThreshold <= 0 {
		r.Poll.FailureThreshold = DefaultFailureThreshold
	}
	if r.Dedup.Window <= 0 {
		r.Dedup.Window = DefaultDedupWindow
	}
	if r.Dedup.SweepInterval <= 0 {
		r.Dedup.SweepInterval = DefaultSweepInterval
	}
	if r.Push.RoleTopic == "" {
		r.Push.RoleTopic = "drivers"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Driverlink.Name == "" {
		return fmt.Errorf("driverlink.name is required")
	}

	if cfg.Driverlink.Version == "" {
		return fmt.Errorf("driverlink.version is required")
	}

	if err := cfg.Realtime.Validate(); err != nil {
		return err
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if cfg.Metrics.CloudWatch.Region == "" {
			return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
		}
	}

	return nil
}

// Validate checks the realtime section. The tenant id is mandatory: socket
// authentication and push topic scoping both depend on it.
func (r *RealtimeConfig) Validate() error {
	if r.BaseURL == "" {
		return fmt.Errorf("realtime.base_url is required")
	}
	if r.TenantID == "" {
		return fmt.Errorf("realtime.tenant_id is required")
	}
	if r.DriverID == "" {
		return fmt.Errorf("realtime.driver_id is required")
	}
	if !r.Transports.Socket && !r.Transports.Poll && !r.Transports.Push {
		return fmt.Errorf("realtime.transports must enable at least one channel")
	}
	if r.Transports.Socket && r.Socket.Endpoint == "" {
		return fmt.Errorf("realtime.socket.endpoint is required when the socket transport is enabled")
	}
	if r.Transports.Poll && r.Poll.Endpoint == "" {
		return fmt.Errorf("realtime.poll.endpoint is required when the poll transport is enabled")
	}
	switch r.Transports.Primary {
	case "", "socket", "poll", "push":
	default:
		return fmt.Errorf("realtime.transports.primary '%s' is invalid", r.Transports.Primary)
	}
	return nil
}
