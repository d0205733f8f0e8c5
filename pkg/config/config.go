package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"deskbridge/pkg/validation"

	"gopkg.in/yaml.v2"
)

// InsecureDefaultSecret is shipped in DefaultConfig and must be replaced
// for any deployment reachable from the network.
const InsecureDefaultSecret = "change-me-in-production"

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		EventBuffer    int           `yaml:"event_buffer"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []ICEServer `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		GatherTimeout time.Duration `yaml:"gather_timeout"`
	} `yaml:"webrtc"`

	Streaming struct {
		ScreenIndex       int           `yaml:"screen_index"`
		Width             int           `yaml:"width"`
		Height            int           `yaml:"height"`
		Framerate         int           `yaml:"framerate"`
		Quality           string        `yaml:"quality"`
		Bitrate           int           `yaml:"bitrate"` // kbps, 0 derives it from quality
		Codec             string        `yaml:"codec"`
		StatsInterval     time.Duration `yaml:"stats_interval"`
		AdaptiveQuality   bool          `yaml:"adaptive_quality"`
		MinSwitchInterval time.Duration `yaml:"min_switch_interval"`
		ScreenCacheTTL    time.Duration `yaml:"screen_cache_ttl"`
	} `yaml:"streaming"`

	Input struct {
		Backend        string        `yaml:"backend"` // xdotool | log
		Display        string        `yaml:"display"`
		Binary         string        `yaml:"binary"`
		CommandTimeout time.Duration `yaml:"command_timeout"`
	} `yaml:"input"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		// PrometheusPort serves /metrics on a separate listener; 0 serves it on the main server.
		PrometheusPort int `yaml:"prometheus_port"`
		// MetricsInterval is how often stream stats are sampled into metrics.
		MetricsInterval time.Duration `yaml:"metrics_interval"`
		HealthInterval  time.Duration `yaml:"health_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled        bool   `yaml:"enabled"`
		Address        string `yaml:"address"`
		Password       string `yaml:"password"`
		DB             int    `yaml:"db"`
		PoolSize       int    `yaml:"pool_size"`
		ConnectRetries int    `yaml:"connect_retries"`
		MirrorEvents   bool   `yaml:"mirror_events"`

		// per-call retries and breaker around the connection store
		CallRetries      int           `yaml:"call_retries"`
		BreakerThreshold int           `yaml:"breaker_threshold"`
		BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	} `yaml:"redis"`

	Auth struct {
		Enabled         bool          `yaml:"enabled"`
		JWTSecret       string        `yaml:"jwt_secret"`
		APIKey          string        `yaml:"api_key"`
		AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
		RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	// Backup snapshots the connection catalog to disk.
	Backup struct {
		Enabled        bool          `yaml:"enabled"`
		Directory      string        `yaml:"directory"`
		Interval       time.Duration `yaml:"interval"`
		Keep           int           `yaml:"keep"`
		RestoreOnStart bool          `yaml:"restore_on_start"`
	} `yaml:"backup"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be greater than signal.ping_interval")
	}
	if c.Signal.WriteTimeout <= 0 {
		return fmt.Errorf("signal.write_timeout must be > 0")
	}
	if c.Signal.EventBuffer < 0 {
		return fmt.Errorf("signal.event_buffer must be >= 0")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
		for _, u := range s.URLs {
			if err := validation.ValidateICEServerURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers[%d]: %w", i, err)
			}
		}
	}
	if c.WebRTC.GatherTimeout < 0 {
		return fmt.Errorf("webrtc.gather_timeout must be >= 0")
	}

	// Streaming
	if c.Streaming.ScreenIndex < 0 {
		return fmt.Errorf("streaming.screen_index must be >= 0")
	}
	if c.Streaming.Width < 0 || c.Streaming.Height < 0 {
		return fmt.Errorf("streaming.width and streaming.height must be >= 0")
	}
	if c.Streaming.Framerate < 1 || c.Streaming.Framerate > 120 {
		return fmt.Errorf("streaming.framerate must be between 1 and 120")
	}
	if c.Streaming.Bitrate < 0 {
		return fmt.Errorf("streaming.bitrate must be >= 0")
	}
	if c.Streaming.Bitrate > 0 {
		if err := validation.ValidateBitrate(c.Streaming.Bitrate); err != nil {
			return fmt.Errorf("streaming.bitrate: %w", err)
		}
	}
	if c.Streaming.Quality != "" {
		if err := validation.ValidateQuality(c.Streaming.Quality); err != nil {
			return fmt.Errorf("streaming.quality: %w", err)
		}
	}
	if c.Streaming.StatsInterval <= 0 {
		return fmt.Errorf("streaming.stats_interval must be > 0")
	}
	if c.Streaming.MinSwitchInterval < 0 {
		return fmt.Errorf("streaming.min_switch_interval must be >= 0")
	}
	if c.Streaming.ScreenCacheTTL < 0 {
		return fmt.Errorf("streaming.screen_cache_ttl must be >= 0")
	}

	// Input
	switch strings.ToLower(c.Input.Backend) {
	case "xdotool", "log":
	default:
		return fmt.Errorf("input.backend must be one of xdotool, log (got %q)", c.Input.Backend)
	}
	if c.Input.CommandTimeout <= 0 {
		return fmt.Errorf("input.command_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusPort < 0 {
		return fmt.Errorf("monitoring.prometheus_port must be >= 0")
	}
	if c.Monitoring.MetricsInterval <= 0 {
		return fmt.Errorf("monitoring.metrics_interval must be > 0")
	}
	if c.Monitoring.HealthInterval < 0 {
		return fmt.Errorf("monitoring.health_interval must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.ConnectRetries < 0 {
			return fmt.Errorf("redis.connect_retries must be >= 0")
		}
		if c.Redis.CallRetries < 0 {
			return fmt.Errorf("redis.call_retries must be >= 0")
		}
		if c.Redis.BreakerThreshold <= 0 {
			return fmt.Errorf("redis.breaker_threshold must be > 0")
		}
		if c.Redis.BreakerTimeout <= 0 {
			return fmt.Errorf("redis.breaker_timeout must be > 0")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.APIKey == "" {
			return fmt.Errorf("auth.api_key must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0")
		}
		if c.Auth.RefreshTokenTTL <= 0 {
			return fmt.Errorf("auth.refresh_token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
		}
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0")
		}
		if c.Backup.Keep <= 0 {
			return fmt.Errorf("backup.keep must be > 0")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.EventBuffer = 64

	cfg.WebRTC.ICEServers = []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	cfg.WebRTC.GatherTimeout = 2 * time.Second

	cfg.Streaming.Framerate = 30
	cfg.Streaming.Quality = "Medium"
	cfg.Streaming.Codec = "h264"
	cfg.Streaming.StatsInterval = time.Second
	cfg.Streaming.AdaptiveQuality = true
	cfg.Streaming.MinSwitchInterval = 5 * time.Second
	cfg.Streaming.ScreenCacheTTL = 5 * time.Second

	cfg.Input.Backend = "xdotool"
	cfg.Input.Binary = "xdotool"
	cfg.Input.CommandTimeout = 2 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 0
	cfg.Monitoring.MetricsInterval = 5 * time.Second
	cfg.Monitoring.HealthInterval = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.ConnectRetries = 3
	cfg.Redis.MirrorEvents = true
	cfg.Redis.CallRetries = 2
	cfg.Redis.BreakerThreshold = 5
	cfg.Redis.BreakerTimeout = 30 * time.Second

	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecret = InsecureDefaultSecret
	cfg.Auth.APIKey = InsecureDefaultSecret
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.RefreshTokenTTL = 24 * time.Hour

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "./data/backups"
	cfg.Backup.Interval = 10 * time.Minute
	cfg.Backup.Keep = 12
	cfg.Backup.RestoreOnStart = true

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("DESKBRIDGE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("DESKBRIDGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("DESKBRIDGE_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if secret := os.Getenv("DESKBRIDGE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if key := os.Getenv("DESKBRIDGE_API_KEY"); key != "" {
		c.Auth.APIKey = key
	}
	if v := os.Getenv("DESKBRIDGE_AUTH_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Auth.Enabled = enabled
		}
	}
	if addr := os.Getenv("DESKBRIDGE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if backend := os.Getenv("DESKBRIDGE_INPUT_BACKEND"); backend != "" {
		c.Input.Backend = backend
	}
	if display := os.Getenv("DESKBRIDGE_DISPLAY"); display != "" {
		c.Input.Display = display
	}
	if dir := os.Getenv("DESKBRIDGE_BACKUP_DIR"); dir != "" {
		c.Backup.Directory = dir
		c.Backup.Enabled = true
	}
}
