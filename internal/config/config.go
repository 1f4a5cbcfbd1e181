package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Milestone MilestoneConfig `mapstructure:"milestone"`
	Export    ExportConfig    `mapstructure:"export"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// Export submission rate limiting
	ExportRateLimit float64 `mapstructure:"export_rate_limit"` // requests per second
	ExportRateBurst int     `mapstructure:"export_rate_burst"`
}

// MilestoneConfig describes the XProtect management server and the
// ImageServer connection parameters used for frame retrieval.
type MilestoneConfig struct {
	ServerURL      string        `mapstructure:"server_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	SkipTLSVerify  bool          `mapstructure:"skip_tls_verify"` // self-signed VMS installs
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	ImageServer ImageServerConfig `mapstructure:"image_server"`
}

type ImageServerConfig struct {
	Port           int           `mapstructure:"port"`            // Default 7563
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // Socket dial/read timeout
	PipelineDepth  int           `mapstructure:"pipeline_depth"`  // Outstanding frame requests
	TranscodeJPEG  bool          `mapstructure:"transcode_jpeg"`  // alwaysstdjpeg negotiation
}

type ExportConfig struct {
	Dir         string        `mapstructure:"dir"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	Framerate   int           `mapstructure:"framerate"`
	Preset      string        `mapstructure:"preset"`
	JobTTL      time.Duration `mapstructure:"job_ttl"` // How long finished jobs stay in the registry
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json or text
	Output     string `mapstructure:"output"` // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")
	viper.SetConfigFile(configPath)

	// Environment variable override
	viper.SetEnvPrefix("XPEXPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.http_port", 8000)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.debug_endpoints", false)
	viper.SetDefault("server.export_rate_limit", 1.0)
	viper.SetDefault("server.export_rate_burst", 3)

	// Milestone defaults
	viper.SetDefault("milestone.skip_tls_verify", false)
	viper.SetDefault("milestone.request_timeout", "15s")
	viper.SetDefault("milestone.image_server.port", 7563)
	viper.SetDefault("milestone.image_server.connect_timeout", "30s")
	viper.SetDefault("milestone.image_server.pipeline_depth", 5)
	viper.SetDefault("milestone.image_server.transcode_jpeg", true)

	// Export defaults
	viper.SetDefault("export.dir", "exports")
	viper.SetDefault("export.max_duration", "10m")
	viper.SetDefault("export.ffmpeg_path", "")
	viper.SetDefault("export.framerate", 15)
	viper.SetDefault("export.preset", "fast")
	viper.SetDefault("export.job_ttl", "24h")

	// Redis defaults
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.pool_size", 20)
	viper.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("logging.max_size", 100)
	viper.SetDefault("logging.max_backups", 5)
	viper.SetDefault("logging.max_age", 30)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
}
