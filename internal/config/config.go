package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"HydrophoneStreamer/internal/domain"
)

const (
	configPathEnv = "HYDROPHONE_STREAMER_CONFIG"
	saveDirEnv    = "HYDROPHONE_SAVE_DIR"
	networkEnv    = "HYDROPHONE_NETWORK"
	logLevelEnv   = "LOG_LEVEL"

	// TokenEnv holds the Ocean Networks Canada API token.
	TokenEnv = "ONC_TOKEN"
)

// Config holds high-level settings required across the application.
type Config struct {
	Network       string        `yaml:"network" validate:"required,oneof=onc ooi orcasound"`
	SaveDir       string        `yaml:"saveDir" validate:"required"`
	StreamSetting domain.Filter `yaml:"streamSetting"`
	Poll          PollConfig    `yaml:"poll"`
	ONC           ONCConfig     `yaml:"onc"`
	OOI           OOIConfig     `yaml:"ooi"`
	Convert       ConvertConfig `yaml:"convert"`
	HTTP          HTTPConfig    `yaml:"http"`
	Logging       LoggingConfig `yaml:"logging"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// PollConfig defines the cadence of the polling loop.
type PollConfig struct {
	IdleDelay   time.Duration `yaml:"idleDelay" validate:"gt=0"`
	Retention   time.Duration `yaml:"retention" validate:"gte=0"`
	StopOnError bool          `yaml:"stopOnError"`
}

// ONCConfig describes the Ocean Networks Canada web services.
type ONCConfig struct {
	BaseURL  string        `yaml:"baseUrl" validate:"required,url"`
	Token    string        `yaml:"token"`
	RowLimit int           `yaml:"rowLimit" validate:"gt=0"`
	Delay    time.Duration `yaml:"delay" validate:"gt=0"`
	// OrderTTL bounds how long an undelivered product order is polled.
	OrderTTL time.Duration `yaml:"orderTtl" validate:"gt=0"`
}

// OOIConfig describes the OOI raw data archive.
type OOIConfig struct {
	ArchivePrefix string        `yaml:"archivePrefix" validate:"required,url"`
	MinFileSize   int64         `yaml:"minFileSize" validate:"gte=0"`
	Delay         time.Duration `yaml:"delay" validate:"gt=0"`
}

// ConvertConfig locates the external audio encoder.
type ConvertConfig struct {
	FFmpegPath string `yaml:"ffmpegPath" validate:"required"`
}

// HTTPConfig tunes the outbound HTTP client shared by providers.
type HTTPConfig struct {
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" validate:"gte=0"`
	UserAgent         string        `yaml:"userAgent"`
}

// LoggingConfig selects level, console format and an optional rotated file.
type LoggingConfig struct {
	Level      string `yaml:"level" validate:"loglevel"`
	Format     string `yaml:"format" validate:"omitempty,oneof=console text json"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb" validate:"gte=0"`
	MaxBackups int    `yaml:"maxBackups" validate:"gte=0"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads YAML configuration (if present) and applies environment overrides.
// An empty path falls back to the HYDROPHONE_STREAMER_CONFIG variable; a
// named file that cannot be read or parsed is an error.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		var fileCfg Config
		if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg = mergeConfig(cfg, fileCfg)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// ParseStreamSetting accepts either a path to a YAML/JSON file or an inline
// mapping such as "{'url': 'https://...'}".
func ParseStreamSetting(value string) (domain.Filter, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}

	raw := []byte(value)
	if info, err := os.Stat(value); err == nil && !info.IsDir() {
		raw, err = os.ReadFile(value)
		if err != nil {
			return nil, fmt.Errorf("read stream setting %s: %w", value, err)
		}
	} else if !strings.HasPrefix(value, "{") {
		return nil, fmt.Errorf("stream setting %s: file does not exist", value)
	}

	var filter domain.Filter
	if err := yaml.Unmarshal(raw, &filter); err != nil {
		return nil, fmt.Errorf("parse stream setting: %w", err)
	}
	return filter, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(TokenEnv); v != "" {
		c.ONC.Token = v
	}

	if v := os.Getenv(saveDirEnv); v != "" {
		c.SaveDir = v
	}

	if v := os.Getenv(networkEnv); v != "" {
		c.Network = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Logging.Level = v
	}
}

func mergeConfig(base, override Config) Config {
	if override.Network != "" {
		base.Network = override.Network
	}
	if override.SaveDir != "" {
		base.SaveDir = override.SaveDir
	}
	if len(override.StreamSetting) > 0 {
		base.StreamSetting = override.StreamSetting
	}

	if override.Poll.IdleDelay > 0 {
		base.Poll.IdleDelay = override.Poll.IdleDelay
	}
	if override.Poll.Retention > 0 {
		base.Poll.Retention = override.Poll.Retention
	}
	base.Poll.StopOnError = base.Poll.StopOnError || override.Poll.StopOnError

	if override.ONC.BaseURL != "" {
		base.ONC.BaseURL = override.ONC.BaseURL
	}
	if override.ONC.Token != "" {
		base.ONC.Token = override.ONC.Token
	}
	if override.ONC.RowLimit > 0 {
		base.ONC.RowLimit = override.ONC.RowLimit
	}
	if override.ONC.Delay > 0 {
		base.ONC.Delay = override.ONC.Delay
	}
	if override.ONC.OrderTTL > 0 {
		base.ONC.OrderTTL = override.ONC.OrderTTL
	}

	if override.OOI.ArchivePrefix != "" {
		base.OOI.ArchivePrefix = override.OOI.ArchivePrefix
	}
	if override.OOI.MinFileSize > 0 {
		base.OOI.MinFileSize = override.OOI.MinFileSize
	}
	if override.OOI.Delay > 0 {
		base.OOI.Delay = override.OOI.Delay
	}

	if override.Convert.FFmpegPath != "" {
		base.Convert.FFmpegPath = override.Convert.FFmpegPath
	}

	if override.HTTP.Timeout > 0 {
		base.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.RequestsPerSecond > 0 {
		base.HTTP.RequestsPerSecond = override.HTTP.RequestsPerSecond
	}
	if override.HTTP.UserAgent != "" {
		base.HTTP.UserAgent = override.HTTP.UserAgent
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	if override.Logging.File != "" {
		base.Logging.File = override.Logging.File
	}
	if override.Logging.MaxSizeMB > 0 {
		base.Logging.MaxSizeMB = override.Logging.MaxSizeMB
	}
	if override.Logging.MaxBackups > 0 {
		base.Logging.MaxBackups = override.Logging.MaxBackups
	}

	if override.Metrics.Addr != "" {
		base.Metrics.Addr = override.Metrics.Addr
	}

	return base
}

func defaultConfig() Config {
	return Config{
		SaveDir: "data",
		Poll: PollConfig{
			IdleDelay: 10 * time.Second,
			Retention: 7 * 24 * time.Hour,
		},
		ONC: ONCConfig{
			BaseURL:  "https://data.oceannetworks.ca",
			RowLimit: 80000,
			Delay:    60 * time.Minute,
			OrderTTL: 24 * time.Hour,
		},
		OOI: OOIConfig{
			ArchivePrefix: "https://rawdata-west.oceanobservatories.org/files/",
			MinFileSize:   1_000_000,
			Delay:         30 * time.Minute,
		},
		Convert: ConvertConfig{FFmpegPath: "ffmpeg"},
		HTTP: HTTPConfig{
			Timeout:           5 * time.Minute,
			RequestsPerSecond: 5,
			UserAgent:         "HydrophoneStreamer/1.0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}
