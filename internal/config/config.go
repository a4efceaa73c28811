// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	RecorderCfg  RecorderConfig  `mapstructure:"recorder" yaml:"recorder"`
	ReportingCfg ReportingConfig `mapstructure:"reporting" yaml:"reporting"`
}

// Section accessors.

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Recorder() RecorderConfig   { return c.RecorderCfg }
func (c *Config) Reporting() ReportingConfig { return c.ReportingCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the controlled Chromium instance.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath      string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Debug         bool          `mapstructure:"debug" yaml:"debug"`
}

// BundleConfig points at external instrumentation sources. Empty paths select
// the embedded defaults.
type BundleConfig struct {
	CorePath     string `mapstructure:"core_path" yaml:"core_path"`
	RecorderPath string `mapstructure:"recorder_path" yaml:"recorder_path"`
}

// RecorderConfig configures the recording session itself.
type RecorderConfig struct {
	TargetURL         string        `mapstructure:"target_url" yaml:"target_url"`
	OutputDir         string        `mapstructure:"output_dir" yaml:"output_dir"`
	OutputFile        string        `mapstructure:"output_file" yaml:"output_file"`
	Language          string        `mapstructure:"language" yaml:"language"`
	LiveView          bool          `mapstructure:"live_view" yaml:"live_view"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	InstallAttempts   int           `mapstructure:"install_attempts" yaml:"install_attempts"`
	InstallInterval   time.Duration `mapstructure:"install_interval" yaml:"install_interval"`
	EventBuffer       int           `mapstructure:"event_buffer" yaml:"event_buffer"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	Bundle            BundleConfig  `mapstructure:"bundle" yaml:"bundle"`
}

// ReportingConfig configures the completion report sent at shutdown.
type ReportingConfig struct {
	Enabled       bool              `mapstructure:"enabled" yaml:"enabled"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	EventName     string            `mapstructure:"event_name" yaml:"event_name"`
	JourneyID     string            `mapstructure:"journey_id" yaml:"journey_id"`
	InTargetGroup bool              `mapstructure:"in_target_group" yaml:"in_target_group"`
	Timeout       time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Headers       map[string]string `mapstructure:"headers" yaml:"headers"`
	SecretKey     string            `mapstructure:"secret_key" yaml:"-"`
}

// DefaultTargetURL is opened when no URL is given on the command line.
const DefaultTargetURL = "https://demo.playwright.dev/todomvc"

// DefaultOutputFile is the artifact name used when none is given on the command line.
const DefaultOutputFile = "recording.spec.js"

// SupportedLanguages lists the code generation backends.
var SupportedLanguages = []string{"javascript", "python"}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "recorder")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	// The operator drives the page by hand, so the window is visible by default.
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.debug", false)

	// -- Recorder --
	v.SetDefault("recorder.target_url", DefaultTargetURL)
	v.SetDefault("recorder.output_dir", "recordings")
	v.SetDefault("recorder.output_file", DefaultOutputFile)
	v.SetDefault("recorder.language", "javascript")
	v.SetDefault("recorder.live_view", true)
	v.SetDefault("recorder.navigation_timeout", "90s")
	v.SetDefault("recorder.install_attempts", 5)
	v.SetDefault("recorder.install_interval", "250ms")
	v.SetDefault("recorder.event_buffer", 256)
	v.SetDefault("recorder.shutdown_timeout", "15s")

	// -- Reporting --
	v.SetDefault("reporting.enabled", true)
	v.SetDefault("reporting.endpoint", "https://staging.flyingraccoon.tech/sdk/event/log")
	v.SetDefault("reporting.event_name", "TASK_SUCCESS")
	v.SetDefault("reporting.journey_id", "")
	v.SetDefault("reporting.in_target_group", true)
	v.SetDefault("reporting.timeout", "10s")
	v.SetDefault("reporting.headers", map[string]string{
		"user-id":         "raccoon",
		"sdk":             "0.0.4",
		"platform":        "Android",
		"app-version":     "1.0",
		"android-version": "1.1.1",
	})
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	if err := v.BindEnv("reporting.secret_key", "RECORDER_REPORTING_SECRET_KEY"); err != nil {
		return nil, fmt.Errorf("error binding environment: %w", err)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.RecorderCfg.Validate(); err != nil {
		return fmt.Errorf("recorder configuration invalid: %w", err)
	}
	if err := c.ReportingCfg.Validate(); err != nil {
		return fmt.Errorf("reporting configuration invalid: %w", err)
	}
	if c.BrowserCfg.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be a positive duration")
	}
	return nil
}

// Validate checks the recorder configuration.
func (r *RecorderConfig) Validate() error {
	if r.TargetURL == "" {
		return fmt.Errorf("target_url is required")
	}
	if r.OutputFile == "" {
		return fmt.Errorf("output_file is required")
	}
	supported := false
	for _, lang := range SupportedLanguages {
		if strings.EqualFold(r.Language, lang) {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("language %q is not supported (want one of %s)", r.Language, strings.Join(SupportedLanguages, ", "))
	}
	if r.InstallAttempts <= 0 {
		return fmt.Errorf("install_attempts must be greater than 0")
	}
	if r.InstallInterval <= 0 {
		return fmt.Errorf("install_interval must be a positive duration")
	}
	if r.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation_timeout must be a positive duration")
	}
	if r.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be greater than 0")
	}
	return nil
}

// Validate checks the reporting configuration.
func (r *ReportingConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Endpoint == "" {
		return fmt.Errorf("endpoint is required when reporting is enabled")
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("timeout must be a positive duration")
	}
	return nil
}
