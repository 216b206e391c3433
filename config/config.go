// Package config loads runtime configuration from flags, environment
// variables (FWATCH_ prefixed), and an optional JSON file, the same
// viper/pflag layering the teacher's own config.New used.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration: the teacher's ambient HTTP/
// TLS/auth fields plus every tunable named across spec.md §4 so none of the
// detector/cache/notification/auto-block/retention/ingest constants are
// hardcoded away from operator control.
type Config struct {
	Port        int    `mapstructure:"port"`
	LogLevel    string `mapstructure:"log-level"`
	MetricsPath string `mapstructure:"metrics-path"`
	TLSCertFile string `mapstructure:"tls-cert-file"`
	TLSKeyFile  string `mapstructure:"tls-key-file"`
	AuthToken   string `mapstructure:"auth-token"`

	DataDir string `mapstructure:"data-dir"` // sqlite files + model artifact tree

	// Detectors (spec.md §4.4)
	BruteForceWindowMinutes int `mapstructure:"brute-force-window-minutes"`
	BruteForceThreshold     int `mapstructure:"brute-force-threshold"`

	DDoSWindowSeconds               int `mapstructure:"ddos-window-seconds"`
	DDoSSingleIPThreshold           int `mapstructure:"ddos-single-ip-threshold"`
	DDoSDistributedIPCount          int `mapstructure:"ddos-distributed-ip-count"`
	DDoSDistributedRequestThreshold int `mapstructure:"ddos-distributed-request-threshold"`

	PortScanWindowMinutes       int `mapstructure:"port-scan-window-minutes"`
	PortScanUniquePortsThreshold int `mapstructure:"port-scan-unique-ports-threshold"`
	PortScanMinTotalAttempts    int `mapstructure:"port-scan-min-total-attempts"`

	ReputationTTLHours int    `mapstructure:"reputation-ttl-hours"`
	ReputationAPIURL   string `mapstructure:"reputation-api-url"`
	ReputationAPIKey   string `mapstructure:"reputation-api-key"`

	// Alert cache (spec.md §4.5)
	AlertLookbackHours int `mapstructure:"alert-lookback-hours"`
	AlertBucketMinutes int `mapstructure:"alert-bucket-minutes"`

	// ML scorer (spec.md §4.6)
	MLEnabled       bool    `mapstructure:"ml-enabled"`
	MLCacheTTLHours int     `mapstructure:"ml-cache-ttl-hours"`
	MLQuantileLow   float64 `mapstructure:"ml-quantile-low"`
	MLQuantileHigh  float64 `mapstructure:"ml-quantile-high"`

	// Notification pipeline (spec.md §4.8)
	NotifyEnabled            bool     `mapstructure:"notify-enabled"`
	NotifyCheckIntervalSec   int      `mapstructure:"notify-check-interval-seconds"`
	NotifySeverityThreshold  string   `mapstructure:"notify-severity-threshold"`
	NotifyMLRiskThreshold    float64  `mapstructure:"notify-ml-risk-threshold"`
	NotifyRateLimit          int      `mapstructure:"notify-rate-limit"`
	NotifyRecipients         []string `mapstructure:"notify-recipients"`
	SendGridAPIKey           string   `mapstructure:"sendgrid-api-key"`
	NotifyFromAddress        string   `mapstructure:"notify-from-address"`

	// Auto-block actor (spec.md §4.9)
	AutoBlockEnabled                bool    `mapstructure:"auto-block-enabled"`
	AutoBlockCriticalSeverity       bool    `mapstructure:"auto-block-critical"`
	AutoBlockHighSeverity           bool    `mapstructure:"auto-block-high"`
	AutoBlockMediumSeverity         bool    `mapstructure:"auto-block-medium"`
	AutoBlockLowSeverity            bool    `mapstructure:"auto-block-low"`
	AutoBlockMLRiskThreshold        float64 `mapstructure:"auto-block-ml-risk-threshold"`
	AutoBlockMLAnomalyThreshold     float64 `mapstructure:"auto-block-ml-anomaly-threshold"`
	AutoBlockMLConfidenceThreshold  float64 `mapstructure:"auto-block-ml-confidence-threshold"`
	AutoBlockRequireMLConfirmation  bool    `mapstructure:"auto-block-require-ml-confirmation"`
	AutoBlockBruteForceThreshold    int     `mapstructure:"auto-block-brute-force-threshold"`
	AutoBlockDDoSThreshold          int     `mapstructure:"auto-block-ddos-threshold"`
	AutoBlockPortScanThreshold      int     `mapstructure:"auto-block-port-scan-threshold"`
	AutoBlockCooldownHours          int     `mapstructure:"auto-block-cooldown-hours"`

	// Retention worker (spec.md §4.2, §5)
	RetentionEnabled         bool    `mapstructure:"retention-enabled"`
	RetentionMaxSizeMB       float64 `mapstructure:"retention-max-size-mb"`
	RetentionDeleteSizeMB    float64 `mapstructure:"retention-delete-size-mb"`
	RetentionIntervalSeconds int     `mapstructure:"retention-interval-seconds"`

	// Model lifecycle (spec.md §4.10)
	RetrainEnabled      bool `mapstructure:"retrain-enabled"`
	RetrainIntervalHours int `mapstructure:"retrain-interval-hours"`

	// Live ingestion (spec.md §4.7, §6)
	RedisAddr         string `mapstructure:"redis-addr"`
	RedisPassword     string `mapstructure:"redis-password"`
	RedisDB           int    `mapstructure:"redis-db"`
	IngestAPIKey      string `mapstructure:"ingest-api-key"`
	IngestRateLimit   int    `mapstructure:"ingest-rate-limit"`
	IngestRateWindowS int    `mapstructure:"ingest-rate-window-seconds"`
}

// New creates a new Config object from flags, FWATCH_-prefixed environment
// variables, and an optional JSON config file.
func New() (*Config, error) {
	v := viper.New()

	defaults := map[string]any{
		"port":         8080,
		"log-level":    "info",
		"metrics-path": "/metrics",
		"tls-cert-file": "",
		"tls-key-file":  "",
		"auth-token":    "",
		"data-dir":      "./data",

		"brute-force-window-minutes": 15,
		"brute-force-threshold":      5,

		"ddos-window-seconds":                  60,
		"ddos-single-ip-threshold":              100,
		"ddos-distributed-ip-count":             10,
		"ddos-distributed-request-threshold":    500,

		"port-scan-window-minutes":        10,
		"port-scan-unique-ports-threshold": 10,
		"port-scan-min-total-attempts":     20,

		"reputation-ttl-hours": 24,
		"reputation-api-url":   "",
		"reputation-api-key":   "",

		"alert-lookback-hours": 24,
		"alert-bucket-minutes": 5,

		"ml-enabled":         true,
		"ml-cache-ttl-hours": 24,
		"ml-quantile-low":    0.05,
		"ml-quantile-high":   0.85,

		"notify-enabled":                  true,
		"notify-check-interval-seconds":   60,
		"notify-severity-threshold":       "MEDIUM",
		"notify-ml-risk-threshold":        70.0,
		"notify-rate-limit":               5,
		"notify-recipients":               []string{},
		"sendgrid-api-key":                "",
		"notify-from-address":             "alerts@fwatch.local",

		"auto-block-enabled":                   false,
		"auto-block-critical":                  true,
		"auto-block-high":                      true,
		"auto-block-medium":                    false,
		"auto-block-low":                       false,
		"auto-block-ml-risk-threshold":          75.0,
		"auto-block-ml-anomaly-threshold":       0.7,
		"auto-block-ml-confidence-threshold":    0.7,
		"auto-block-require-ml-confirmation":    false,
		"auto-block-brute-force-threshold":      20,
		"auto-block-ddos-threshold":             500,
		"auto-block-port-scan-threshold":        25,
		"auto-block-cooldown-hours":             24,

		"retention-enabled":          true,
		"retention-max-size-mb":      480.0,
		"retention-delete-size-mb":   5.0,
		"retention-interval-seconds": 300,

		"retrain-enabled":        false,
		"retrain-interval-hours": 168,

		"redis-addr":                 "localhost:6379",
		"redis-password":             "",
		"redis-db":                   0,
		"ingest-api-key":             "",
		"ingest-rate-limit":          100,
		"ingest-rate-window-seconds": 60,
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
		bindFlag(key, val)
	}
	pflag.String("config-file", "", "Path to JSON config file. Can also be set with FWATCH_CONFIG_FILE env var.")
	pflag.Parse()
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix("FWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile := v.GetString("config-file"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindFlag registers a pflag of the right type for key, defaulted to val, so
// every config key is also settable from the command line.
func bindFlag(key string, val any) {
	switch v := val.(type) {
	case int:
		pflag.Int(key, v, "")
	case float64:
		pflag.Float64(key, v, "")
	case bool:
		pflag.Bool(key, v, "")
	case string:
		pflag.String(key, v, "")
	case []string:
		pflag.StringSlice(key, v, "")
	}
}

// DefaultConfig returns a Config struct with default values, for tests. It
// builds the struct directly instead of calling New, which registers flags
// on the package-global pflag.CommandLine (a second registration panics)
// and parses os.Args.
func DefaultConfig() *Config {
	return &Config{
		Port: 8080, LogLevel: "info", MetricsPath: "/metrics", DataDir: "./data",
		BruteForceWindowMinutes: 15, BruteForceThreshold: 5,
		DDoSWindowSeconds: 60, DDoSSingleIPThreshold: 100, DDoSDistributedIPCount: 10, DDoSDistributedRequestThreshold: 500,
		PortScanWindowMinutes: 10, PortScanUniquePortsThreshold: 10, PortScanMinTotalAttempts: 20,
		ReputationTTLHours: 24,
		AlertLookbackHours: 24, AlertBucketMinutes: 5,
		MLEnabled: true, MLCacheTTLHours: 24, MLQuantileLow: 0.05, MLQuantileHigh: 0.85,
		NotifyEnabled: true, NotifyCheckIntervalSec: 60, NotifySeverityThreshold: "MEDIUM", NotifyMLRiskThreshold: 70.0, NotifyRateLimit: 5, NotifyFromAddress: "alerts@fwatch.local",
		AutoBlockEnabled: false, AutoBlockCriticalSeverity: true, AutoBlockHighSeverity: true,
		AutoBlockMLRiskThreshold: 75.0, AutoBlockMLAnomalyThreshold: 0.7, AutoBlockMLConfidenceThreshold: 0.7,
		AutoBlockBruteForceThreshold: 20, AutoBlockDDoSThreshold: 500, AutoBlockPortScanThreshold: 25, AutoBlockCooldownHours: 24,
		RetentionEnabled: true, RetentionMaxSizeMB: 480, RetentionDeleteSizeMB: 5, RetentionIntervalSeconds: 300,
		RetrainIntervalHours: 168,
		RedisAddr: "localhost:6379", IngestRateLimit: 100, IngestRateWindowS: 60,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	isValidLogLevel := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			isValidLogLevel = true
			break
		}
	}
	if !isValidLogLevel {
		return fmt.Errorf("invalid log-level: %s, must be one of %v", c.LogLevel, validLogLevels)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d, must be between 1 and 65535", c.Port)
	}

	return nil
}
