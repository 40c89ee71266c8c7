package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the drift engine.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Detection DetectionConfig  `yaml:"detection"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Providers []ProviderConfig `yaml:"providers"`
	History   HistoryConfig    `yaml:"history"`
	Cache     CacheConfig      `yaml:"cache"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DetectionConfig holds the hot-reloadable windowing and gating parameters.
type DetectionConfig struct {
	WindowSize          int     `yaml:"windowSize"`
	Decimation          int     `yaml:"decimation"`
	ConsecutiveTriggers int     `yaml:"consecutiveTriggers"`
	TopContributors     int     `yaml:"topContributors"`
	VarianceFraction    float64 `yaml:"varianceFraction"`
	ConfidenceLevel     float64 `yaml:"confidenceLevel"`
}

// DispatchConfig holds the hot-reloadable overload-protection parameters.
type DispatchConfig struct {
	MaxInFlight         int           `yaml:"maxInFlight"`
	MinDispatchInterval time.Duration `yaml:"minDispatchInterval"`
	ProviderTimeout     time.Duration `yaml:"providerTimeout"`
}

// ProviderConfig declares one diagnostic provider.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"baseURL"`
	APIKey    string `yaml:"apiKey"`
	RulesPath string `yaml:"rulesPath"`
}

// HistoryConfig controls the embedded history database.
type HistoryConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// CacheConfig controls Redis-backed caching of history queries.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	HistoryTTL   time.Duration `yaml:"historyTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DRIFT_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Detection: DetectionConfig{
			WindowSize:          20,
			Decimation:          1,
			ConsecutiveTriggers: 3,
			TopContributors:     5,
			VarianceFraction:    0.90,
			ConfidenceLevel:     0.99,
		},
		Dispatch: DispatchConfig{
			MaxInFlight:         4,
			MinDispatchInterval: 30 * time.Second,
			ProviderTimeout:     20 * time.Second,
		},
		Providers: []ProviderConfig{
			{Name: "rulepack", Type: "rulepack", RulesPath: "configs/rules/default.yaml"},
		},
		History: HistoryConfig{Path: "data/history"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			HistoryTTL:   time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func validate(cfg *Config) error {
	if cfg.Detection.WindowSize <= 0 {
		return fmt.Errorf("detection.windowSize must be positive")
	}
	if cfg.Detection.ConsecutiveTriggers < 1 {
		return fmt.Errorf("detection.consecutiveTriggers must be at least 1")
	}
	if cfg.Dispatch.MaxInFlight < 1 {
		return fmt.Errorf("dispatch.maxInFlight must be at least 1")
	}
	for i, provider := range cfg.Providers {
		if provider.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if provider.Type == "" {
			return fmt.Errorf("providers[%d].type is required", i)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DRIFT_ENGINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DRIFT_ENGINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DRIFT_ENGINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DRIFT_ENGINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("DRIFT_ENGINE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("DRIFT_ENGINE_WINDOW_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.WindowSize = n
		}
	}
	if v := os.Getenv("DRIFT_ENGINE_CONSECUTIVE_TRIGGERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.ConsecutiveTriggers = n
		}
	}
	if v := os.Getenv("DRIFT_ENGINE_MAX_IN_FLIGHT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Dispatch.MaxInFlight = n
		}
	}
	if v := os.Getenv("DRIFT_ENGINE_MIN_DISPATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.MinDispatchInterval = d
		}
	}
	if v := os.Getenv("DRIFT_ENGINE_PROVIDER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dispatch.ProviderTimeout = d
		}
	}
	if v := os.Getenv("DRIFT_ENGINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("DRIFT_ENGINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("DRIFT_ENGINE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("DRIFT_ENGINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("DRIFT_ENGINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("DRIFT_ENGINE_OPENAI_API_KEY"); v != "" {
		for i := range cfg.Providers {
			if strings.EqualFold(cfg.Providers[i].Type, "openai") && cfg.Providers[i].APIKey == "" {
				cfg.Providers[i].APIKey = v
			}
		}
	}
}
