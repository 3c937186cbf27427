// Package config loads plebmtg settings from a YAML file, PLEBMTG_* environment
// variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix   = "PLEBMTG"
	DefaultFile = "plebmtg.yaml"
)

type Config struct {
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	DataDir  string `mapstructure:"data_dir" yaml:"data_dir"`
	Port     string `mapstructure:"port" yaml:"port"`

	Database   Database   `mapstructure:"database" yaml:"database"`
	Fetch      Fetch      `mapstructure:"fetch" yaml:"fetch"`
	Clean      Clean      `mapstructure:"clean" yaml:"clean"`
	Cluster    Cluster    `mapstructure:"cluster" yaml:"cluster"`
	Regression Regression `mapstructure:"regression" yaml:"regression"`
	Server     Server     `mapstructure:"server" yaml:"server"`
}

type Database struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite or mysql
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type Fetch struct {
	ScryfallURL       string `mapstructure:"scryfall_url" yaml:"scryfall_url"`
	IdentifiersURL    string `mapstructure:"identifiers_url" yaml:"identifiers_url"`
	PricesURL         string `mapstructure:"prices_url" yaml:"prices_url"`
	Days              int    `mapstructure:"days" yaml:"days"`
	RetryCount        int    `mapstructure:"retry_count" yaml:"retry_count"`
	RetryWaitMs       int    `mapstructure:"retry_wait_ms" yaml:"retry_wait_ms"`
	TimeoutSec        int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	RequestsPerSecond int    `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

type Clean struct {
	PercentKeep float64 `mapstructure:"percent_keep" yaml:"percent_keep"`
}

type Cluster struct {
	KMax   int    `mapstructure:"k_max" yaml:"k_max"`
	Metric string `mapstructure:"metric" yaml:"metric"`
	Seed   int64  `mapstructure:"seed" yaml:"seed"`
	NInit  int    `mapstructure:"n_init" yaml:"n_init"`
}

type Regression struct {
	Family            string  `mapstructure:"family" yaml:"family"`
	Correlation       string  `mapstructure:"correlation" yaml:"correlation"`
	Scale             bool    `mapstructure:"scale" yaml:"scale"`
	SignificanceLevel float64 `mapstructure:"significance_level" yaml:"significance_level"`
	VIFThreshold      float64 `mapstructure:"vif_threshold" yaml:"vif_threshold"`
}

type Server struct {
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	// RefreshInterval is a Go duration ("24h"); empty or "0" disables the worker.
	RefreshInterval  string `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	SimilarCacheSize int    `mapstructure:"similar_cache_size" yaml:"similar_cache_size"`
	// FrontendDir holds a built SPA served at /; empty serves the API only.
	FrontendDir string `mapstructure:"frontend_dir" yaml:"frontend_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("port", "8080")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./plebmtg.db")

	v.SetDefault("fetch.scryfall_url", "https://api.scryfall.com/bulk-data/default-cards")
	v.SetDefault("fetch.identifiers_url", "https://mtgjson.com/api/v5/AllIdentifiers.json")
	v.SetDefault("fetch.prices_url", "https://mtgjson.com/api/v5/AllPrices.json")
	v.SetDefault("fetch.days", 90)
	v.SetDefault("fetch.retry_count", 5)
	v.SetDefault("fetch.retry_wait_ms", 100)
	v.SetDefault("fetch.timeout_sec", 300)
	v.SetDefault("fetch.requests_per_second", 10)

	v.SetDefault("clean.percent_keep", 0.03)

	v.SetDefault("cluster.k_max", 15)
	v.SetDefault("cluster.metric", "silhouette")
	v.SetDefault("cluster.seed", 0)
	v.SetDefault("cluster.n_init", 10)

	v.SetDefault("regression.family", "gaussian")
	v.SetDefault("regression.correlation", "exchangeable")
	v.SetDefault("regression.scale", false)
	v.SetDefault("regression.significance_level", 0.05)
	v.SetDefault("regression.vif_threshold", 0)

	v.SetDefault("server.cors_allowed_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("server.refresh_interval", "24h")
	v.SetDefault("server.similar_cache_size", 256)
	v.SetDefault("server.frontend_dir", "")
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	_ = v.Unmarshal(&c)
	return &c
}

// Load reads .env (if present), then the config file, then PLEBMTG_* variables.
// Precedence: env > config file > defaults. An empty cfgFile searches for
// plebmtg.yaml in the working directory and ./config; not finding one is fine.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("Config: failed to load .env: %v", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		v.SetConfigName(strings.TrimSuffix(DefaultFile, filepath.Ext(DefaultFile)))
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		log.Debugf("Config: using %s", v.ConfigFileUsed())
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Save writes c as YAML, creating the parent directory.
func Save(c *Config, path string) error {
	if path == "" {
		path = DefaultFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate checks ranges the analysis depends on.
func (c *Config) Validate() error {
	switch {
	case c.Fetch.Days <= 0:
		return fmt.Errorf("config: fetch.days must be positive, got %d", c.Fetch.Days)
	case c.Clean.PercentKeep <= 0 || c.Clean.PercentKeep > 1:
		return fmt.Errorf("config: clean.percent_keep must be in (0, 1], got %g", c.Clean.PercentKeep)
	case c.Cluster.KMax < 2:
		return fmt.Errorf("config: cluster.k_max must be at least 2, got %d", c.Cluster.KMax)
	case c.Regression.SignificanceLevel <= 0 || c.Regression.SignificanceLevel >= 1:
		return fmt.Errorf("config: regression.significance_level must be in (0, 1), got %g", c.Regression.SignificanceLevel)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	if _, err := c.RefreshEvery(); err != nil {
		return err
	}
	return nil
}

// RefreshEvery parses Server.RefreshInterval; zero disables scheduled runs.
func (c *Config) RefreshEvery() (time.Duration, error) {
	s := strings.TrimSpace(c.Server.RefreshInterval)
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: server.refresh_interval: %w", err)
	}
	return d, nil
}

// ConfigureLogging applies LogLevel to the standard logrus logger.
func (c *Config) ConfigureLogging() error {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	return nil
}
