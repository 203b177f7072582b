package config

import (
	"fmt"
	"time"

	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Ports     PortsConfig     `mapstructure:"ports"`
	Cert      CertConfig      `mapstructure:"cert"`
	Tech      TechConfig      `mapstructure:"tech"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	API       APIConfig       `mapstructure:"api"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	TTL          time.Duration `mapstructure:"ttl"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// ResolverConfig controls hostname resolution. An empty Servers list
// falls back to the system resolver.
type ResolverConfig struct {
	Servers     []string      `mapstructure:"servers"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type PortsConfig struct {
	Spec        string        `mapstructure:"spec"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type CertConfig struct {
	Port        int           `mapstructure:"port"`
	Concurrency int           `mapstructure:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type TechConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	FetchFavicon      bool          `mapstructure:"fetch_favicon"`
	InsecureSkipTLS   bool          `mapstructure:"insecure_skip_verify"`
	SignaturesPath    string        `mapstructure:"signatures_path"`
}

type PipelineConfig struct {
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	OutputDir         string        `mapstructure:"output_dir"`
	ModelPath         string        `mapstructure:"model_path"`
	Enumerator        string        `mapstructure:"enumerator"`
	EnumeratorTimeout time.Duration `mapstructure:"enumerator_timeout"`
}

// APIConfig controls the read-only results API. An empty APIKey disables
// authentication.
type APIConfig struct {
	Addr              string  `mapstructure:"addr"`
	APIKey            string  `mapstructure:"api_key"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DefaultUserAgent mimics a desktop browser so fingerprinted servers
// return the page they would show a visitor.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Validate rejects limits and timeouts that would stall or disable a stage.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"resolver.concurrency", c.Resolver.Concurrency},
		{"ports.concurrency", c.Ports.Concurrency},
		{"cert.concurrency", c.Cert.Concurrency},
		{"tech.concurrency", c.Tech.Concurrency},
	}
	for _, check := range checks {
		if check.value <= 0 {
			return types.NewBatchError(types.CategoryInvalidConfig,
				fmt.Errorf("%s must be positive, got %d", check.name, check.value))
		}
	}

	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"resolver.timeout", c.Resolver.Timeout},
		{"ports.timeout", c.Ports.Timeout},
		{"cert.timeout", c.Cert.Timeout},
		{"tech.timeout", c.Tech.Timeout},
	}
	for _, check := range timeouts {
		if check.value <= 0 {
			return types.NewBatchError(types.CategoryInvalidConfig,
				fmt.Errorf("%s must be positive, got %s", check.name, check.value))
		}
	}

	if c.Pipeline.RunTimeout < 0 {
		return types.NewBatchError(types.CategoryInvalidConfig,
			fmt.Errorf("pipeline.run_timeout must not be negative, got %s", c.Pipeline.RunTimeout))
	}
	if c.Cert.Port <= 0 || c.Cert.Port > 65535 {
		return types.NewBatchError(types.CategoryInvalidConfig,
			fmt.Errorf("cert.port out of range: %d", c.Cert.Port))
	}
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "surface.db",
			MaxConnections:  10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 1 * time.Hour,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			TTL:          1 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "surface",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Resolver: ResolverConfig{
			Concurrency: 50,
			Timeout:     2 * time.Second,
		},
		Ports: PortsConfig{
			Spec:        "1-1000",
			Concurrency: 100,
			Timeout:     1 * time.Second,
		},
		Cert: CertConfig{
			Port:        443,
			Concurrency: 20,
			Timeout:     5 * time.Second,
		},
		Tech: TechConfig{
			Concurrency:       50,
			Timeout:           3 * time.Second,
			RequestsPerSecond: 0,
			Burst:             10,
			UserAgent:         DefaultUserAgent,
			MaxBodyBytes:      2 << 20,
			FetchFavicon:      true,
		},
		Pipeline: PipelineConfig{
			RunTimeout:        30 * time.Minute,
			OutputDir:         "data",
			EnumeratorTimeout: 5 * time.Minute,
		},
		API: APIConfig{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}
}
