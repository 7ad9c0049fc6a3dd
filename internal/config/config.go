package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/refset/churnguard/internal/source"
)

type Config struct {
	Database  DatabaseConfig `yaml:"database"`
	Kafka     KafkaConfig    `yaml:"kafka"`
	Import    ImportConfig   `yaml:"import"`
	Analysis  AnalysisConfig `yaml:"analysis"`
	Gemini    GeminiConfig   `yaml:"gemini"`
	Archive   ArchiveConfig  `yaml:"archive"`
	LogLevel  string         `yaml:"log_level"`
	LogFormat string         `yaml:"log_format"`
}

type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
}

type KafkaConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Brokers      []string `yaml:"brokers"`
	ScoresTopic  string   `yaml:"scores_topic"`
	ImportsTopic string   `yaml:"imports_topic"`
}

type ImportConfig struct {
	ErrorLimit int    `yaml:"error_limit"`
	Encoding   string `yaml:"encoding"`
	Sheet      string `yaml:"sheet"`
}

type AnalysisConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	BatchDelay       time.Duration `yaml:"batch_delay"`
	ProviderCooldown time.Duration `yaml:"provider_cooldown"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			URL:    "postgres://localhost:5432/churnguard?sslmode=disable",
			Schema: "public",
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			ScoresTopic:  "churnguard-scores",
			ImportsTopic: "churnguard-imports",
		},
		Import: ImportConfig{
			ErrorLimit: 10,
			Encoding:   "utf-8",
		},
		Analysis: AnalysisConfig{
			BatchSize:        10,
			BatchDelay:       500 * time.Millisecond,
			ProviderCooldown: 5 * time.Minute,
			SweepInterval:    time.Hour,
		},
		Gemini: GeminiConfig{
			Model: "gemini-2.5-flash",
		},
		Archive: ArchiveConfig{
			Bucket: "churnguard-uploads",
		},
		LogLevel:  "info",
		LogFormat: "json",
	}
}

// Load reads config.yaml and .env from the working directory.
func Load() (*Config, error) {
	return LoadFile("config.yaml")
}

// LoadFile builds a Config from defaults, the YAML file at path when it
// exists, and finally the environment.
func LoadFile(path string) (*Config, error) {
	// Variables already set in the environment take precedence over .env.
	_ = godotenv.Load()

	cfg := Default()

	// Load from YAML if exists
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CHURNGUARD_DATABASE_URL"); v != "" {
		c.Database.URL = v
	} else if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("CHURNGUARD_DB_SCHEMA"); v != "" {
		c.Database.Schema = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KAFKA_ENABLED: %w", err)
		}
		c.Kafka.Enabled = enabled
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		c.Gemini.Model = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		c.Archive.Endpoint = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" {
		c.Archive.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" {
		c.Archive.SecretKey = v
	}
	if v := os.Getenv("MINIO_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Analysis.BatchSize <= 0 {
		return fmt.Errorf("analysis.batch_size must be positive, got %d", c.Analysis.BatchSize)
	}
	if c.Analysis.BatchDelay < 0 {
		return fmt.Errorf("analysis.batch_delay must not be negative")
	}
	if c.Analysis.SweepInterval <= 0 {
		return fmt.Errorf("analysis.sweep_interval must be positive")
	}
	if c.Import.ErrorLimit < 0 {
		return fmt.Errorf("import.error_limit must not be negative")
	}
	if _, err := source.LookupEncoding(c.Import.Encoding); err != nil {
		return fmt.Errorf("import.encoding: %w", err)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	if c.Archive.Endpoint != "" && c.Archive.Bucket == "" {
		return errors.New("archive.bucket is required when archive.endpoint is set")
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
