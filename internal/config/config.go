// Package config loads the benchmark configuration.
//
// Values are resolved in this order, later sources winning:
//  1. DefaultConfig()
//  2. an optional YAML file
//  3. a .env file in the working directory (copied into the process environment)
//  4. ANNBENCH_* environment variables
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "ANNBENCH"

// Config validation errors
var (
	ErrInvalidBaseDir       = errors.New("base_dir cannot be empty")
	ErrInvalidEndpoint      = errors.New("endpoint must be an absolute http(s) URL")
	ErrInvalidDataverse     = errors.New("dataverse cannot be empty")
	ErrInvalidIndexName     = errors.New("index_name cannot be empty")
	ErrInvalidTopK          = errors.New("top_k must be positive")
	ErrInvalidTrainList     = errors.New("train_list must be positive")
	ErrInvalidSimilarity    = errors.New("similarity cannot be empty")
	ErrInvalidProgressEvery = errors.New("progress_every must be positive")
	ErrInvalidQueryRate     = errors.New("query_rate cannot be negative")
	ErrInvalidMirror        = errors.New("mirror_url or mirror_s3.bucket is required")
	ErrInvalidLogFormat     = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel      = errors.New("log_level must be debug, info, warn, or error")
)

// S3Config points the acquire stage at an S3-compatible mirror of the raw containers.
type S3Config struct {
	Bucket          string `yaml:"bucket" envconfig:"BUCKET"`
	Prefix          string `yaml:"prefix" envconfig:"PREFIX"`
	Endpoint        string `yaml:"endpoint" envconfig:"ENDPOINT"` // e.g. http://localhost:9000 for MinIO
	Region          string `yaml:"region" envconfig:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" envconfig:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" envconfig:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" envconfig:"USE_PATH_STYLE"`
}

// Enabled reports whether an S3 mirror is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// Config is threaded into every component at construction.
type Config struct {
	// BaseDir holds the raw/, datasets/, tests/, neighbors/ and output/ directories.
	BaseDir string `yaml:"base_dir" envconfig:"BASE_DIR"`

	// Query service
	Endpoint    string        `yaml:"endpoint" envconfig:"ENDPOINT"`
	Dataverse   string        `yaml:"dataverse" envconfig:"DATAVERSE"`
	IndexName   string        `yaml:"index_name" envconfig:"INDEX_NAME"`
	LoaderHost  string        `yaml:"loader_host" envconfig:"LOADER_HOST"`
	HTTPTimeout time.Duration `yaml:"http_timeout" envconfig:"HTTP_TIMEOUT"` // 0 = transport default (none)

	// Index and evaluation parameters
	TopK          int     `yaml:"top_k" envconfig:"TOP_K"`
	TrainList     int     `yaml:"train_list" envconfig:"TRAIN_LIST"`
	Similarity    string  `yaml:"similarity" envconfig:"SIMILARITY"`
	ProgressEvery int     `yaml:"progress_every" envconfig:"PROGRESS_EVERY"`
	QueryRate     float64 `yaml:"query_rate" envconfig:"QUERY_RATE"` // query pairs per second, 0 = unlimited

	// Raw container mirrors
	MirrorURL string   `yaml:"mirror_url" envconfig:"MIRROR_URL"`
	MirrorS3  S3Config `yaml:"mirror_s3" envconfig:"MIRROR_S3"`

	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
}

// DefaultConfig returns a Config matching the reference deployment
func DefaultConfig() Config {
	return Config{
		BaseDir:       ".",
		Endpoint:      "http://localhost:19002/query/service",
		Dataverse:     "VectorTest",
		IndexName:     "ix",
		LoaderHost:    "localhost",
		TopK:          100,
		TrainList:     10000,
		Similarity:    "Euclidean",
		ProgressEvery: 50,
		MirrorURL:     "https://ann-benchmarks.com",
		LogFormat:     "console",
		LogLevel:      "info",
	}
}

// Load resolves the configuration. An empty path skips the YAML layer.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("process environment: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.BaseDir == "" {
		return ErrInvalidBaseDir
	}
	u, err := url.Parse(cfg.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidEndpoint
	}
	if cfg.Dataverse == "" {
		return ErrInvalidDataverse
	}
	if cfg.IndexName == "" {
		return ErrInvalidIndexName
	}
	if cfg.TopK <= 0 {
		return ErrInvalidTopK
	}
	if cfg.TrainList <= 0 {
		return ErrInvalidTrainList
	}
	if cfg.Similarity == "" {
		return ErrInvalidSimilarity
	}
	if cfg.ProgressEvery <= 0 {
		return ErrInvalidProgressEvery
	}
	if cfg.QueryRate < 0 {
		return ErrInvalidQueryRate
	}
	if cfg.MirrorURL == "" && !cfg.MirrorS3.Enabled() {
		return ErrInvalidMirror
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	return nil
}
