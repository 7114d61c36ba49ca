// Package config loads pipeline configuration from an optional YAML file
// overlaid by environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/withObsrvr/brewery-medallion/internal/catalog"
	"github.com/withObsrvr/brewery-medallion/internal/checkpoint"
	"github.com/withObsrvr/brewery-medallion/internal/lineage"
	"github.com/withObsrvr/brewery-medallion/internal/logging"
	"github.com/withObsrvr/brewery-medallion/internal/medallion"
	"github.com/withObsrvr/brewery-medallion/internal/metrics"
	"github.com/withObsrvr/brewery-medallion/internal/silver"
	"github.com/withObsrvr/brewery-medallion/internal/source"
	"github.com/withObsrvr/brewery-medallion/internal/tables"
)

// StartDateLayout is the format of schedule.start_date.
const StartDateLayout = "2006-01-02"

type Config struct {
	Pipeline   PipelineConfig    `yaml:"pipeline"`
	Source     source.Config     `yaml:"source"`
	Layers     medallion.Layout  `yaml:"layers"`
	Silver     SilverConfig      `yaml:"silver"`
	Schedule   ScheduleConfig    `yaml:"schedule"`
	Catalog    catalog.Config    `yaml:"catalog"`
	Lineage    lineage.Config    `yaml:"lineage"`
	Checkpoint checkpoint.Config `yaml:"checkpoint"`
	Metrics    metrics.Config    `yaml:"metrics"`
	Logging    logging.Config    `yaml:"logging"`
}

// PipelineConfig is the pipeline identity recorded with every run.
type PipelineConfig struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
}

type SilverConfig struct {
	MissingKeyPolicy string `yaml:"missing_key_policy"`
	DefaultKeyValue  string `yaml:"default_key_value"`
	Compression      string `yaml:"compression"`
	PreviewRows      int    `yaml:"preview_rows"`
}

type ScheduleConfig struct {
	Cron       string        `yaml:"cron"`
	StartDate  string        `yaml:"start_date"`
	Timezone   string        `yaml:"timezone"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Catchup    bool          `yaml:"catchup"`
}

// Default returns the configuration of the stock brewery ingestion.
func Default() Config {
	return Config{
		Pipeline: PipelineConfig{
			Name:        "DAG_brewery_ingestion",
			Description: "ETL of Brewery data",
			Tags:        []string{"brewery"},
		},
		Source: source.Config{
			Mode:      "http",
			URL:       source.DefaultURL,
			Timeout:   30 * time.Second,
			UserAgent: "brewery-medallion",
		},
		Layers: medallion.Layout{
			BronzeRoot: "./layers/bronze",
			SilverRoot: "./layers/silver",
			GoldRoot:   "./layers/gold",
			Context:    "brewery",
		},
		Silver: SilverConfig{
			MissingKeyPolicy: string(silver.PolicyDrop),
			DefaultKeyValue:  silver.DefaultKeyValue,
			Compression:      string(tables.CompressionZstd),
			PreviewRows:      20,
		},
		Schedule: ScheduleConfig{
			Cron:       "* 3 * * *",
			StartDate:  "2024-08-16",
			Timezone:   "UTC",
			Retries:    3,
			RetryDelay: 5 * time.Minute,
		},
		Lineage: lineage.Config{
			BackupDir: "./state/lineage",
			Timeout:   30 * time.Second,
		},
		Checkpoint: checkpoint.Config{
			Enabled: true,
			Dir:     "./state",
		},
		Metrics: metrics.Config{
			Address: ":9090",
		},
		Logging: logging.Config{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides. The result is validated.
func Load(path string) (Config, error) {
	slog.Debug("loading config", "component", "config", "path", path)

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config) error {
	var errs []error

	cfg.Pipeline.Name = getenvDefault("PIPELINE_NAME", cfg.Pipeline.Name)

	cfg.Source.Mode = getenvDefault("SOURCE_MODE", cfg.Source.Mode)
	cfg.Source.URL = getenvDefault("SOURCE_URL", cfg.Source.URL)
	cfg.Source.Path = getenvDefault("SOURCE_PATH", cfg.Source.Path)
	cfg.Source.UserAgent = getenvDefault("SOURCE_USER_AGENT", cfg.Source.UserAgent)
	cfg.Source.Timeout = getenvDuration("SOURCE_TIMEOUT", cfg.Source.Timeout, &errs)

	cfg.Layers.BronzeRoot = getenvDefault("BRONZE_ROOT", cfg.Layers.BronzeRoot)
	cfg.Layers.SilverRoot = getenvDefault("SILVER_ROOT", cfg.Layers.SilverRoot)
	cfg.Layers.GoldRoot = getenvDefault("GOLD_ROOT", cfg.Layers.GoldRoot)
	cfg.Layers.Context = getenvDefault("PIPELINE_CONTEXT", cfg.Layers.Context)

	cfg.Silver.MissingKeyPolicy = getenvDefault("MISSING_KEY_POLICY", cfg.Silver.MissingKeyPolicy)
	cfg.Silver.DefaultKeyValue = getenvDefault("DEFAULT_KEY_VALUE", cfg.Silver.DefaultKeyValue)
	cfg.Silver.Compression = getenvDefault("PARQUET_COMPRESSION", cfg.Silver.Compression)

	cfg.Schedule.Cron = getenvDefault("SCHEDULE_CRON", cfg.Schedule.Cron)
	cfg.Schedule.StartDate = getenvDefault("SCHEDULE_START_DATE", cfg.Schedule.StartDate)
	cfg.Schedule.Timezone = getenvDefault("SCHEDULE_TIMEZONE", cfg.Schedule.Timezone)
	cfg.Schedule.Retries = getenvInt("RETRIES", cfg.Schedule.Retries, &errs)
	cfg.Schedule.RetryDelay = getenvDuration("RETRY_DELAY", cfg.Schedule.RetryDelay, &errs)
	cfg.Schedule.Catchup = getenvBool("CATCHUP", cfg.Schedule.Catchup, &errs)

	cfg.Catalog.PostgresDSN = getenvDefault("CATALOG_DSN", cfg.Catalog.PostgresDSN)
	cfg.Catalog.Strict = getenvBool("CATALOG_STRICT", cfg.Catalog.Strict, &errs)

	cfg.Lineage.Enabled = getenvBool("LINEAGE_ENABLED", cfg.Lineage.Enabled, &errs)
	cfg.Lineage.Endpoint = getenvDefault("LINEAGE_ENDPOINT", cfg.Lineage.Endpoint)
	cfg.Lineage.BackupDir = getenvDefault("LINEAGE_BACKUP_DIR", cfg.Lineage.BackupDir)

	cfg.Checkpoint.Enabled = getenvBool("CHECKPOINT_ENABLED", cfg.Checkpoint.Enabled, &errs)
	cfg.Checkpoint.Dir = getenvDefault("CHECKPOINT_DIR", cfg.Checkpoint.Dir)

	cfg.Metrics.Enabled = getenvBool("METRICS_ENABLED", cfg.Metrics.Enabled, &errs)
	cfg.Metrics.Address = getenvDefault("METRICS_ADDRESS", cfg.Metrics.Address)

	cfg.Logging.Format = getenvDefault("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)

	return errors.Join(errs...)
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	if err := c.Layers.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch c.Source.Mode {
	case "http":
		if c.Source.URL == "" {
			errs = append(errs, errors.New("source: url is required in http mode"))
		}
	case "file":
		if c.Source.Path == "" {
			errs = append(errs, errors.New("source: path is required in file mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("source: %w %q", source.ErrInvalidSourceMode, c.Source.Mode))
	}
	if _, err := silver.ParsePolicy(c.Silver.MissingKeyPolicy); err != nil {
		errs = append(errs, fmt.Errorf("silver: %w", err))
	}
	if _, err := c.ParquetConfig(); err != nil {
		errs = append(errs, fmt.Errorf("silver: %w", err))
	}
	if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
		errs = append(errs, fmt.Errorf("schedule: cron %q: %w", c.Schedule.Cron, err))
	}
	if _, err := c.Schedule.Start(); err != nil {
		errs = append(errs, fmt.Errorf("schedule: %w", err))
	}
	if c.Schedule.Retries < 0 {
		errs = append(errs, errors.New("schedule: retries must not be negative"))
	}
	if c.Schedule.RetryDelay < 0 {
		errs = append(errs, errors.New("schedule: retry_delay must not be negative"))
	}
	if c.Schedule.Catchup {
		errs = append(errs, errors.New("schedule: catchup is not supported"))
	}
	if c.Lineage.Enabled && c.Lineage.BackupDir == "" {
		errs = append(errs, errors.New("lineage: backup_dir is required when enabled"))
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Dir == "" {
		errs = append(errs, errors.New("checkpoint: dir is required when enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, errors.New("metrics: address is required when enabled"))
	}
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging: unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// ParquetConfig returns the data file settings for the layer tables.
func (c Config) ParquetConfig() (tables.ParquetConfig, error) {
	switch comp := tables.Compression(strings.ToLower(c.Silver.Compression)); comp {
	case "":
		return tables.DefaultParquetConfig(), nil
	case tables.CompressionZstd, tables.CompressionSnappy, tables.CompressionNone:
		return tables.ParquetConfig{Compression: comp}, nil
	default:
		return tables.ParquetConfig{}, fmt.Errorf("unknown compression %q", c.Silver.Compression)
	}
}

// SilverOptions converts the silver section into stage options.
func (c Config) SilverOptions() silver.Options {
	policy, _ := silver.ParsePolicy(c.Silver.MissingKeyPolicy)
	return silver.Options{
		MissingKeyPolicy: policy,
		DefaultKeyValue:  c.Silver.DefaultKeyValue,
		PreviewRows:      c.Silver.PreviewRows,
	}
}

// Location returns the schedule time zone, UTC when unset.
func (s ScheduleConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// Start returns the first instant the schedule may fire. A zero time means
// no start date.
func (s ScheduleConfig) Start() (time.Time, error) {
	if s.StartDate == "" {
		return time.Time{}, nil
	}
	loc, err := s.Location()
	if err != nil {
		return time.Time{}, fmt.Errorf("timezone %q: %w", s.Timezone, err)
	}
	t, err := time.ParseInLocation(StartDateLayout, s.StartDate, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("start_date %q: %w", s.StartDate, err)
	}
	return t, nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getenvBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return parsed
}

func getenvInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return parsed
}
