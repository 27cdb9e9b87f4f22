// Package config loads and validates the indexing job configuration from YAML
// files with environment-variable overrides. Job parameters may additionally
// arrive as a flat key/value map, the way the batch framework hands them to
// each task.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-RDF-Indexer/pkg/errors"
)

// Layouts supported by the emitter.
const (
	LayoutHorizontal = "horizontal"
	LayoutVertical   = "vertical"
)

// ExcludedFieldPrefix marks field names that are configured but not indexed.
const ExcludedFieldPrefix = "NOINDEX"

// Config is the top-level application configuration.
type Config struct {
	Job     JobConfig     `yaml:"job"`
	Codec   CodecConfig   `yaml:"codec"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Redis   RedisConfig   `yaml:"redis"`
	Catalog CatalogConfig `yaml:"catalog"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// JobConfig describes one indexing run: the field list defines field ids
// 0..F-1 in order.
type JobConfig struct {
	Fields              []string `yaml:"fields"`
	Layout              string   `yaml:"layout"`
	Positions           bool     `yaml:"positions"`
	OutputDir           string   `yaml:"outputDir"`
	Overwrite           bool     `yaml:"overwrite"`
	Partitions          int      `yaml:"partitions"`
	EmitWorkers         int      `yaml:"emitWorkers"`
	MergeWorkers        int      `yaml:"mergeWorkers"`
	NumDocs             int64    `yaml:"numDocs"`
	MaxInvertedListSize int      `yaml:"maxInvertedListSize"`
	MaxPositionListSize int      `yaml:"maxPositionListSize"`
	RefPrefix           string   `yaml:"refPrefix"`
	TermProcessor       string   `yaml:"termProcessor"`
	StatusEvery         int      `yaml:"statusEvery"`
	MaxParseFailures    int64    `yaml:"maxParseFailures"`
	// SortBufferRecords is the number of records an emission task buffers
	// before spilling a sorted run to SpillDir.
	SortBufferRecords int    `yaml:"sortBufferRecords"`
	SpillDir          string `yaml:"spillDir"`
}

// CodecConfig selects the coding of each postings component and the skip
// structure shape.
type CodecConfig struct {
	Frequencies string `yaml:"frequencies"`
	Pointers    string `yaml:"pointers"`
	Counts      string `yaml:"counts"`
	Positions   string `yaml:"positions"`
	SkipQuantum int    `yaml:"skipQuantum"`
	SkipHeight  int    `yaml:"skipHeight"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup"`
	Topics        KafkaTopics   `yaml:"topics"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Documents     string `yaml:"documents"`
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds the counter-aggregation Redis settings.
type RedisConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"poolSize"`
	CounterTTL time.Duration `yaml:"counterTTL"`
}

// CatalogConfig selects the database that records closed field indexes.
type CatalogConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a data source name for the configured driver.
func (c CatalogConfig) DSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w: %w", path, apperrors.ErrInvalidConfig, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Default returns a Config suitable for a local single-machine run.
func Default() *Config {
	return &Config{
		Job: JobConfig{
			Fields:       []string{"subject", "subjectText", "predicate", "object", "context"},
			Layout:       LayoutHorizontal,
			Positions:    true,
			OutputDir:    "index",
			Partitions:   1,
			EmitWorkers:  4,
			MergeWorkers: 4,
			RefPrefix:    "@",
			// Identifies the term normalisation applied by the extractor;
			// readers apply the same processor to query terms.
			TermProcessor: "combined-lowercase-ref",
			StatusEvery:   10000,

			SortBufferRecords: 1 << 20,
		},
		Codec: CodecConfig{
			Frequencies: "GAMMA",
			Pointers:    "DELTA",
			Counts:      "GAMMA",
			Positions:   "DELTA",
			SkipQuantum: 8,
			SkipHeight:  10,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "rdf-indexer",
			Topics: KafkaTopics{
				Documents:     "rdf-documents",
				IndexComplete: "index.complete",
			},
			IdleTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			CounterTTL: 24 * time.Hour,
		},
		Catalog: CatalogConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			Database:        "rdfindex",
			User:            "rdfindex",
			Password:        "localdev",
			SSLMode:         "disable",
			Path:            "catalog.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate checks the job and codec sections.
func (c *Config) Validate() error {
	if err := c.Job.Validate(); err != nil {
		return err
	}
	return c.Codec.Validate()
}

// Validate rejects job settings the pipeline cannot run with.
func (j JobConfig) Validate() error {
	if len(j.Fields) == 0 {
		return fmt.Errorf("%w: no fields configured", apperrors.ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(j.Fields))
	for _, f := range j.Fields {
		if f == "" {
			return fmt.Errorf("%w: empty field name", apperrors.ErrInvalidConfig)
		}
		// Index files replace '-' by '_', so both spellings share files.
		file := strings.ReplaceAll(f, "-", "_")
		if _, dup := seen[file]; dup {
			return fmt.Errorf("%w: duplicate field %q", apperrors.ErrInvalidConfig, f)
		}
		seen[file] = struct{}{}
		if j.Layout == LayoutVertical && file == "alignment" {
			return fmt.Errorf("%w: field name %q is reserved in the vertical layout", apperrors.ErrInvalidConfig, f)
		}
	}
	if j.Layout != LayoutHorizontal && j.Layout != LayoutVertical {
		return fmt.Errorf("%w: unknown layout %q", apperrors.ErrInvalidConfig, j.Layout)
	}
	if j.Partitions < 1 {
		return fmt.Errorf("%w: partitions must be >= 1, got %d", apperrors.ErrInvalidConfig, j.Partitions)
	}
	if j.EmitWorkers < 1 || j.MergeWorkers < 1 {
		return fmt.Errorf("%w: emitWorkers and mergeWorkers must be >= 1", apperrors.ErrInvalidConfig)
	}
	if j.OutputDir == "" {
		return fmt.Errorf("%w: outputDir is required", apperrors.ErrInvalidConfig)
	}
	return nil
}

var codings = map[string]struct{}{
	"UNARY": {}, "GAMMA": {}, "DELTA": {}, "VBYTE": {},
}

// Validate rejects unknown codings and degenerate skip parameters.
func (c CodecConfig) Validate() error {
	for name, v := range map[string]string{
		"frequencies": c.Frequencies,
		"pointers":    c.Pointers,
		"counts":      c.Counts,
		"positions":   c.Positions,
	} {
		if _, ok := codings[strings.ToUpper(strings.TrimSpace(v))]; !ok {
			return fmt.Errorf("%w: unknown %s coding %q", apperrors.ErrInvalidConfig, name, v)
		}
	}
	if c.SkipQuantum < 1 {
		return fmt.Errorf("%w: skipQuantum must be >= 1, got %d", apperrors.ErrInvalidConfig, c.SkipQuantum)
	}
	if c.SkipHeight < 0 {
		return fmt.Errorf("%w: skipHeight must be >= 0, got %d", apperrors.ErrInvalidConfig, c.SkipHeight)
	}
	return nil
}

// Excluded reports whether a field is configured but not indexed.
func Excluded(field string) bool {
	return strings.HasPrefix(field, ExcludedFieldPrefix)
}

// ApplyParams applies the flat job configuration map. Unknown keys are
// ignored since the map is shared with the surrounding framework.
func (c *Config) ApplyParams(params map[string]string) error {
	for key, v := range params {
		var err error
		switch key {
		case "RdfFieldNames":
			c.Job.Fields = splitList(v)
		case "IndexType":
			c.Job.Layout = strings.ToLower(v)
		case "positions":
			c.Job.Positions, err = strconv.ParseBool(v)
		case "overwrite":
			c.Job.Overwrite, err = strconv.ParseBool(v)
		case "outputDir":
			c.Job.OutputDir = v
		case "partitions":
			c.Job.Partitions, err = strconv.Atoi(v)
		case "numDocs":
			c.Job.NumDocs, err = strconv.ParseInt(v, 10, 64)
		case "maxInvertiedListSize", "maxInvertedListSize":
			c.Job.MaxInvertedListSize, err = strconv.Atoi(v)
		case "maxPositionListSize":
			c.Job.MaxPositionListSize, err = strconv.Atoi(v)
		case "refPrefix":
			c.Job.RefPrefix = v
		case "skipQuantum":
			c.Codec.SkipQuantum, err = strconv.Atoi(v)
		case "skipHeight":
			c.Codec.SkipHeight, err = strconv.Atoi(v)
		case "pointerCoding":
			c.Codec.Pointers = strings.ToUpper(v)
		case "countCoding":
			c.Codec.Counts = strings.ToUpper(v)
		case "positionCoding":
			c.Codec.Positions = strings.ToUpper(v)
		}
		if err != nil {
			return fmt.Errorf("%w: parameter %s=%q: %v", apperrors.ErrInvalidConfig, key, v, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyEnvOverrides reads RDX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RDX_JOB_FIELDS"); v != "" {
		cfg.Job.Fields = splitList(v)
	}
	if v := os.Getenv("RDX_JOB_LAYOUT"); v != "" {
		cfg.Job.Layout = v
	}
	if v := os.Getenv("RDX_JOB_OUTPUT_DIR"); v != "" {
		cfg.Job.OutputDir = v
	}
	if v := os.Getenv("RDX_JOB_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Job.Partitions = n
		}
	}
	if v := os.Getenv("RDX_JOB_OVERWRITE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Job.Overwrite = b
		}
	}
	if v := os.Getenv("RDX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("RDX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RDX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("RDX_CATALOG_DRIVER"); v != "" {
		cfg.Catalog.Driver = v
	}
	if v := os.Getenv("RDX_CATALOG_HOST"); v != "" {
		cfg.Catalog.Host = v
	}
	if v := os.Getenv("RDX_CATALOG_PASSWORD"); v != "" {
		cfg.Catalog.Password = v
	}
	if v := os.Getenv("RDX_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}
	if v := os.Getenv("RDX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RDX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("RDX_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
