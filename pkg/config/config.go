package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Log         struct {
		Level      string `yaml:"level" default:"info"`
		Format     string `yaml:"format" default:"json"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
	} `yaml:"log"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		SlowThreshold   time.Duration `yaml:"slow_threshold" default:"2s"`
		CORSOrigins     []string      `yaml:"cors_origins" default:"[\"*\"]"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Engine struct {
		Horizons          []int   `yaml:"horizons" default:"[6,12,24]"`
		MonteCarloRuns    int     `yaml:"monte_carlo_runs" default:"10000"`
		MaxRuns           int     `yaml:"max_runs" default:"1000000"`
		Workers           int     `yaml:"workers"` // 0 = GOMAXPROCS
		ChunkSize         int     `yaml:"chunk_size" default:"1000"`
		ParallelThreshold int     `yaml:"parallel_threshold" default:"5000"`
		PostEventDelta    float64 `yaml:"post_event_delta" default:"0.025"`
	} `yaml:"engine"`
	Classifier struct {
		Elevated float64 `yaml:"elevated" default:"50"`
		High     float64 `yaml:"high" default:"75"`
		Critical float64 `yaml:"critical" default:"90"`
	} `yaml:"classifier"`
	// Tables override the built-in reference matrices; each must be 5x5 when present.
	Tables struct {
		TableA  [][]float64 `yaml:"table_a"`
		TableB  [][]float64 `yaml:"table_b"`
		Default [][]float64 `yaml:"default"`
	} `yaml:"tables"`
	// Sectors replaces the built-in sector delta table when non-empty.
	Sectors     map[string]float64 `yaml:"sectors"`
	Calibration struct {
		URL                string        `yaml:"url"`
		APIKey             string        `yaml:"api_key"`
		Timeout            time.Duration `yaml:"timeout" default:"5s"`
		BudgetCapacity     float64       `yaml:"budget_capacity" default:"10"`
		BudgetRefillPerSec float64       `yaml:"budget_refill_per_sec" default:"1"`
	} `yaml:"calibration"`
	Cache struct {
		Enabled    bool          `yaml:"enabled" default:"true"`
		TTL        time.Duration `yaml:"ttl" default:"10m"`
		MaxEntries int           `yaml:"max_entries" default:"1024"`
		Redis      struct {
			Enabled  bool   `yaml:"enabled"`
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"creditchain:"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequestTopic string   `yaml:"request_topic" default:"forecast-requests"`
		RecordTopic  string   `yaml:"record_topic" default:"forecast-records"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"creditchain-forecaster"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"256"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"forecast-requests-dlq"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"default"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file, fills defaults and validates.
func Load(path string) (*Config, error) {
	return load(path, false)
}

// LoadWithEnv is Load with environment variable overrides applied before validation.
func LoadWithEnv(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, env bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if env {
		c.applyEnv()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Parse decodes YAML and applies defaults without validating.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.ApplyDefaults(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyDefaults fills zero-valued fields from `default` tags.
func (c *Config) ApplyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply config defaults: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("CALIBRATION_URL"); v != "" {
		c.Calibration.URL = v
	}
	if v := os.Getenv("CALIBRATION_API_KEY"); v != "" {
		c.Calibration.APIKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Cache.Redis.Addr = v
		c.Cache.Redis.Enabled = true
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}
	if len(c.Engine.Horizons) == 0 {
		return fmt.Errorf("engine.horizons cannot be empty")
	}
	for _, h := range c.Engine.Horizons {
		if h < 1 {
			return fmt.Errorf("engine.horizons must be positive, got %d", h)
		}
	}
	if c.Engine.MonteCarloRuns < 1 || c.Engine.MonteCarloRuns > c.Engine.MaxRuns {
		return fmt.Errorf("engine.monte_carlo_runs must be in 1..%d, got %d", c.Engine.MaxRuns, c.Engine.MonteCarloRuns)
	}
	if c.Engine.Workers < 0 || c.Engine.ChunkSize < 1 {
		return fmt.Errorf("engine.workers must be >= 0 and engine.chunk_size >= 1")
	}
	if c.Engine.PostEventDelta < 0 || c.Engine.PostEventDelta >= 1 {
		return fmt.Errorf("engine.post_event_delta must be in [0,1), got %v", c.Engine.PostEventDelta)
	}
	cl := c.Classifier
	if !(0 < cl.Elevated && cl.Elevated < cl.High && cl.High < cl.Critical && cl.Critical <= 100) {
		return fmt.Errorf("classifier thresholds must satisfy 0 < elevated < high < critical <= 100")
	}
	for name, t := range map[string][][]float64{"table_a": c.Tables.TableA, "table_b": c.Tables.TableB, "default": c.Tables.Default} {
		if err := validateTable(t); err != nil {
			return fmt.Errorf("tables.%s: %w", name, err)
		}
	}
	for sector, d := range c.Sectors {
		if math.IsNaN(d) || d < 0 || d >= 1 {
			return fmt.Errorf("sectors.%s must be in [0,1), got %v", sector, d)
		}
	}
	if c.Calibration.Timeout <= 0 {
		return fmt.Errorf("calibration.timeout must be positive")
	}
	if c.Cache.Redis.Enabled && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when redis is enabled")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
		}
		if c.Kafka.RequestTopic == "" || c.Kafka.RecordTopic == "" {
			return fmt.Errorf("kafka.request_topic and kafka.record_topic are required")
		}
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse is enabled")
	}
	return nil
}

// validateTable only checks shape; empty means "use the built-in table".
func validateTable(t [][]float64) error {
	if len(t) == 0 {
		return nil
	}
	if len(t) != 5 {
		return fmt.Errorf("expected 5 rows, got %d", len(t))
	}
	for i, row := range t {
		if len(row) != 5 {
			return fmt.Errorf("row %d: expected 5 columns, got %d", i, len(row))
		}
	}
	return nil
}
