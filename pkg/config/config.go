package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"TPMForge/pkg/util"
)

// Backend types accepted by backend.type.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"oneof=development staging production test"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
		CORS            bool          `yaml:"cors"`
		TickRate        float64       `yaml:"tick_rate" default:"50" validate:"gt=0"`
		TickBurst       int           `yaml:"tick_burst" default:"100" validate:"gt=0"`
	} `yaml:"server"`
	Logging struct {
		Level   string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format  string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output  string `yaml:"output" default:"stdout"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
			Warn      bool          `yaml:"warn"`
		} `yaml:"collect"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Backend struct {
		Type string `yaml:"type" default:"none" validate:"oneof=none kafka clickhouse both"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		AutoCreate   bool     `yaml:"auto_create_topics"`
		ConsumeTicks bool     `yaml:"consume_ticks"`
		Topics       struct {
			Frames string `yaml:"frames" default:"forge.frames" validate:"required"`
			Alerts string `yaml:"alerts" default:"forge.alerts" validate:"required"`
			Logs   string `yaml:"logs" default:"forge.logs" validate:"required"`
			Ticks  string `yaml:"ticks" default:"forge.ticks" validate:"required"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"tpmforge"`
			Workers    int           `yaml:"workers" default:"2" validate:"gt=0"`
			BufferSize int           `yaml:"buffer_size" default:"64"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"forge"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size" default:"10"`
		Prefix   string `yaml:"prefix" default:"forge"`
	} `yaml:"redis"`
	Engine     EngineConfig     `yaml:"engine"`
	Detector   DetectorConfig   `yaml:"detector"`
	Validation ValidationConfig `yaml:"validation"`
	Agents     []AgentConfig    `yaml:"agents" validate:"dive"`
	Alerts     struct {
		Webhooks []string `yaml:"webhooks" validate:"dive,url"`
		// Outbox queues webhook deliveries in Redis; needs redis.enabled.
		Outbox struct {
			Enabled    bool          `yaml:"enabled"`
			Workers    int           `yaml:"workers" default:"1" validate:"gte=1"`
			RetryLimit int           `yaml:"retry_limit" default:"5" validate:"gte=0"`
			RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		} `yaml:"outbox"`
	} `yaml:"alerts"`
}

// EngineConfig tunes the forge cycle.
type EngineConfig struct {
	Interval           time.Duration `yaml:"interval" default:"60s" validate:"gt=0"`
	LookbackWindow     int           `yaml:"lookback_window" default:"200" validate:"gte=2"`
	EntropyBins        int           `yaml:"entropy_bins" default:"12" validate:"gte=1"`
	TransferLag        int           `yaml:"transfer_lag" default:"1" validate:"gte=1"`
	Bidirectional      bool          `yaml:"bidirectional"`
	RewardLearningRate float64       `yaml:"reward_learning_rate" default:"0.08" validate:"gt=0,lte=1"`
	CullBelow          float64       `yaml:"cull_below" default:"0.35" validate:"gte=0,lte=1"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout" default:"10s" validate:"gt=0"`
	GraphWorkers       int           `yaml:"graph_workers" validate:"gte=0"`
	WarmStart          bool          `yaml:"warm_start"`
	StaleTTL           time.Duration `yaml:"stale_ttl" default:"15m"`
	BreakerFailures    int           `yaml:"breaker_failures" default:"3" validate:"gte=1"`
	BreakerTimeout     time.Duration `yaml:"breaker_timeout" default:"30s"`
}

// DetectorConfig mirrors the alert gate settings field for field.
type DetectorConfig struct {
	WindowSize    int     `yaml:"window_size" default:"30" validate:"gte=2"`
	Percentile    float64 `yaml:"percentile" default:"95" validate:"gte=0,lte=100"`
	SafetyFloor   float64 `yaml:"safety_floor" default:"0.40" validate:"gte=0,lte=1"`
	MinAlphaDelta float64 `yaml:"min_alpha_delta" default:"0.005" validate:"gte=0"`
	CooldownTicks int     `yaml:"cooldown_ticks" default:"8" validate:"gte=0"`
	Warmup        int     `yaml:"history_warmup" default:"50" validate:"gte=0"`
	HistorySize   int     `yaml:"history_size" default:"1000" validate:"gte=1"`
}

// ValidationConfig holds the offline validation harness settings.
type ValidationConfig struct {
	Ticks          int    `yaml:"n_ticks" default:"9000" validate:"gte=2"`
	Seed           int64  `yaml:"seed" default:"42"`
	PreEventWindow int    `yaml:"pre_event_window" default:"30" validate:"gte=1"`
	Permutations   int    `yaml:"n_permutations" default:"400" validate:"gte=1"`
	OutputDir      string `yaml:"output_dir" default:"."`
}

type SourceConfig struct {
	Kind string `yaml:"kind" validate:"required"`
	URL  string `yaml:"url" validate:"required,url"`
}

type AgentConfig struct {
	Name    string         `yaml:"name" validate:"required,max=64"`
	Domain  string         `yaml:"domain" default:"finance" validate:"required"`
	Market  string         `yaml:"market" validate:"required"`
	Weight  float64        `yaml:"weight" default:"1" validate:"gte=0"`
	Sources []SourceConfig `yaml:"sources" validate:"required,min=1,dive"`
}

// ConfigurationError is a fatal startup error naming the offending field.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of the defaults and validates the result.
// Fields present in the document win, so an explicit zero is kept.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range c.Agents {
		if err := defaults.Set(&c.Agents[i]); err != nil {
			return nil, fmt.Errorf("agent defaults: %w", err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads .env (when present), then the YAML file, then applies
// FORGE_* environment overrides and validates again.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = util.SplitCSV(v)
		}
	}

	str("FORGE_ENV", &c.Environment)
	str("FORGE_BACKEND", &c.Backend.Type)
	str("FORGE_LOG_LEVEL", &c.Logging.Level)
	list("FORGE_KAFKA_BROKERS", &c.Kafka.Brokers)
	str("FORGE_CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("FORGE_CLICKHOUSE_USER", &c.ClickHouse.User)
	str("FORGE_CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("FORGE_REDIS_HOST", &c.Redis.Host)
	str("FORGE_REDIS_PASSWORD", &c.Redis.Password)
	list("FORGE_WEBHOOKS", &c.Alerts.Webhooks)

	if v, ok := lookup("FORGE_SERVER_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return NewConfigurationError("FORGE_SERVER_PORT", "not an integer: %q", v)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("FORGE_ENGINE_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return NewConfigurationError("FORGE_ENGINE_INTERVAL", "not a duration: %q", v)
		}
		c.Engine.Interval = d
	}
	if v, ok := lookup("FORGE_REDIS_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return NewConfigurationError("FORGE_REDIS_ENABLED", "not a boolean: %q", v)
		}
		c.Redis.Enabled = b
	}
	return nil
}

var validate = validator.New()

// Validate checks struct tags, then rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return NewConfigurationError(fe.Namespace(), "failed %q (value %v)", fe.Tag(), fe.Value())
		}
		return NewConfigurationError("", "%v", err)
	}

	switch c.Backend.Type {
	case BackendKafka, BackendBoth:
		if len(c.Kafka.Brokers) == 0 {
			return NewConfigurationError("kafka.brokers", "required for backend %q", c.Backend.Type)
		}
	}
	switch c.Backend.Type {
	case BackendClickHouse, BackendBoth:
		if c.ClickHouse.Host == "" {
			return NewConfigurationError("clickhouse.host", "required for backend %q", c.Backend.Type)
		}
	}
	if c.Kafka.ConsumeTicks && len(c.Kafka.Brokers) == 0 {
		return NewConfigurationError("kafka.brokers", "required when consume_ticks is set")
	}
	if c.Logging.Collect.Enabled && len(c.Kafka.Brokers) == 0 {
		return NewConfigurationError("kafka.brokers", "required when logging.collect is enabled")
	}
	if c.Engine.WarmStart && c.ClickHouse.Host == "" {
		return NewConfigurationError("clickhouse.host", "required when engine.warm_start is set")
	}
	if c.Alerts.Outbox.Enabled && !c.Redis.Enabled {
		return NewConfigurationError("alerts.outbox", "needs redis.enabled")
	}
	if c.Detector.HistorySize <= c.Detector.Warmup {
		return NewConfigurationError("detector.history_size", "must exceed history_warmup (%d)", c.Detector.Warmup)
	}

	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if _, dup := seen[a.Name]; dup {
			return NewConfigurationError(fmt.Sprintf("agents[%d].name", i), "duplicate agent %q", a.Name)
		}
		seen[a.Name] = struct{}{}
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
