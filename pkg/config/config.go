package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"AlphaDesk/internal/domain/models"
)

type Config struct {
	Environment string   `yaml:"environment" default:"development" validate:"required"`
	Symbols     []string `yaml:"symbols" validate:"required,min=1,dive,required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Logging struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		ErrorTopic string `yaml:"error_topic"`
	} `yaml:"logging"`
	Source struct {
		// kafka consumes ticks from Kafka, finnhub reads the websocket, none disables push data.
		Type          string        `yaml:"type" default:"kafka" validate:"oneof=kafka finnhub none"`
		BufferSize    int           `yaml:"buffer_size" default:"1024" validate:"gte=1"`
		MinInterval   time.Duration `yaml:"min_interval" default:"250ms"`
		StoreTicks    bool          `yaml:"store_ticks" default:"false"`
		StoreInterval time.Duration `yaml:"store_interval" default:"1s"`
	} `yaml:"source"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Topics       struct {
			Ticks  string `yaml:"ticks" default:"market.ticks"`
			Events string `yaml:"events" default:"alphadesk.events"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"alphadesk"`
			Workers    int           `yaml:"workers" default:"4"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"alphadesk"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host" default:"localhost"`
		Port     int    `yaml:"port" default:"6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"alphadesk"`
	} `yaml:"redis"`
	Finnhub struct {
		APIKey string `yaml:"api_key"`
		// Venue symbols such as OANDA:EUR_USD. Empty subscribes to Symbols as is.
		Symbols        []string      `yaml:"symbols"`
		WebSocketURL   string        `yaml:"websocket_url" default:"wss://ws.finnhub.io"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"finnhub"`
	ModelService struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout" default:"3s"`
		Retries int           `yaml:"retries" default:"2" validate:"gte=0,lte=10"`
	} `yaml:"model_service"`
	History struct {
		Timeframe string        `yaml:"timeframe" default:"1m" validate:"oneof=1s 1m 5m"`
		Window    int           `yaml:"window" default:"200" validate:"gte=10,lte=10000"`
		CacheTTL  time.Duration `yaml:"cache_ttl" default:"30s"`
	} `yaml:"history"`
	Alpha     AlphaConfig       `yaml:"alpha"`
	Risk      models.RiskConfig `yaml:"risk"`
	Execution ExecutionConfig   `yaml:"execution"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
}

// AlphaConfig configures the alpha engine and its pods.
type AlphaConfig struct {
	MaxSignalStrength    float64         `yaml:"max_signal_strength" default:"1" validate:"gt=0,lte=1"`
	ConfidenceThreshold  float64         `yaml:"confidence_threshold" default:"0.6" validate:"gte=0,lte=1"`
	MinSignal            float64         `yaml:"min_signal" default:"0.1" validate:"gte=0,lte=1"`
	MinAttribution       float64         `yaml:"min_attribution" default:"0.01" validate:"gte=0"`
	VolatilityAdjustment bool            `yaml:"volatility_adjustment" default:"true"`
	VolatilityThreshold  float64         `yaml:"volatility_threshold" default:"0.02" validate:"gt=0"`
	PodTimeout           time.Duration   `yaml:"pod_timeout" default:"2s"`
	Allocator            AllocatorConfig `yaml:"allocator"`
	Pods                 []PodConfig     `yaml:"pods" validate:"dive"`
}

// AllocatorConfig configures the meta-allocator.
type AllocatorConfig struct {
	LearningRate      float64 `yaml:"learning_rate" default:"0.1" validate:"gt=0,lte=5"`
	MinPodWeight      float64 `yaml:"min_pod_weight" default:"0.05" validate:"gte=0,lt=1"`
	MaxPodWeight      float64 `yaml:"max_pod_weight" default:"0.6" validate:"gt=0,lte=1"`
	PerformanceWindow int     `yaml:"performance_window" default:"20" validate:"gte=1"`
}

// PodConfig declares one pod instance.
type PodConfig struct {
	Name       string             `yaml:"name" validate:"required"`
	Kind       string             `yaml:"kind" validate:"required,oneof=trend mean_reversion volatility_regime model"`
	Enabled    bool               `yaml:"enabled" default:"true"`
	WarmupBars int                `yaml:"warmup_bars" default:"50" validate:"gte=0"`
	Params     map[string]float64 `yaml:"params"`
}

// ExecutionConfig configures the execution engine and its venue.
type ExecutionConfig struct {
	Mode              string        `yaml:"mode" default:"paper" validate:"oneof=paper live"`
	QueueSize         int           `yaml:"queue_size" default:"256" validate:"gte=1"`
	RevalidateTimeout time.Duration `yaml:"revalidate_timeout" default:"2s"`
	SubmitTimeout     time.Duration `yaml:"submit_timeout" default:"5s"`
	InitialEquity     float64       `yaml:"initial_equity" default:"100000" validate:"gt=0"`
	LotStep           float64       `yaml:"lot_step" default:"0.01" validate:"gt=0"`
	Venue             VenueConfig   `yaml:"venue"`
}

// VenueConfig configures the live REST venue.
type VenueConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Timeout         time.Duration `yaml:"timeout" default:"5s"`
	RateLimit       float64       `yaml:"rate_limit" default:"5"`
	Burst           int           `yaml:"burst" default:"5"`
	BreakerFailures uint32        `yaml:"breaker_failures" default:"3"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" default:"30s"`
}

// SchedulerConfig holds cron specs for periodic tasks. Empty disables a task.
type SchedulerConfig struct {
	Reweight       string `yaml:"reweight" default:"@daily"`
	RiskSweep      string `yaml:"risk_sweep" default:"@every 30s"`
	PortfolioCheck string `yaml:"portfolio_check" default:"@every 1m"`
	AlphaScan      string `yaml:"alpha_scan" default:"@every 1m"`
	Heartbeat      string `yaml:"heartbeat" default:"@every 30s"`
}

// UnmarshalYAML applies tag defaults before decoding so explicit false/zero values survive.
func (p *PodConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain PodConfig
	var raw plain
	if err := defaults.Set(&raw); err != nil {
		return err
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*p = PodConfig(raw)
	return nil
}

// DefaultPods is used when no pods are configured.
func DefaultPods() []PodConfig {
	return []PodConfig{
		{Name: "trend", Kind: "trend", Enabled: true, WarmupBars: 30},
		{Name: "mean_reversion", Kind: "mean_reversion", Enabled: true, WarmupBars: 25},
		{Name: "volatility_regime", Kind: "volatility_regime", Enabled: true, WarmupBars: 55},
	}
}

// Parse decodes YAML bytes on top of defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(c.Alpha.Pods) == 0 {
		c.Alpha.Pods = DefaultPods()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		c.Finnhub.APIKey = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EXECUTION_MODE"); v != "" {
		c.Execution.Mode = v
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		c.Execution.Venue.APIKey = v
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		c.ModelService.URL = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

var validate = validator.New()

// Validate checks tag constraints and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := ValidateAllocator(c.Alpha.Allocator, len(enabledPods(c.Alpha.Pods))); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(c.Alpha.Pods))
	for _, p := range c.Alpha.Pods {
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("alpha.pods: duplicate pod name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if p.Enabled && p.Kind == "model" && c.ModelService.URL == "" {
			return fmt.Errorf("alpha.pods: pod %q needs model_service.url", p.Name)
		}
	}
	if c.Source.Type == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers required for kafka source")
	}
	if c.Source.Type == "finnhub" && c.Finnhub.APIKey == "" {
		return fmt.Errorf("finnhub.api_key is required for finnhub source")
	}
	if c.Execution.Mode == models.ModeLive && c.Execution.Venue.BaseURL == "" {
		return fmt.Errorf("execution.venue.base_url required in live mode")
	}
	return nil
}

// ValidateAllocator checks the weight bounds are feasible for n pods.
func ValidateAllocator(a AllocatorConfig, n int) error {
	if a.MinPodWeight > a.MaxPodWeight {
		return fmt.Errorf("alpha.allocator: min_pod_weight %.4f > max_pod_weight %.4f", a.MinPodWeight, a.MaxPodWeight)
	}
	if n == 0 {
		return fmt.Errorf("alpha.pods: at least one enabled pod required")
	}
	const eps = 1e-9
	if float64(n)*a.MinPodWeight > 1+eps || float64(n)*a.MaxPodWeight < 1-eps {
		return fmt.Errorf("alpha.allocator: bounds [%.4f, %.4f] infeasible for %d pods", a.MinPodWeight, a.MaxPodWeight, n)
	}
	return nil
}

// EnabledPods returns the pods marked enabled.
func (c *Config) EnabledPods() []PodConfig { return enabledPods(c.Alpha.Pods) }

func enabledPods(in []PodConfig) []PodConfig {
	out := make([]PodConfig, 0, len(in))
	for _, p := range in {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
