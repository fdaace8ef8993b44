package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         Log    `yaml:"log"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Alerts struct {
		FlushInterval  time.Duration `yaml:"flush_interval" default:"30s"`
		CountThreshold int           `yaml:"count_threshold" default:"100" validate:"gt=0"`
	} `yaml:"alerts"`
	Kafka struct {
		Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]" validate:"required,min=1"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"5ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			PublishRetry int           `yaml:"publish_retry" default:"3"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID     string        `yaml:"group_id" default:"signalcore"`
			StartOffset string        `yaml:"start_offset" default:"earliest" validate:"oneof=earliest latest"`
			Workers     int           `yaml:"workers" default:"8" validate:"gt=0"`
			BufferSize  int           `yaml:"buffer_size" default:"256"`
			RetryMax    int           `yaml:"retry_max" default:"3"`
			BackoffMin  time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax  time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic    string        `yaml:"dlq_topic" default:"signalcore.dlq"`
			MinBytes    int           `yaml:"min_bytes" default:"1"`
			MaxBytes    int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Addr         string        `yaml:"addr" default:"localhost:6379" validate:"required"`
		Password     string        `yaml:"password"`
		DB           int           `yaml:"db"`
		PoolSize     int           `yaml:"pool_size" default:"20"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"3s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"3s"`
		KeyPrefix    string        `yaml:"key_prefix" default:"signalcore:"`
		CASRetries   int           `yaml:"cas_retries" default:"16" validate:"gt=0"`
	} `yaml:"redis"`
	EventLog struct {
		Backend string `yaml:"backend" default:"clickhouse" validate:"oneof=clickhouse sqlite"`
		Table   string `yaml:"table" default:"event_log" validate:"required"`
	} `yaml:"event_log"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"signalcore"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	SQLite struct {
		Path        string        `yaml:"path" default:"signalcore.db"`
		BusyTimeout time.Duration `yaml:"busy_timeout" default:"5s"`
	} `yaml:"sqlite"`
	Schedule Schedule `yaml:"schedule"`
	Signal   Signal   `yaml:"signal"`
}

type Log struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

// Schedule holds cron specs (seconds field enabled).
type Schedule struct {
	Correlation   string        `yaml:"correlation" default:"0 * * * * *"`
	Recalibration string        `yaml:"recalibration" default:"0 5 0 * * *"`
	Decay         string        `yaml:"decay" default:"0 15 0 * * *"`
	Rebalance     string        `yaml:"rebalance" default:"0 0 */4 * * *"`
	LockTTL       time.Duration `yaml:"lock_ttl" default:"5m"`
}

// Signal groups every tunable of the signal pipeline.
type Signal struct {
	MarketState MarketState `yaml:"market_state"`
	Intake      Intake      `yaml:"intake"`
	Anomaly     Anomaly     `yaml:"anomaly"`
	Consensus   Consensus   `yaml:"consensus"`
	Cost        Cost        `yaml:"cost"`
	Capacity    Capacity    `yaml:"capacity"`
	Decay       Decay       `yaml:"decay"`
	Regime      Regime      `yaml:"regime"`
	Correlation Correlation `yaml:"correlation"`
	Portfolio   Portfolio   `yaml:"portfolio"`
}

type MarketState struct {
	Capacity int           `yaml:"capacity" default:"1024" validate:"gte=64"`
	MaxAge   time.Duration `yaml:"max_age" default:"0s"`
}

type Intake struct {
	RatePerInstrument float64 `yaml:"rate_per_instrument" default:"200" validate:"gt=0"`
	Burst             int     `yaml:"burst" default:"400" validate:"gt=0"`
}

type Anomaly struct {
	Window               int           `yaml:"window" default:"30" validate:"gte=5"`
	SigmaThreshold       float64       `yaml:"sigma_threshold" default:"2.0" validate:"gt=0"`
	PValue               float64       `yaml:"p_value" default:"0.05" validate:"gt=0,lt=1"`
	AutocorrThreshold    float64       `yaml:"autocorr_threshold" default:"0.3" validate:"gt=0,lt=1"`
	ReferenceInstruments []string      `yaml:"reference_instruments"`
	CorrelationWindow    int           `yaml:"correlation_window" default:"30" validate:"gte=5"`
	CorrelationShift     float64       `yaml:"correlation_shift" default:"0.3" validate:"gt=0"`
	CorrelationLookback  time.Duration `yaml:"correlation_lookback" default:"168h"`
}

type Consensus struct {
	Window          time.Duration `yaml:"window" default:"5s" validate:"gt=0"`
	MinSources      int           `yaml:"min_sources" default:"3" validate:"gte=1"`
	ScoreThreshold  float64       `yaml:"score_threshold" default:"70" validate:"gte=0,lte=100"`
	WeightAlpha     float64       `yaml:"weight_alpha" default:"0.1" validate:"gt=0,lte=1"`
	PriorWeight     float64       `yaml:"prior_weight" default:"0.5" validate:"gte=0,lte=1"`
	MinObservations int           `yaml:"min_observations" default:"10" validate:"gte=0"`
	OutcomeMemory   int           `yaml:"outcome_memory" default:"256" validate:"gt=0"`
}

type Cost struct {
	MaxCostPct            float64       `yaml:"max_cost_pct" default:"0.3" validate:"gt=0"`
	FixedFeePct           float64       `yaml:"fixed_fee_pct" default:"0.1" validate:"gte=0"`
	DefaultImpactK        float64       `yaml:"default_impact_k" default:"1.0" validate:"gt=0"`
	CalibrationWindow     time.Duration `yaml:"calibration_window" default:"168h"`
	MinCalibrationSamples int           `yaml:"min_calibration_samples" default:"5" validate:"gte=2"`
	Capital               float64       `yaml:"capital" default:"1000000" validate:"gt=0"`
	VolumeWindow          int           `yaml:"volume_window" default:"100" validate:"gt=0"`
}

type Capacity struct {
	WarnUtilizationPct float64 `yaml:"warn_utilization_pct" default:"80" validate:"gt=0"`
	Samples            int     `yaml:"samples" default:"50" validate:"gte=2"`
	RecentSamples      int     `yaml:"recent_samples" default:"10" validate:"gte=1"`
	MinFitSamples      int     `yaml:"min_fit_samples" default:"5" validate:"gte=2"`
}

type Decay struct {
	SharpeThreshold   float64 `yaml:"sharpe_threshold" default:"0.5"`
	WindowDays        int     `yaml:"window_days" default:"30" validate:"gt=0"`
	DegradeAfterDays  int     `yaml:"degrade_after_days" default:"14" validate:"gt=0"`
	RetireAfterDays   int     `yaml:"retire_after_days" default:"30" validate:"gt=0"`
	AnnualizationDays float64 `yaml:"annualization_days" default:"252" validate:"gt=0"`
	MinSamples        int     `yaml:"min_samples" default:"5" validate:"gte=2"`
}

type Regime struct {
	Dwell             time.Duration `yaml:"dwell" default:"4h" validate:"gt=0"`
	MinSamples        int           `yaml:"min_samples" default:"50" validate:"gte=10"`
	VolWindow         int           `yaml:"vol_window" default:"30" validate:"gte=5"`
	VolHistory        int           `yaml:"vol_history" default:"500" validate:"gte=10"`
	LowPercentile     float64       `yaml:"low_percentile" default:"25" validate:"gt=0,lt=100"`
	HighPercentile    float64       `yaml:"high_percentile" default:"75" validate:"gt=0,lt=100"`
	ADXPeriod         int           `yaml:"adx_period" default:"14" validate:"gte=2"`
	TrendThreshold    float64       `yaml:"trend_threshold" default:"25" validate:"gt=0"`
	LiquidityRecent   int           `yaml:"liquidity_recent" default:"5" validate:"gte=1"`
	LiquidityTrailing int           `yaml:"liquidity_trailing" default:"200" validate:"gte=10"`
	ThinRatio         float64       `yaml:"thin_ratio" default:"0.5" validate:"gt=0,lt=1"`
}

type Correlation struct {
	Horizons        []int   `yaml:"horizons" default:"[30,90,180]" validate:"required,min=1,dive,gte=5"`
	ChangeThreshold float64 `yaml:"change_threshold" default:"0.4" validate:"gt=0"`
	PValue          float64 `yaml:"p_value" default:"0.05" validate:"gt=0,lt=1"`
	MaxLag          int     `yaml:"max_lag" default:"5" validate:"gte=1"`
	History         int     `yaml:"history" default:"400" validate:"gte=10"`
}

type Portfolio struct {
	MaxPositionWeight float64       `yaml:"max_position_weight" default:"0.2" validate:"gt=0,lte=1"`
	MaxGross          float64       `yaml:"max_gross" default:"1.0" validate:"gt=0"`
	KellyFraction     float64       `yaml:"kelly_fraction" default:"0.25" validate:"gt=0,lte=1"`
	DecisionTTL       time.Duration `yaml:"decision_ttl" default:"24h" validate:"gt=0"`
	MeanVarianceBlend float64       `yaml:"mean_variance_blend" default:"0.4" validate:"gte=0"`
	KellyBlend        float64       `yaml:"kelly_blend" default:"0.4" validate:"gte=0"`
	RiskParityBlend   float64       `yaml:"risk_parity_blend" default:"0.2" validate:"gte=0"`
	CovarianceHorizon int           `yaml:"covariance_horizon" default:"90"`
	VolWindow         int           `yaml:"vol_window" default:"100" validate:"gte=5"`
}

var validate = validator.New()

// Defaults returns a configuration with every default applied.
func Defaults() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("EVENT_LOG_BACKEND"); v != "" {
		c.EventLog.Backend = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	p := c.Signal.Portfolio
	if p.MeanVarianceBlend+p.KellyBlend+p.RiskParityBlend <= 0 {
		return fmt.Errorf("signal.portfolio: blend weights must not all be zero")
	}
	if c.Signal.Regime.LowPercentile >= c.Signal.Regime.HighPercentile {
		return fmt.Errorf("signal.regime: low_percentile must be below high_percentile")
	}
	if c.Signal.Cost.FixedFeePct >= c.Signal.Cost.MaxCostPct {
		return fmt.Errorf("signal.cost: fixed_fee_pct must be below max_cost_pct")
	}
	return nil
}
