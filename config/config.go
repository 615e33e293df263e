package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Engine    EngineConfig    `yaml:"engine"`
	Contracts ContractsConfig `yaml:"contracts"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Source    SourceConfig    `yaml:"source"`
	Journal   JournalConfig   `yaml:"journal"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Writer    WriterConfig    `yaml:"writer"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// EngineConfig carries every tunable of the signal engine.
type EngineConfig struct {
	Cadence    time.Duration    `yaml:"cadence"`
	Strike     StrikeConfig     `yaml:"strike"`
	Indicators IndicatorsConfig `yaml:"indicators"`
	Sentiment  SentimentConfig  `yaml:"sentiment"`
	Trap       TrapConfig       `yaml:"trap"`
	Safety     SafetyConfig     `yaml:"safety"`
	Velocity   VelocityConfig   `yaml:"velocity"`
	Freshness  FreshnessConfig  `yaml:"freshness"`
	History    HistoryConfig    `yaml:"history"`
}

type StrikeConfig struct {
	Step           int           `yaml:"step"`
	HysteresisBand float64       `yaml:"hysteresis_band"`
	SwitchConfirm  time.Duration `yaml:"switch_confirm"`
}

type IndicatorsConfig struct {
	EMAPeriod       int     `yaml:"ema_period"`
	RSIPeriod       int     `yaml:"rsi_period"`
	PriceCapacity   int     `yaml:"price_capacity"`
	StraddleSMA     int     `yaml:"straddle_sma"`
	StraddleEpsilon float64 `yaml:"straddle_epsilon"`
}

// SentimentConfig tunes the basis baseline. A zero Capacity sizes the basis
// buffer from Window and the engine cadence.
type SentimentConfig struct {
	Window     time.Duration `yaml:"window"`
	Capacity   int           `yaml:"capacity"`
	MinSamples int           `yaml:"min_samples"`
	Bullish    float64       `yaml:"bullish"`
	Bearish    float64       `yaml:"bearish"`
}

// WindowSamples is the number of basis samples, one per cadence, that fall
// inside Window counting both ends. A non-positive window or cadence gives 0.
func (s SentimentConfig) WindowSamples(cadence time.Duration) int {
	if s.Window <= 0 || cadence <= 0 {
		return 0
	}
	n := s.Window / cadence
	if s.Window%cadence != 0 {
		n++
	}
	return int(n) + 1
}

// BasisCapacity is the basis buffer size: Capacity when set, otherwise enough
// for the whole window, and never below MinSamples.
func (s SentimentConfig) BasisCapacity(cadence time.Duration) int {
	n := s.Capacity
	if n <= 0 {
		n = s.WindowSamples(cadence)
	}
	if s.MinSamples > n {
		n = s.MinSamples
	}
	return n
}

type TrapConfig struct {
	Low             float64 `yaml:"low"`
	High            float64 `yaml:"high"`
	NeutralPCR      float64 `yaml:"neutral_pcr"`
	SqueezeOverride bool    `yaml:"squeeze_override"`
	SqueezeScore    float64 `yaml:"squeeze_score"`
}

type SafetyConfig struct {
	Enabled      bool          `yaml:"enabled"`
	SessionClose string        `yaml:"session_close"`
	Window       time.Duration `yaml:"window"`
	Timezone     string        `yaml:"timezone"`
	TrendSamples int           `yaml:"trend_samples"`
	MinSamples   int           `yaml:"min_samples"`
	Band         float64       `yaml:"band"`
}

type VelocityConfig struct {
	Confirm   bool    `yaml:"confirm"`
	Threshold float64 `yaml:"threshold"`
}

type FreshnessConfig struct {
	Fresh    time.Duration `yaml:"fresh"`
	Moderate time.Duration `yaml:"moderate"`
}

type HistoryConfig struct {
	Capacity    int `yaml:"capacity"`
	RecordLimit int `yaml:"record_limit"`
}

// ContractsConfig describes how option and future symbols are derived.
type ContractsConfig struct {
	Underlying      string        `yaml:"underlying"`
	SpotToken       string        `yaml:"spot_token"`
	Exchange        string        `yaml:"exchange"`
	MasterURL       string        `yaml:"master_url"`
	MasterPath      string        `yaml:"master_path"`
	MasterTimeout   time.Duration `yaml:"master_timeout"`
	ExpiryWeekday   string        `yaml:"expiry_weekday"`
	ExpiryCutoff    string        `yaml:"expiry_cutoff"`
	NearestFallback bool          `yaml:"nearest_fallback"`
}

type ChannelsConfig struct {
	TickBuffer   int `yaml:"tick_buffer"`
	RecordBuffer int `yaml:"record_buffer"`
}

type SourceConfig struct {
	Mode     string         `yaml:"mode"`
	Stream   StreamConfig   `yaml:"stream"`
	Poll     PollConfig     `yaml:"poll"`
	Simulate SimulateConfig `yaml:"simulate"`
}

type StreamConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	APIKey         string        `yaml:"api_key"`
}

type PollConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	QuoteInterval     time.Duration `yaml:"quote_interval"`
	OIInterval        time.Duration `yaml:"oi_interval"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	APIKey            string        `yaml:"api_key"`
}

type SimulateConfig struct {
	Scenario string        `yaml:"scenario"`
	Regime   string        `yaml:"regime"`
	Interval time.Duration `yaml:"interval"`
	Spot     float64       `yaml:"spot"`
	Seed     int64         `yaml:"seed"`
}

type JournalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type WriterConfig struct {
	MaxWorkers int           `yaml:"max_workers"`
	Buffer     BufferConfig  `yaml:"buffer"`
	Formats    FormatsConfig `yaml:"formats"`
}

type BufferConfig struct {
	MaxSize       int           `yaml:"max_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

type FormatsConfig struct {
	Parquet ParquetConfig `yaml:"parquet"`
}

type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	ManifestDir     string `yaml:"manifest_dir"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type MetricsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"`
	ChannelSize bool          `yaml:"channel_size"`
	Latency     bool          `yaml:"latency"`
	Interval    time.Duration `yaml:"interval"`
}

type DashboardConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	PushInterval    time.Duration `yaml:"push_interval"`
	LogHistory      int           `yaml:"log_history"`
	MetricsHistory  int           `yaml:"metrics_history"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	CloudWatch    bool   `yaml:"cloudwatch"`
	Namespace     string `yaml:"namespace"`
	DashboardName string `yaml:"dashboard_name"`
}

// Default returns the configuration used for any key the YAML file omits.
func Default() Config {
	return Config{
		App: AppConfig{Name: "scalpflow", Version: "dev"},
		Engine: EngineConfig{
			Cadence: time.Second,
			Strike:  StrikeConfig{Step: 50, HysteresisBand: 40},
			Indicators: IndicatorsConfig{
				EMAPeriod:       50,
				RSIPeriod:       14,
				PriceCapacity:   1000,
				StraddleSMA:     3,
				StraddleEpsilon: 0.01,
			},
			Sentiment: SentimentConfig{
				Window:     5 * time.Minute,
				MinSamples: 11,
				Bullish:    3,
				Bearish:    -3,
			},
			Trap: TrapConfig{Low: 0.6, High: 1.4, NeutralPCR: 1.0, SqueezeScore: 5},
			Safety: SafetyConfig{
				Enabled:      true,
				SessionClose: "15:30",
				Window:       35 * time.Minute,
				Timezone:     "Asia/Kolkata",
				TrendSamples: 20,
				MinSamples:   5,
				Band:         2,
			},
			Velocity:  VelocityConfig{Confirm: true, Threshold: 0.4},
			Freshness: FreshnessConfig{Fresh: 15 * time.Second, Moderate: 30 * time.Second},
			History:   HistoryConfig{Capacity: 1000, RecordLimit: 50},
		},
		Contracts: ContractsConfig{
			Underlying:    "NIFTY",
			SpotToken:     "99926000",
			Exchange:      "NFO",
			MasterTimeout: 30 * time.Second,
			ExpiryWeekday: "thursday",
			ExpiryCutoff:  "15:30",
		},
		Channels: ChannelsConfig{TickBuffer: 1024, RecordBuffer: 64},
		Source: SourceConfig{
			Mode:   "live",
			Stream: StreamConfig{ReconnectDelay: 5 * time.Second},
			Poll: PollConfig{
				QuoteInterval:     time.Second,
				OIInterval:        10 * time.Second,
				Timeout:           5 * time.Second,
				RequestsPerSecond: 3,
				Burst:             1,
			},
			Simulate: SimulateConfig{Scenario: "NORMAL", Regime: "NORMAL", Interval: 100 * time.Millisecond, Spot: 25000},
		},
		Journal: JournalConfig{Path: "scalpflow.db", QueueSize: 100},
		Kafka:   KafkaConfig{Topic: "scalpflow.signals"},
		Writer: WriterConfig{
			MaxWorkers: 2,
			Buffer:     BufferConfig{MaxSize: 600, FlushInterval: 5 * time.Minute},
			Formats:    FormatsConfig{Parquet: ParquetConfig{Compression: "snappy"}},
		},
		Storage:   StorageConfig{S3: S3Config{Prefix: "signals"}},
		Metrics:   MetricsConfig{Address: "0.0.0.0:2112", ChannelSize: true, Latency: true, Interval: 10 * time.Second},
		Dashboard: DashboardConfig{Address: "0.0.0.0:8080", RefreshInterval: 5 * time.Second, PushInterval: 250 * time.Millisecond, LogHistory: 200, MetricsHistory: 200},
		Logging:   LoggingConfig{Level: "info", Format: "json", Output: "stdout", Namespace: "ScalpFlow", DashboardName: "ScalpFlow"},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Source.Mode = strings.ToLower(strings.TrimSpace(config.Source.Mode))

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		config.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("BROKER_STREAM_URL"); v != "" {
		config.Source.Stream.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv("BROKER_API_KEY"); v != "" {
		config.Source.Stream.APIKey = strings.TrimSpace(v)
		config.Source.Poll.APIKey = strings.TrimSpace(v)
	}
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

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	e := cfg.Engine
	if e.Cadence <= 0 {
		return fmt.Errorf("engine.cadence must be greater than 0")
	}
	if e.Strike.Step <= 0 {
		return fmt.Errorf("engine.strike.step must be greater than 0")
	}
	if e.Strike.HysteresisBand < 0 {
		return fmt.Errorf("engine.strike.hysteresis_band must not be negative")
	}
	if e.Indicators.EMAPeriod <= 0 || e.Indicators.RSIPeriod <= 1 {
		return fmt.Errorf("engine.indicators.ema_period must be greater than 0 and rsi_period greater than 1")
	}
	if e.Indicators.PriceCapacity <= e.Indicators.RSIPeriod {
		return fmt.Errorf("engine.indicators.price_capacity must exceed rsi_period")
	}
	if e.Indicators.StraddleSMA <= 0 {
		return fmt.Errorf("engine.indicators.straddle_sma must be greater than 0")
	}
	if e.Sentiment.Window <= 0 {
		return fmt.Errorf("engine.sentiment.window must be greater than 0")
	}
	need := e.Sentiment.WindowSamples(e.Cadence)
	if e.Sentiment.Capacity < 0 || (e.Sentiment.Capacity > 0 && e.Sentiment.Capacity < need) {
		return fmt.Errorf("engine.sentiment.capacity must be 0 or at least %d to cover the window at the engine cadence", need)
	}
	if e.Sentiment.MinSamples < 1 || e.Sentiment.MinSamples > need {
		return fmt.Errorf("engine.sentiment.min_samples must be between 1 and %d", need)
	}
	if e.Sentiment.Bullish <= e.Sentiment.Bearish {
		return fmt.Errorf("engine.sentiment.bullish must be greater than engine.sentiment.bearish")
	}
	if e.Trap.Low >= e.Trap.High {
		return fmt.Errorf("engine.trap.low must be less than engine.trap.high")
	}
	if e.Safety.Enabled {
		if _, err := ParseClock(e.Safety.SessionClose); err != nil {
			return fmt.Errorf("engine.safety.session_close: %w", err)
		}
		if e.Safety.Window <= 0 || e.Safety.TrendSamples <= 0 {
			return fmt.Errorf("engine.safety.window and trend_samples must be greater than 0")
		}
	}
	if e.Velocity.Threshold < 0 {
		return fmt.Errorf("engine.velocity.threshold must not be negative")
	}
	if e.Freshness.Fresh <= 0 || e.Freshness.Moderate < e.Freshness.Fresh {
		return fmt.Errorf("engine.freshness.moderate must be at least engine.freshness.fresh")
	}
	if e.History.Capacity <= 0 {
		return fmt.Errorf("engine.history.capacity must be greater than 0")
	}

	if cfg.Contracts.Underlying == "" {
		return fmt.Errorf("contracts.underlying is required")
	}
	if _, err := ParseWeekday(cfg.Contracts.ExpiryWeekday); err != nil {
		return fmt.Errorf("contracts.expiry_weekday: %w", err)
	}
	if _, err := ParseClock(cfg.Contracts.ExpiryCutoff); err != nil {
		return fmt.Errorf("contracts.expiry_cutoff: %w", err)
	}

	if cfg.Channels.TickBuffer <= 0 || cfg.Channels.RecordBuffer <= 0 {
		return fmt.Errorf("channels.tick_buffer and channels.record_buffer must be greater than 0")
	}

	switch cfg.Source.Mode {
	case "live":
		if cfg.Source.Stream.Enabled && cfg.Source.Stream.URL == "" {
			return fmt.Errorf("source.stream.url is required when the stream is enabled")
		}
		if cfg.Source.Poll.Enabled {
			if cfg.Source.Poll.BaseURL == "" {
				return fmt.Errorf("source.poll.base_url is required when polling is enabled")
			}
			if cfg.Source.Poll.RequestsPerSecond <= 0 {
				return fmt.Errorf("source.poll.requests_per_second must be greater than 0")
			}
		}
	case "simulate":
		if cfg.Source.Simulate.Interval <= 0 {
			return fmt.Errorf("source.simulate.interval must be greater than 0")
		}
	default:
		return fmt.Errorf("source.mode '%s' is not supported", cfg.Source.Mode)
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required when kafka is enabled")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if cfg.Writer.Buffer.FlushInterval <= 0 {
			return fmt.Errorf("writer.buffer.flush_interval must be greater than 0")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

// ParseClock parses an "HH:MM" wall-clock value into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid clock '%s', want HH:MM", v)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// ParseWeekday accepts full or three letter English weekday names.
func ParseWeekday(v string) (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(v))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("invalid weekday '%s'", v)
}

// Location loads a timezone, falling back to IST when the tz database lacks it.
func Location(name string) *time.Location {
	if name == "" {
		name = "Asia/Kolkata"
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*3600+30*60)
}
