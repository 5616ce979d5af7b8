package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Gamma GammaConfig `mapstructure:"gamma"`
	LLM   LLMConfig   `mapstructure:"llm"`
	News  NewsConfig  `mapstructure:"news"`

	Ensemble    EnsembleConfig    `mapstructure:"ensemble"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Trading     TradingConfig     `mapstructure:"trading"`
	Risk        RiskConfig        `mapstructure:"risk"`
	Exit        ExitConfig        `mapstructure:"exit"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Stream      StreamConfig      `mapstructure:"stream"`
	Executor    ExecutorConfig    `mapstructure:"executor"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Scan        string `mapstructure:"scan"`
	Monitor     string `mapstructure:"monitor"`
	Calibration string `mapstructure:"calibration"`
}

type GammaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	APIKeyEnv        string        `mapstructure:"api_key_env"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	RequestSpacing   time.Duration `mapstructure:"request_spacing"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type NewsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Feeds    []string      `mapstructure:"feeds"`
	Keywords []string      `mapstructure:"keywords"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxItems int           `mapstructure:"max_items"`
}

type EnsembleConfig struct {
	Size              int     `mapstructure:"size"`
	BaseTemperature   float64 `mapstructure:"base_temperature"`
	TemperatureSpread float64 `mapstructure:"temperature_spread"`
}

type AnalysisConfig struct {
	// Consensus disagreement.
	VarianceThreshold float64 `mapstructure:"variance_threshold"`
	OutlierGap        float64 `mapstructure:"outlier_gap"`

	// Evidence validator penalty policy.
	GroundedOverlap float64 `mapstructure:"grounded_overlap"`
	MinAccuracy     float64 `mapstructure:"min_accuracy"`
	CitationPenalty float64 `mapstructure:"citation_penalty"`
	ChangePenalty   float64 `mapstructure:"change_penalty"`
	MaxTotalPenalty float64 `mapstructure:"max_total_penalty"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor"`

	// Bayesian blend.
	HistoryLimit  int     `mapstructure:"history_limit"`
	MaxPriorUnits float64 `mapstructure:"max_prior_units"`
}

type TradingConfig struct {
	MinEdge                float64  `mapstructure:"min_edge"`
	MaxEdge                float64  `mapstructure:"max_edge"`
	MinConfidence          float64  `mapstructure:"min_confidence"`
	MaxPositionUSD         float64  `mapstructure:"max_position_usd"`
	MinPositionUSD         float64  `mapstructure:"min_position_usd"`
	MaxTotalExposureUSD    float64  `mapstructure:"max_total_exposure_usd"`
	MaxConcurrentPositions int      `mapstructure:"max_concurrent_positions"`
	EnabledCategories      []string `mapstructure:"enabled_categories"`
	InitialBankrollUSD     float64  `mapstructure:"initial_bankroll_usd"`
	ScanMarketLimit        int      `mapstructure:"scan_market_limit"`
}

type RiskConfig struct {
	MaxDailyLossUSD   float64 `mapstructure:"max_daily_loss_usd"`
	SlippageTolerance float64 `mapstructure:"slippage_tolerance"`
}

type ExitConfig struct {
	StopLossPct          float64       `mapstructure:"stop_loss_pct"`
	ReanalyzeTriggerPct  float64       `mapstructure:"reanalyze_trigger_pct"`
	ConfidenceFloor      float64       `mapstructure:"confidence_floor"`
	ConvictionFlipMargin float64       `mapstructure:"conviction_flip_margin"`
	MonitorItemDelay     time.Duration `mapstructure:"monitor_item_delay"`
}

type CalibrationConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	WindowDays int  `mapstructure:"window_days"`
}

type StreamConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxAssets       int           `mapstructure:"max_assets"`
}

type ExecutorConfig struct {
	Mode      string        `mapstructure:"mode"`
	BaseURL   string        `mapstructure:"base_url"`
	OrderPath string        `mapstructure:"order_path"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("OB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.scan", "@every 5m")
	v.SetDefault("cron.monitor", "@every 1m")
	v.SetDefault("cron.calibration", "@every 6h")

	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.timeout", "15s")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key_env", "OB_LLM_API_KEY")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_backoff", "2s")
	v.SetDefault("llm.request_spacing", "3s")
	v.SetDefault("llm.breaker_threshold", 3)
	v.SetDefault("llm.breaker_cooldown", "30m")

	v.SetDefault("news.enabled", true)
	v.SetDefault("news.timeout", "15s")
	v.SetDefault("news.max_items", 20)

	v.SetDefault("ensemble.size", 3)
	v.SetDefault("ensemble.base_temperature", 0.5)
	v.SetDefault("ensemble.temperature_spread", 0.2)

	v.SetDefault("analysis.variance_threshold", 0.02)
	v.SetDefault("analysis.outlier_gap", 0.15)
	v.SetDefault("analysis.grounded_overlap", 0.4)
	v.SetDefault("analysis.min_accuracy", 0.5)
	v.SetDefault("analysis.citation_penalty", 0.15)
	v.SetDefault("analysis.change_penalty", 0.10)
	v.SetDefault("analysis.max_total_penalty", 0.25)
	v.SetDefault("analysis.confidence_floor", 0.1)
	v.SetDefault("analysis.history_limit", 3)
	v.SetDefault("analysis.max_prior_units", 3)

	v.SetDefault("trading.min_edge", 0.05)
	v.SetDefault("trading.max_edge", 0.30)
	v.SetDefault("trading.min_confidence", 0.60)
	v.SetDefault("trading.max_position_usd", 100)
	v.SetDefault("trading.min_position_usd", 5)
	v.SetDefault("trading.max_total_exposure_usd", 1000)
	v.SetDefault("trading.max_concurrent_positions", 10)
	v.SetDefault("trading.enabled_categories", []string{"politics", "crypto", "economics", "science"})
	v.SetDefault("trading.initial_bankroll_usd", 1000)
	v.SetDefault("trading.scan_market_limit", 20)

	v.SetDefault("risk.max_daily_loss_usd", 200)
	v.SetDefault("risk.slippage_tolerance", 0.02)

	v.SetDefault("exit.stop_loss_pct", 0.25)
	v.SetDefault("exit.reanalyze_trigger_pct", 0.15)
	v.SetDefault("exit.confidence_floor", 0.4)
	v.SetDefault("exit.conviction_flip_margin", 0.10)
	v.SetDefault("exit.monitor_item_delay", "2s")

	v.SetDefault("calibration.enabled", true)
	v.SetDefault("calibration.window_days", 30)

	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("stream.refresh_interval", "30s")
	v.SetDefault("stream.max_assets", 100)

	v.SetDefault("executor.mode", "paper")
	v.SetDefault("executor.base_url", "https://clob.polymarket.com")
	v.SetDefault("executor.order_path", "/orders")
	v.SetDefault("executor.timeout", "15s")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
