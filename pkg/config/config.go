package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ZWatch/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Host            string        `yaml:"host"`
		Port            int           `yaml:"port"`
		CORS            bool          `yaml:"cors"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Logging struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Output    string `yaml:"output"`
		Collector struct {
			Enabled        bool          `yaml:"enabled"`
			Interval       time.Duration `yaml:"interval"`
			CountThreshold int           `yaml:"count_threshold"`
			Topic          string        `yaml:"topic"`
		} `yaml:"collector"`
	} `yaml:"logging"`
	Backend struct {
		Type         string        `yaml:"type"`
		BatchSize    int           `yaml:"batch_size"`
		BatchTimeout time.Duration `yaml:"batch_timeout"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RowsTopic    string   `yaml:"rows_topic"`
		EventsTopic  string   `yaml:"events_topic"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			Linger       time.Duration `yaml:"linger"`
			BatchBytes   int           `yaml:"batch_bytes"`
			BatchSize    int           `yaml:"batch_size"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			ReadTimeout  time.Duration `yaml:"read_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes"`
			MaxBytes   int           `yaml:"max_bytes"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		Compression      string        `yaml:"compression"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	MarketData struct {
		BaseURL        string        `yaml:"base_url"`
		WebSocketURL   string        `yaml:"websocket_url"`
		APIKey         string        `yaml:"api_key"`
		Symbols        []string      `yaml:"symbols"`
		PageLimit      int           `yaml:"page_limit"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		RetryMax       int           `yaml:"retry_max"`
		RetryBackoff   time.Duration `yaml:"retry_backoff"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		TickRPS        int           `yaml:"tick_rps"`
		TickBuffer     int           `yaml:"tick_buffer"`
	} `yaml:"market_data"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Cache struct {
		Mode       string        `yaml:"mode"`
		SeriesTTL  time.Duration `yaml:"series_ttl"`
		ReportTTL  time.Duration `yaml:"report_ttl"`
		MaxEntries int           `yaml:"max_entries"`
	} `yaml:"cache"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Name       string        `yaml:"name"`
		Workers    int           `yaml:"workers"`
		MaxRetries int           `yaml:"max_retries"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
	Notifier struct {
		WebhookURL string        `yaml:"webhook_url"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"notifier"`
	Backtest struct {
		Annualizer float64 `yaml:"annualizer"`
		MaxBars    int     `yaml:"max_bars"`
		Criteria   struct {
			MinSharpe        float64 `yaml:"min_sharpe"`
			MinCalmar        float64 `yaml:"min_calmar"`
			MaxDrawdownFloor float64 `yaml:"max_drawdown_floor"`
			MinTrades        int     `yaml:"min_trades"`
		} `yaml:"criteria"`
		Sweep struct {
			Workers   int `yaml:"workers"`
			MaxGrid   int `yaml:"max_grid"`
			RateRPS   int `yaml:"rate_rps"`
			RateBurst int `yaml:"rate_burst"`
		} `yaml:"sweep"`
	} `yaml:"backtest"`
	Monitor struct {
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"monitor"`
}

// Load parses the YAML file at path and validates the result.
func Load(path string) (*Config, error) {
	c := defaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// defaultConfig seeds values that hold when the file omits their keys.
func defaultConfig() *Config {
	var c Config
	c.Server.CORS = true
	c.Metrics.Enabled = true
	c.Metrics.Path = "/metrics"
	return &c
}

// LoadWithEnv loads the file and lets a handful of environment
// variables override it for container deployments.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.Split(v, ",")
		}
	}

	setString("HOST", &c.Server.Host)
	c.Server.Port = util.ParseIntDefault(os.Getenv("PORT"), c.Server.Port)
	setString("BACKEND", &c.Backend.Type)
	setList("KAFKA_BROKERS", &c.Kafka.Brokers)
	setString("KAFKA_ROWS_TOPIC", &c.Kafka.RowsTopic)
	setString("MARKET_DATA_URL", &c.MarketData.BaseURL)
	setString("MARKET_DATA_API_KEY", &c.MarketData.APIKey)
	setList("SYMBOLS", &c.MarketData.Symbols)
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	setString("WEBHOOK_URL", &c.Notifier.WebhookURL)

	// Overrides can change validated fields, so check again.
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate reports the first missing or inconsistent required field.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	switch c.Backend.Type {
	case "kafka", "clickhouse":
	case "":
		return fmt.Errorf("backend.type is required")
	default:
		return fmt.Errorf("backend.type must be kafka or clickhouse, got %q", c.Backend.Type)
	}
	if c.MarketData.BaseURL == "" {
		return fmt.Errorf("market_data.base_url is required")
	}
	if len(c.MarketData.Symbols) == 0 {
		return fmt.Errorf("market_data.symbols cannot be empty")
	}
	return nil
}
