package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"tick_book/internal/domain"
	"tick_book/internal/normalize"
	"tick_book/internal/snapshot"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TICKBOOK_"

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`

	Job struct {
		Mode        string   `yaml:"mode"` // offline | replay | realtime
		Exchange    string   `yaml:"exchange"`
		TradeDate   string   `yaml:"trade_date"` // YYYYMMDD
		Symbols     []string `yaml:"symbols"`
		InputDir    string   `yaml:"input_dir"`
		Format      string   `yaml:"format"` // raw_csv | parquet
		Concurrency int      `yaml:"concurrency"`

		Replay struct {
			OutputPath string `yaml:"output_path"`
			Drive      bool   `yaml:"drive"`
		} `yaml:"replay"`

		Realtime struct {
			WSURL     string `yaml:"ws_url"`
			InboxSize int    `yaml:"inbox_size"`
		} `yaml:"realtime"`
	} `yaml:"job"`

	Snapshot struct {
		Cadence  string        `yaml:"cadence"`
		Interval time.Duration `yaml:"interval"`
		Depth    int           `yaml:"depth"`
		FillGaps bool          `yaml:"fill_gaps"`
	} `yaml:"snapshot"`

	// Exchanges overrides the built-in mappings, keyed "exchange/category".
	Exchanges map[string]normalize.Mapping `yaml:"exchanges"`

	Storage struct {
		Enabled bool   `yaml:"enabled"`
		Driver  string `yaml:"driver"` // sqlite | postgres
		DSN     string `yaml:"dsn"`
	} `yaml:"storage"`

	Output struct {
		Parquet struct {
			Enabled bool   `yaml:"enabled"`
			Dir     string `yaml:"dir"`
		} `yaml:"parquet"`
		Kafka struct {
			Enabled bool     `yaml:"enabled"`
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"output"`

	Audit struct {
		Enabled bool   `yaml:"enabled"`
		Dir     string `yaml:"dir"`
	} `yaml:"audit"`

	Metrics struct {
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// envOverrides lists the settings that can be changed per run without
// editing the YAML file. Unset variables leave the file value alone.
type envOverrides struct {
	LogLevel string `env:"LOG_LEVEL"`

	Job struct {
		Mode        string   `env:"MODE"`
		Exchange    string   `env:"EXCHANGE"`
		TradeDate   string   `env:"TRADE_DATE"`
		Symbols     []string `env:"SYMBOLS" envSeparator:","`
		InputDir    string   `env:"INPUT_DIR"`
		Concurrency int      `env:"CONCURRENCY"`
		WSURL       string   `env:"WS_URL"`
	} `envPrefix:"JOB_"`

	Storage struct {
		Driver string `env:"DRIVER"`
		DSN    string `env:"DSN"`
	} `envPrefix:"STORAGE_"`

	Kafka struct {
		Brokers []string `env:"BROKERS" envSeparator:","`
		Topic   string   `env:"TOPIC"`
	} `envPrefix:"KAFKA_"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
	}
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and environment overrides,
// then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// .env is optional
	_ = godotenv.Load()
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tick_book"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Job.Format == "" {
		c.Job.Format = string(domain.FormatRawCSV)
	}
	if c.Job.Concurrency == 0 {
		c.Job.Concurrency = runtime.NumCPU()
	}
	if c.Job.Realtime.InboxSize == 0 {
		c.Job.Realtime.InboxSize = 1024
	}
	if c.Snapshot.Cadence == "" {
		c.Snapshot.Cadence = string(snapshot.CadenceFinalize)
	}
	if c.Snapshot.Depth == 0 {
		c.Snapshot.Depth = 10
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.DSN == "" && c.Storage.Driver == "sqlite" {
		c.Storage.DSN = "data/tick_book.db"
	}
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	var o envOverrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: EnvPrefix}); err != nil {
		return &domain.ConfigError{Field: "env", Err: err}
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Logging.Level, o.LogLevel)
	set(&cfg.Job.Mode, o.Job.Mode)
	set(&cfg.Job.Exchange, o.Job.Exchange)
	set(&cfg.Job.TradeDate, o.Job.TradeDate)
	set(&cfg.Job.InputDir, o.Job.InputDir)
	set(&cfg.Job.Realtime.WSURL, o.Job.WSURL)
	set(&cfg.Storage.Driver, o.Storage.Driver)
	set(&cfg.Storage.DSN, o.Storage.DSN)
	set(&cfg.Output.Kafka.Topic, o.Kafka.Topic)
	if len(o.Job.Symbols) > 0 {
		cfg.Job.Symbols = o.Job.Symbols
	}
	if o.Job.Concurrency > 0 {
		cfg.Job.Concurrency = o.Job.Concurrency
	}
	if len(o.Kafka.Brokers) > 0 {
		cfg.Output.Kafka.Brokers = o.Kafka.Brokers
	}
	return nil
}

var tradeDateRe = regexp.MustCompile(`^\d{8}$`)

// Validate checks configuration validity
func (c *Config) Validate() error {
	if _, err := c.Mode(); err != nil {
		return err
	}
	if c.Job.Exchange == "" {
		return &domain.ConfigError{Field: "job.exchange", Err: errors.New("required")}
	}
	if !tradeDateRe.MatchString(c.Job.TradeDate) {
		return &domain.ConfigError{Field: "job.trade_date", Err: fmt.Errorf("want YYYYMMDD, got %q", c.Job.TradeDate)}
	}
	if _, err := time.Parse("20060102", c.Job.TradeDate); err != nil {
		return &domain.ConfigError{Field: "job.trade_date", Err: err}
	}
	if c.Job.Concurrency < 1 {
		return &domain.ConfigError{Field: "job.concurrency", Err: fmt.Errorf("must be positive, got %d", c.Job.Concurrency)}
	}
	if err := c.SnapshotConfig().Validate(); err != nil {
		return &domain.ConfigError{Field: "snapshot", Err: err}
	}

	switch c.Job.Mode {
	case "offline", "replay":
		if len(c.Job.Symbols) == 0 {
			return &domain.ConfigError{Field: "job.symbols", Err: errors.New("at least one symbol is required")}
		}
		if c.Job.InputDir == "" {
			return &domain.ConfigError{Field: "job.input_dir", Err: errors.New("required")}
		}
		switch domain.InputFormat(c.Job.Format) {
		case domain.FormatRawCSV, domain.FormatParquet:
		default:
			return &domain.ConfigError{Field: "job.format", Err: fmt.Errorf("unknown format %q", c.Job.Format)}
		}
	case "realtime":
		u := c.Job.Realtime.WSURL
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return &domain.ConfigError{Field: "job.realtime.ws_url", Err: fmt.Errorf("invalid WS URL: %q", u)}
		}
	}

	if c.Storage.Enabled {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
		default:
			return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unknown driver %q", c.Storage.Driver)}
		}
		if c.Storage.DSN == "" {
			return &domain.ConfigError{Field: "storage.dsn", Err: errors.New("required")}
		}
	}
	if c.Output.Parquet.Enabled && c.Output.Parquet.Dir == "" {
		return &domain.ConfigError{Field: "output.parquet.dir", Err: errors.New("required")}
	}
	if c.Output.Kafka.Enabled && (len(c.Output.Kafka.Brokers) == 0 || c.Output.Kafka.Topic == "") {
		return &domain.ConfigError{Field: "output.kafka", Err: errors.New("brokers and topic are required")}
	}
	if c.Audit.Enabled && c.Audit.Dir == "" {
		return &domain.ConfigError{Field: "audit.dir", Err: errors.New("required")}
	}
	return nil
}

// Mode resolves the configured run mode into its tagged variant.
func (c *Config) Mode() (domain.RunMode, error) {
	switch c.Job.Mode {
	case "offline":
		return domain.OfflineMode{
			Exchange:  c.Job.Exchange,
			TradeDate: c.Job.TradeDate,
			Symbols:   c.Job.Symbols,
			InputDir:  c.Job.InputDir,
			Format:    domain.InputFormat(c.Job.Format),
		}, nil
	case "replay":
		return domain.ReplayMode{
			Exchange:   c.Job.Exchange,
			TradeDate:  c.Job.TradeDate,
			Symbols:    c.Job.Symbols,
			InputDir:   c.Job.InputDir,
			Format:     domain.InputFormat(c.Job.Format),
			OutputPath: c.Job.Replay.OutputPath,
			Drive:      c.Job.Replay.Drive,
		}, nil
	case "realtime":
		return domain.RealtimeMode{
			Exchange:  c.Job.Exchange,
			TradeDate: c.Job.TradeDate,
			URL:       c.Job.Realtime.WSURL,
			Symbols:   c.Job.Symbols,
			InboxSize: c.Job.Realtime.InboxSize,
		}, nil
	}
	return nil, &domain.ConfigError{Field: "job.mode", Err: fmt.Errorf("unknown mode %q", c.Job.Mode)}
}

// SnapshotConfig converts the snapshot section.
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{
		Cadence:  snapshot.Cadence(c.Snapshot.Cadence),
		Interval: c.Snapshot.Interval,
		Depth:    c.Snapshot.Depth,
		FillGaps: c.Snapshot.FillGaps,
	}
}
