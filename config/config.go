package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

const envPrefix = "spotsim"

// Config is the validated runtime configuration of one simulator session.
type Config struct {
	Pair                domain.Pair
	BaseURL             string
	DefaultRange        domain.Range
	PollPriceInterval   time.Duration
	LiveRefreshInterval time.Duration
	RequestTimeout      time.Duration
	HTTPAddr            string
	InitialBalance      decimal.Decimal
	DataDir             string
	DailyOpenRetries    int
}

// ConfigTmp is the raw YAML shape of Config.
type ConfigTmp struct {
	Pair                string        `yaml:"pair"`
	BaseURL             string        `yaml:"base_url,omitempty"`
	DefaultRange        string        `yaml:"default_range,omitempty"`
	PollPriceInterval   time.Duration `yaml:"poll_price_interval,omitempty"`
	LiveRefreshInterval time.Duration `yaml:"live_refresh_interval,omitempty"`
	RequestTimeout      time.Duration `yaml:"request_timeout,omitempty"`
	HTTPAddr            string        `yaml:"http_addr,omitempty"`
	InitialBalance      string        `yaml:"initial_balance,omitempty"`
	DataDir             string        `yaml:"data_dir,omitempty"`
	DailyOpenRetriesStr string        `yaml:"daily_open_retries,omitempty"`
}

// envOverrides are read from SPOTSIM_* variables, optionally via a .env file.
type envOverrides struct {
	BaseURL  string `split_words:"true"`
	HTTPAddr string `split_words:"true"`
	DataDir  string `split_words:"true"`
	Pair     string
}

// Flags are the command line switches.
type Flags struct {
	ConfigPath string
	Setup      bool
	Debug      bool
}

// Defaults returns the raw configuration used when no file is given.
func Defaults() ConfigTmp {
	return ConfigTmp{
		Pair:                "BTC_USDT",
		BaseURL:             "https://api.binance.com",
		DefaultRange:        string(domain.DefaultRange),
		PollPriceInterval:   2 * time.Second,
		LiveRefreshInterval: 30 * time.Second,
		RequestTimeout:      10 * time.Second,
		HTTPAddr:            ":8080",
		InitialBalance:      "10000",
		DataDir:             "./wal/spotsim",
		DailyOpenRetriesStr: "5",
	}
}

// ParseFlags parses command line arguments, without the program name.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("spotsim", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive configuration wizard")
	fs.BoolVar(&f.Debug, "debug", false, "enable development logging")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Load builds the configuration from defaults, the optional YAML file at path and
// SPOTSIM_* environment overrides, in that order.
func Load(path string) (Config, error) {
	tmp := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(raw, &tmp); err != nil {
			return Config{}, errors.Wrapf(err, "parse yaml config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return Config{}, errors.Wrap(err, "read environment")
	}
	tmp.applyEnv(env)

	return tmp.Build()
}

func (c *ConfigTmp) applyEnv(env envOverrides) {
	if env.BaseURL != "" {
		c.BaseURL = env.BaseURL
	}
	if env.HTTPAddr != "" {
		c.HTTPAddr = env.HTTPAddr
	}
	if env.DataDir != "" {
		c.DataDir = env.DataDir
	}
	if env.Pair != "" {
		c.Pair = env.Pair
	}
}

// Build validates the raw values and converts them into Config.
func (c ConfigTmp) Build() (Config, error) {
	pair, err := domain.ParsePair(c.Pair)
	if err != nil {
		return Config{}, errors.Wrapf(err, "incorrect 'pair' param in config")
	}

	rng, err := domain.ParseRange(c.DefaultRange)
	if err != nil {
		return Config{}, errors.Wrapf(err, "incorrect 'default_range' param in config")
	}

	if strings.TrimSpace(c.BaseURL) == "" {
		return Config{}, errors.New("'base_url' param in config must not be empty")
	}

	durations := []struct {
		key string
		val time.Duration
	}{
		{"poll_price_interval", c.PollPriceInterval},
		{"live_refresh_interval", c.LiveRefreshInterval},
		{"request_timeout", c.RequestTimeout},
	}
	for _, d := range durations {
		if d.val <= 0 {
			return Config{}, errors.Errorf("incorrect '%s' param in config (must be a positive duration, e.g. 2s)", d.key)
		}
	}

	balance, err := decimal.NewFromString(c.InitialBalance)
	if err != nil {
		return Config{}, errors.Wrapf(err, "incorrect 'initial_balance' param in config (correct format is 10000)")
	}
	if !balance.IsPositive() {
		return Config{}, errors.New("incorrect 'initial_balance' param in config (must be positive)")
	}

	retries, err := strconv.Atoi(c.DailyOpenRetriesStr)
	if err != nil || retries < 0 {
		return Config{}, errors.Errorf("incorrect 'daily_open_retries' param in config (must be a non-negative integer, got %q)", c.DailyOpenRetriesStr)
	}

	return Config{
		Pair:                pair,
		BaseURL:             strings.TrimSpace(c.BaseURL),
		DefaultRange:        rng,
		PollPriceInterval:   c.PollPriceInterval,
		LiveRefreshInterval: c.LiveRefreshInterval,
		RequestTimeout:      c.RequestTimeout,
		HTTPAddr:            c.HTTPAddr,
		InitialBalance:      balance,
		DataDir:             c.DataDir,
		DailyOpenRetries:    retries,
	}, nil
}
