package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/spotsim/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.Pair{From: "BTC", To: "USDT"}, cfg.Pair)
	assert.Equal(t, "https://api.binance.com", cfg.BaseURL)
	assert.Equal(t, domain.Range7d, cfg.DefaultRange)
	assert.Equal(t, 2*time.Second, cfg.PollPriceInterval)
	assert.Equal(t, 30*time.Second, cfg.LiveRefreshInterval)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "10000", cfg.InitialBalance.String())
	assert.Equal(t, "./wal/spotsim", cfg.DataDir)
	assert.Equal(t, 5, cfg.DailyOpenRetries)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
pair: eth_usdt
default_range: 1m
poll_price_interval: 500ms
initial_balance: "2500.5"
daily_open_retries: "0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.Pair{From: "ETH", To: "USDT"}, cfg.Pair)
	assert.Equal(t, domain.RangeLive, cfg.DefaultRange)
	assert.Equal(t, 500*time.Millisecond, cfg.PollPriceInterval)
	assert.Equal(t, 30*time.Second, cfg.LiveRefreshInterval, "unset keys keep defaults")
	assert.Equal(t, "2500.5", cfg.InitialBalance.String())
	assert.Zero(t, cfg.DailyOpenRetries)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SPOTSIM_BASE_URL", "http://localhost:9000")
	t.Setenv("SPOTSIM_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("SPOTSIM_DATA_DIR", "/tmp/spotsim")
	t.Setenv("SPOTSIM_PAIR", "SOL_USDT")

	cfg, err := Load(writeConfig(t, "pair: BTC_USDT\nhttp_addr: :7000\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9000", cfg.BaseURL)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/spotsim", cfg.DataDir)
	assert.Equal(t, "SOL", cfg.Pair.From)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantKey string
	}{
		{"bad pair", "pair: BTCUSDT\n", "pair"},
		{"unknown range", "default_range: 10m\n", "default_range"},
		{"negative poll", "poll_price_interval: -1s\n", "poll_price_interval"},
		{"bad balance", "initial_balance: lots\n", "initial_balance"},
		{"zero balance", "initial_balance: \"0\"\n", "initial_balance"},
		{"bad retries", "daily_open_retries: many\n", "daily_open_retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantKey)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "pair: [\n"))
		assert.Error(t, err)
	})
}

func TestConfigTmp_YAMLRoundTrip(t *testing.T) {
	raw, err := yaml.Marshal(Defaults())
	require.NoError(t, err)

	cfg, err := Load(writeConfig(t, string(raw)))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.PollPriceInterval)
	assert.Equal(t, domain.Range7d, cfg.DefaultRange)
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"--config", "spotsim.yaml", "--debug"})
	require.NoError(t, err)
	assert.Equal(t, Flags{ConfigPath: "spotsim.yaml", Debug: true}, f)

	f, err = ParseFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, Flags{}, f)

	_, err = ParseFlags([]string{"--unknown"})
	assert.Error(t, err)
}
