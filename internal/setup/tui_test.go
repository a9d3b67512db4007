package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/spotsim/config"
	"github.com/vadiminshakov/spotsim/internal/domain"
)

func TestAnswers_WriteAndLoad(t *testing.T) {
	a := DefaultAnswers()
	a.Pair = "ETH_USDT"
	a.DefaultRange = "1h"
	a.InitialBalance = "500"
	a.PollInterval = "5s"
	a.DataDir = t.TempDir()

	tmp, err := a.ConfigTmp()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), GeneratedConfigPath)
	require.NoError(t, Write(path, tmp))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ETH", cfg.Pair.From)
	assert.Equal(t, domain.Range1h, cfg.DefaultRange)
	assert.Equal(t, "500", cfg.InitialBalance.String())
	assert.Equal(t, 5*time.Second, cfg.PollPriceInterval)
	assert.Equal(t, 30*time.Second, cfg.LiveRefreshInterval)
}

func TestAnswers_Invalid(t *testing.T) {
	a := DefaultAnswers()
	a.PollInterval = "soon"
	_, err := a.ConfigTmp()
	assert.Error(t, err)

	a = DefaultAnswers()
	a.DefaultRange = "2h"
	_, err = a.ConfigTmp()
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validatePair("BTC_USDT"))
	assert.Error(t, validatePair("BTCUSDT"))

	assert.NoError(t, validateBalance("100.5"))
	assert.Error(t, validateBalance("0"))
	assert.Error(t, validateBalance("x"))

	assert.NoError(t, validateDuration("2s"))
	assert.Error(t, validateDuration("-2s"))
	assert.Error(t, validateDuration("2"))
}
