package clients

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewPublicBinanceClient(t *testing.T) {
	c := NewPublicBinanceClient("http://127.0.0.1:9999/", 3*time.Second)
	assert.Equal(t, "http://127.0.0.1:9999", c.BaseURL)
	assert.Empty(t, c.APIKey)
	assert.Equal(t, 3*time.Second, c.HTTPClient.Timeout)

	def := NewPublicBinanceClient("", 0)
	assert.NotEmpty(t, def.BaseURL)
}
