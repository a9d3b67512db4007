package clients

import (
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

// NewPublicBinanceClient creates a keyless Binance client for public market data.
// An empty baseURL keeps the library default.
func NewPublicBinanceClient(baseURL string, timeout time.Duration) *binance.Client {
	// create client without API keys for public data only
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if timeout > 0 {
		client.HTTPClient = &http.Client{Timeout: timeout}
	}
	return client
}
