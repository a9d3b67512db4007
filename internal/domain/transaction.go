package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType side of a simulated trade.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// IsValid checks if the TransactionType value is valid.
func (t TransactionType) IsValid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// Transaction immutable ledger record of an executed simulated trade.
type Transaction struct {
	ID               string          `json:"id"`
	Type             TransactionType `json:"type"`
	Timestamp        time.Time       `json:"timestamp"`
	BaseAmount       decimal.Decimal `json:"btcAmount"`
	QuoteAmount      decimal.Decimal `json:"usdAmount"`
	PriceAtExecution decimal.Decimal `json:"priceAtExecution"`
}

// Portfolio balances and history of the simulated account.
type Portfolio struct {
	Pair         string          `json:"pair"`
	BaseBalance  decimal.Decimal `json:"btcBalance"`
	QuoteBalance decimal.Decimal `json:"usdBalance"`
	// Transactions newest first.
	Transactions []Transaction `json:"transactions"`
}
