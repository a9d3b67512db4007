package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotsim/internal/domain"
	"github.com/vadiminshakov/spotsim/internal/storage/portfolio"
	"github.com/vadiminshakov/spotsim/internal/storage/transactions"
)

var btcUSDT = domain.Pair{From: "BTC", To: "USDT"}

type stubPrices struct {
	mu    sync.Mutex
	price float64
	ok    bool
}

func (s *stubPrices) CurrentPrice() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.ok
}

func (s *stubPrices) set(p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price, s.ok = p, true
}

type failingJournal struct{}

func (failingJournal) Append(domain.Transaction) error      { return errors.New("disk full") }
func (failingJournal) All() ([]domain.Transaction, error) { return nil, nil }

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newLedger(t *testing.T, prices *stubPrices, opts ...Option) *Ledger {
	t.Helper()
	l, err := New(btcUSDT, prices, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	return l
}

func TestLedger_InitialBalance(t *testing.T) {
	l := newLedger(t, &stubPrices{})

	p := l.Portfolio()
	assert.Equal(t, "BTC_USDT", p.Pair)
	assert.True(t, p.QuoteBalance.Equal(dec("10000")))
	assert.True(t, p.BaseBalance.IsZero())
	assert.Empty(t, p.Transactions)

	custom := newLedger(t, &stubPrices{}, WithInitialBalance(dec("250")))
	assert.True(t, custom.Balance("USDT").Equal(dec("250")))
}

func TestLedger_BuyAndSell(t *testing.T) {
	prices := &stubPrices{}
	prices.set(25000)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(t, prices, WithClock(func() time.Time { return at }))

	buy, err := l.Buy(context.Background(), dec("1000"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionBuy, buy.Type)
	assert.True(t, buy.BaseAmount.Equal(dec("0.04")))
	assert.True(t, buy.QuoteAmount.Equal(dec("1000")))
	assert.True(t, buy.PriceAtExecution.Equal(dec("25000")))
	assert.Equal(t, at, buy.Timestamp)
	assert.NotEmpty(t, buy.ID)

	prices.set(30000)
	sell, err := l.Sell(context.Background(), dec("0.01"))
	require.NoError(t, err)
	assert.True(t, sell.QuoteAmount.Equal(dec("300")))

	p := l.Portfolio()
	assert.True(t, p.BaseBalance.Equal(dec("0.03")))
	assert.True(t, p.QuoteBalance.Equal(dec("9300")))
	require.Len(t, p.Transactions, 2)
	assert.Equal(t, sell.ID, p.Transactions[0].ID, "newest first")
	assert.Equal(t, buy.ID, p.Transactions[1].ID)
}

func TestLedger_Execute(t *testing.T) {
	prices := &stubPrices{}
	prices.set(20000)
	l := newLedger(t, prices)

	tx, err := l.Execute(context.Background(), domain.TransactionBuy, dec("100"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionBuy, tx.Type)

	tx, err = l.Execute(context.Background(), domain.TransactionSell, dec("0.001"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionSell, tx.Type)

	_, err = l.Execute(context.Background(), domain.TransactionType("HOLD"), dec("1"))
	assert.Error(t, err)
}

func TestLedger_Rejections(t *testing.T) {
	prices := &stubPrices{}
	l := newLedger(t, prices)

	t.Run("no price yet", func(t *testing.T) {
		_, err := l.Buy(context.Background(), dec("10"))
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	})

	prices.set(30000)

	tests := []struct {
		name   string
		run    func() error
		target error
	}{
		{"zero buy", func() error { _, err := l.Buy(context.Background(), decimal.Zero); return err }, ErrInvalidAmount},
		{"negative sell", func() error { _, err := l.Sell(context.Background(), dec("-1")); return err }, ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.target)
		})
	}

	t.Run("insufficient quote", func(t *testing.T) {
		_, err := l.Buy(context.Background(), dec("10000.01"))
		require.Error(t, err)
		assert.True(t, IsInsufficientFunds(err))

		var funds *InsufficientFundsError
		require.True(t, errors.As(err, &funds))
		assert.Equal(t, "USDT", funds.Currency)
		assert.True(t, funds.Have.Equal(dec("10000")))
	})

	t.Run("insufficient base", func(t *testing.T) {
		_, err := l.Sell(context.Background(), dec("0.5"))
		assert.True(t, IsInsufficientFunds(err))
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := l.Buy(ctx, dec("1"))
		assert.ErrorIs(t, err, context.Canceled)
	})

	assert.Empty(t, l.Portfolio().Transactions, "rejected trades leave no record")
	assert.True(t, l.Balance("USDT").Equal(dec("10000")))
}

func TestLedger_SpendEntireBalance(t *testing.T) {
	prices := &stubPrices{}
	prices.set(40000)
	l := newLedger(t, prices, WithInitialBalance(dec("400")))

	_, err := l.Buy(context.Background(), dec("400"))
	require.NoError(t, err)
	assert.True(t, l.Balance("USDT").IsZero())

	_, err = l.Sell(context.Background(), l.Balance("BTC"))
	require.NoError(t, err)
	assert.True(t, l.Balance("BTC").IsZero())
	assert.True(t, l.Balance("USDT").Equal(dec("400")))
}

func TestLedger_RestoresFromStores(t *testing.T) {
	dir := t.TempDir()
	prices := &stubPrices{}
	prices.set(50000)

	open := func() (*Ledger, *transactions.WALStore) {
		store, err := portfolio.NewStore(dir, btcUSDT)
		require.NoError(t, err)
		journal, err := transactions.NewWALStore(filepath.Join(dir, "transactions"))
		require.NoError(t, err)
		return newLedger(t, prices, WithStore(store), WithJournal(journal)), journal
	}

	l, journal := open()
	_, err := l.Buy(context.Background(), dec("500"))
	require.NoError(t, err)
	_, err = l.Sell(context.Background(), dec("0.002"))
	require.NoError(t, err)
	want := l.Portfolio()
	require.NoError(t, journal.Close())

	restored, journal := open()
	defer journal.Close()

	got := restored.Portfolio()
	assert.True(t, want.BaseBalance.Equal(got.BaseBalance))
	assert.True(t, want.QuoteBalance.Equal(got.QuoteBalance))
	require.Len(t, got.Transactions, 2)
	assert.Equal(t, want.Transactions[0].ID, got.Transactions[0].ID)
	assert.Equal(t, domain.TransactionSell, got.Transactions[0].Type)
}

func TestLedger_PersistFailureKeepsTrade(t *testing.T) {
	prices := &stubPrices{}
	prices.set(30000)
	l := newLedger(t, prices, WithJournal(failingJournal{}))

	_, err := l.Buy(context.Background(), dec("30"))
	require.NoError(t, err)
	assert.Len(t, l.Portfolio().Transactions, 1)
}

func TestLedger_ConcurrentTradesNeverOverdraw(t *testing.T) {
	prices := &stubPrices{}
	prices.set(10000)
	l := newLedger(t, prices, WithInitialBalance(dec("1000")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Buy(context.Background(), dec("100"))
		}()
	}
	wg.Wait()

	assert.True(t, l.Balance("USDT").IsZero())
	assert.Len(t, l.Portfolio().Transactions, 10)
}

func TestNew_RequiresPriceSource(t *testing.T) {
	_, err := New(btcUSDT, nil)
	assert.Error(t, err)
}
