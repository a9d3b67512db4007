// Package ledger executes simulated spot trades against a virtual wallet, priced at the
// latest polled market price.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotsim/internal/domain"
	"github.com/vadiminshakov/spotsim/internal/storage/portfolio"
)

var defaultInitialBalance = decimal.NewFromInt(10000)

var (
	// ErrInvalidAmount is returned for zero or negative trade amounts.
	ErrInvalidAmount = errors.New("trade amount must be positive")
	// ErrPriceUnavailable is returned before the first successful price poll.
	ErrPriceUnavailable = errors.New("current price is not available yet")
)

// InsufficientFundsError reports a trade exceeding the available balance.
type InsufficientFundsError struct {
	Currency string
	Have     decimal.Decimal
	Need     decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s, need %s", e.Currency, e.Have.String(), e.Need.String())
}

// IsInsufficientFunds reports whether err is an InsufficientFundsError.
func IsInsufficientFunds(err error) bool {
	var target *InsufficientFundsError
	return errors.As(err, &target)
}

type priceSource interface {
	CurrentPrice() (float64, bool)
}

type stateStore interface {
	Load() (*portfolio.State, error)
	Save(state portfolio.State) error
}

type journal interface {
	Append(tx domain.Transaction) error
	All() ([]domain.Transaction, error)
}

// Ledger is the simulated account of one pair.
type Ledger struct {
	mu             sync.RWMutex
	pair           domain.Pair
	logger         *zap.Logger
	prices         priceSource
	store          stateStore
	journal        journal
	now            func() time.Time
	initialBalance decimal.Decimal

	wallet map[string]decimal.Decimal
	// oldest first
	txs []domain.Transaction
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithStore persists the wallet after every trade.
func WithStore(store stateStore) Option {
	return func(l *Ledger) {
		l.store = store
	}
}

// WithJournal appends every trade to j and replays it on start.
func WithJournal(j journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// WithInitialBalance sets the quote balance of a fresh account.
func WithInitialBalance(amount decimal.Decimal) Option {
	return func(l *Ledger) {
		if amount.IsPositive() {
			l.initialBalance = amount
		}
	}
}

// WithClock overrides the time source of transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New creates a ledger and restores persisted balances and history, if any.
func New(pair domain.Pair, prices priceSource, opts ...Option) (*Ledger, error) {
	if prices == nil {
		return nil, errors.New("price source is required for ledger")
	}

	l := &Ledger{
		pair:           pair,
		logger:         zap.NewNop(),
		prices:         prices,
		now:            time.Now,
		initialBalance: defaultInitialBalance,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wallet = map[string]decimal.Decimal{pair.From: decimal.Zero, pair.To: l.initialBalance}
	if err := l.restore(); err != nil {
		return nil, errors.Wrap(err, "restore ledger")
	}

	l.logger.Info("ledger init",
		zap.String("pair", pair.String()),
		zap.String("base", l.wallet[pair.From].String()),
		zap.String("quote", l.wallet[pair.To].String()),
		zap.Int("transactions", len(l.txs)))
	return l, nil
}

// Execute dispatches a trade by type. BUY amounts are quote currency, SELL amounts base currency.
func (l *Ledger) Execute(ctx context.Context, kind domain.TransactionType, amount decimal.Decimal) (domain.Transaction, error) {
	switch kind {
	case domain.TransactionBuy:
		return l.Buy(ctx, amount)
	case domain.TransactionSell:
		return l.Sell(ctx, amount)
	default:
		return domain.Transaction{}, errors.Errorf("unknown transaction type %q", kind)
	}
}

// Buy spends quote currency on the base asset at the current price.
func (l *Ledger) Buy(ctx context.Context, quote decimal.Decimal) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	if !quote.IsPositive() {
		return domain.Transaction{}, errors.Wrapf(ErrInvalidAmount, "buy %s", quote.String())
	}
	price, err := l.price()
	if err != nil {
		return domain.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.wallet[l.pair.To]
	if have.LessThan(quote) {
		return domain.Transaction{}, &InsufficientFundsError{Currency: l.pair.To, Have: have, Need: quote}
	}

	base := quote.Div(price)
	l.wallet[l.pair.To] = have.Sub(quote)
	l.wallet[l.pair.From] = l.wallet[l.pair.From].Add(base)

	return l.record(domain.TransactionBuy, base, quote, price), nil
}

// Sell sells base currency for quote currency at the current price.
func (l *Ledger) Sell(ctx context.Context, base decimal.Decimal) (domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return domain.Transaction{}, err
	}
	if !base.IsPositive() {
		return domain.Transaction{}, errors.Wrapf(ErrInvalidAmount, "sell %s", base.String())
	}
	price, err := l.price()
	if err != nil {
		return domain.Transaction{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	have := l.wallet[l.pair.From]
	if have.LessThan(base) {
		return domain.Transaction{}, &InsufficientFundsError{Currency: l.pair.From, Have: have, Need: base}
	}

	quote := base.Mul(price)
	l.wallet[l.pair.From] = have.Sub(base)
	l.wallet[l.pair.To] = l.wallet[l.pair.To].Add(quote)

	return l.record(domain.TransactionSell, base, quote, price), nil
}

// Balance returns the balance of currency.
func (l *Ledger) Balance(currency string) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.wallet[currency]
}

// Portfolio returns balances and the trade history, newest first.
func (l *Ledger) Portfolio() domain.Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()

	txs := make([]domain.Transaction, len(l.txs))
	for i, tx := range l.txs {
		txs[len(l.txs)-1-i] = tx
	}
	return domain.Portfolio{
		Pair:         l.pair.String(),
		BaseBalance:  l.wallet[l.pair.From],
		QuoteBalance: l.wallet[l.pair.To],
		Transactions: txs,
	}
}

func (l *Ledger) price() (decimal.Decimal, error) {
	p, ok := l.prices.CurrentPrice()
	if !ok || p <= 0 {
		return decimal.Zero, ErrPriceUnavailable
	}
	return decimal.NewFromFloat(p), nil
}

// record must be called with mu held.
func (l *Ledger) record(kind domain.TransactionType, base, quote, price decimal.Decimal) domain.Transaction {
	tx := domain.Transaction{
		ID:               uuid.NewString(),
		Type:             kind,
		Timestamp:        l.now().UTC(),
		BaseAmount:       base,
		QuoteAmount:      quote,
		PriceAtExecution: price,
	}
	l.txs = append(l.txs, tx)

	l.logger.Info("trade executed",
		zap.String("id", tx.ID),
		zap.String("type", string(kind)),
		zap.String("base", base.String()),
		zap.String("quote", quote.String()),
		zap.String("price", price.String()))
	l.persist(tx)
	return tx
}

func (l *Ledger) persist(tx domain.Transaction) {
	if l.journal != nil {
		if err := l.journal.Append(tx); err != nil {
			l.logger.Warn("failed to journal transaction", zap.String("id", tx.ID), zap.Error(err))
		}
	}
	if l.store != nil {
		if err := l.store.Save(portfolio.NewState(l.pair, l.wallet)); err != nil {
			l.logger.Warn("failed to persist portfolio state", zap.Error(err))
		}
	}
}

func (l *Ledger) restore() error {
	if l.store != nil {
		state, err := l.store.Load()
		if err != nil {
			return err
		}
		if state != nil {
			balances, err := state.Balances()
			if err != nil {
				return err
			}
			for currency, amount := range balances {
				l.wallet[currency] = amount
			}
		}
	}

	if l.journal != nil {
		txs, err := l.journal.All()
		if err != nil {
			return err
		}
		l.txs = txs
	}
	return nil
}
