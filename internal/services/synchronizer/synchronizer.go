// Package synchronizer keeps the canonical price series and the polled price of a
// session consistent while several fetch cadences and range switches race.
//
// All state is mutated by the goroutine running Run. Fetches run in their own
// goroutines and post results back to that loop, so every merge is evaluated against
// the latest committed series.
package synchronizer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotsim/internal/domain"
	"github.com/vadiminshakov/spotsim/internal/services/marketdata"
	"github.com/vadiminshakov/spotsim/pkg/retrier"
)

const (
	defaultPollInterval        = 2 * time.Second
	defaultLiveRefreshInterval = 30 * time.Second
	defaultFetchTimeout        = 10 * time.Second

	msgSeriesFailed = "failed to fetch historical price data"
	msgPriceFailed  = "failed to fetch current price"
)

// ErrAlreadyRunning is returned by Run when the loop is already active.
var ErrAlreadyRunning = errors.New("synchronizer is already running")

type marketData interface {
	FetchScalarPrice(ctx context.Context) (float64, error)
	FetchSeries(ctx context.Context, r domain.Range) ([]domain.PricePoint, error)
	FetchDailyOpen(ctx context.Context) (float64, error)
}

type publisher interface {
	Publish(snapshot domain.MarketSnapshot)
}

type resultKind int

const (
	kindPrice resultKind = iota
	kindSeries
	kindRefresh
	kindDailyOpen
)

type fetchResult struct {
	kind   resultKind
	seq    uint64
	rng    domain.Range
	price  float64
	points []domain.PricePoint
	err    error
	// initial marks the first series fetch of the session.
	initial bool
}

type errorSource int

const (
	errorNone errorSource = iota
	errorPrice
	errorSeries
)

// session is the committed state. Only the loop writes it, always under mu.
type session struct {
	currentPrice  *float64
	openPrice     *float64
	change        *float64
	changePercent *float64
	series        []domain.PricePoint
	seriesRange   domain.Range
	activeRange   domain.Range
	phase         domain.Phase
	loading       bool
	err           string
	errSource     errorSource
	generation    uint64
	updatedAt     time.Time
}

// Synchronizer owns the series of one session.
type Synchronizer struct {
	client           marketData
	logger           *zap.Logger
	now              func() time.Time
	pollInterval     time.Duration
	refreshInterval  time.Duration
	fetchTimeout     time.Duration
	defaultRange     domain.Range
	publisher        publisher
	dailyOpenRetrier *retrier.Retrier

	rangeRequests chan domain.Range
	results       chan fetchResult
	running       atomic.Bool

	// loop-owned
	seq             uint64
	poll            *time.Ticker
	refresh         *time.Ticker
	pollInFlight    bool
	refreshInFlight bool

	mu    sync.RWMutex
	state session
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPollInterval sets the price poll period.
func WithPollInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithLiveRefreshInterval sets the trade refresh period of the live range.
func WithLiveRefreshInterval(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.refreshInterval = d
		}
	}
}

// WithFetchTimeout bounds every single fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.fetchTimeout = d
		}
	}
}

// WithDefaultRange sets the range loaded on session start.
func WithDefaultRange(r domain.Range) Option {
	return func(s *Synchronizer) {
		if r.IsValid() {
			s.defaultRange = r
		}
	}
}

// WithClock overrides the time source used for live ticks.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPublisher receives a snapshot after every committed change.
func WithPublisher(p publisher) Option {
	return func(s *Synchronizer) {
		s.publisher = p
	}
}

// WithDailyOpenRetrier sets the backoff used for the daily open reference.
func WithDailyOpenRetrier(r *retrier.Retrier) Option {
	return func(s *Synchronizer) {
		if r != nil {
			s.dailyOpenRetrier = r
		}
	}
}

// New creates a Synchronizer in the idle phase.
func New(client marketData, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		client:          client,
		logger:          zap.NewNop(),
		now:             time.Now,
		pollInterval:    defaultPollInterval,
		refreshInterval: defaultLiveRefreshInterval,
		fetchTimeout:    defaultFetchTimeout,
		defaultRange:    domain.DefaultRange,
		rangeRequests:   make(chan domain.Range),
		results:         make(chan fetchResult, 8),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dailyOpenRetrier == nil {
		s.dailyOpenRetrier = retrier.New(
			retrier.WithRetryIf(marketdata.IsNetworkError),
			retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
				s.logger.Warn("daily open fetch failed, retrying",
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}),
		)
	}
	s.state = session{activeRange: s.defaultRange, phase: domain.PhaseIdle}
	return s
}

// Snapshot returns the current read-only view.
func (s *Synchronizer) Snapshot() domain.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// CurrentPrice returns the latest polled price. ok is false until the first successful poll.
func (s *Synchronizer) CurrentPrice() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.currentPrice == nil {
		return 0, false
	}
	return *s.state.currentPrice, true
}

// SetRange asks the loop to switch to r. It blocks until the loop accepts the request
// or ctx is done; the fetch itself completes asynchronously.
func (s *Synchronizer) SetRange(ctx context.Context, r domain.Range) error {
	if !r.IsValid() {
		return errors.Wrapf(domain.ErrUnknownRange, "%q", string(r))
	}

	select {
	case s.rangeRequests <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run loads the session and keeps it synchronized until ctx is done.
// The first price and series are fetched in the background, so range switches are
// accepted while the session is still loading. Every ticker is stopped before Run returns.
func (s *Synchronizer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)
	defer s.stopRefresh()
	defer s.stopPoll()

	s.logger.Info("starting session",
		zap.String("range", s.defaultRange.String()),
		zap.Duration("poll_interval", s.pollInterval),
		zap.Duration("live_refresh_interval", s.refreshInterval))

	s.seq++
	s.commit(func(st *session) {
		st.activeRange = s.defaultRange
		st.phase = domain.PhaseLoading
		st.loading = true
	})
	go s.bootstrap(ctx, s.seq, s.defaultRange)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context done, stopping session")
			return ctx.Err()
		case <-s.pollC():
			if s.pollInFlight {
				s.logger.Debug("previous price poll still in flight, skipping tick")
				continue
			}
			s.pollInFlight = true
			s.spawn(ctx, kindPrice, 0, "")
		case <-s.refreshC():
			if s.refreshInFlight {
				continue
			}
			s.refreshInFlight = true
			s.spawn(ctx, kindRefresh, s.seq, domain.RangeLive)
		case r := <-s.rangeRequests:
			s.switchRange(ctx, r)
		case res := <-s.results:
			s.apply(ctx, res)
		}
	}
}

// bootstrap fetches the price, then the series of r. A range switch that lands
// meanwhile supersedes the series through seq.
func (s *Synchronizer) bootstrap(ctx context.Context, seq uint64, r domain.Range) {
	if !s.post(ctx, s.fetch(ctx, kindPrice, 0, "")) {
		return
	}
	res := s.fetch(ctx, kindSeries, seq, r)
	res.initial = true
	s.post(ctx, res)
}

// started runs on the loop once the first series fetch returned, whatever its outcome.
func (s *Synchronizer) started(ctx context.Context) {
	s.poll = time.NewTicker(s.pollInterval)
	if s.state.activeRange.IsLive() && s.refresh == nil {
		s.startRefresh()
	}
	go s.loadDailyOpen(ctx)
}

func (s *Synchronizer) switchRange(ctx context.Context, r domain.Range) {
	if r == s.state.activeRange && s.state.phase != domain.PhaseError {
		s.logger.Debug("range already active", zap.String("range", r.String()))
		return
	}

	s.stopRefresh()
	s.seq++
	s.commit(func(st *session) {
		st.activeRange = r
		st.phase = domain.PhaseLoading
		st.loading = true
		st.err = ""
		st.errSource = errorNone
	})
	s.logger.Info("switching range", zap.String("range", r.String()))

	s.spawn(ctx, kindSeries, s.seq, r)
	if r.IsLive() {
		s.startRefresh()
	}
}

func (s *Synchronizer) apply(ctx context.Context, res fetchResult) {
	switch res.kind {
	case kindPrice:
		s.pollInFlight = false
		s.applyPrice(res)
	case kindSeries:
		s.applySeries(res)
		if res.initial {
			s.started(ctx)
		}
	case kindRefresh:
		s.refreshInFlight = false
		s.applyRefresh(res)
	case kindDailyOpen:
		s.applyDailyOpen(res)
	}
}

func (s *Synchronizer) applyPrice(res fetchResult) {
	if res.err != nil {
		if len(s.state.series) > 0 {
			s.logger.Debug("price poll failed, keeping last price", zap.Error(res.err))
			return
		}
		s.logger.Warn("price poll failed without series data", zap.Error(res.err))
		if s.state.errSource == errorSeries {
			return
		}
		s.commit(func(st *session) {
			st.err = errors.Wrap(res.err, msgPriceFailed).Error()
			st.errSource = errorPrice
		})
		return
	}

	price := res.price
	s.commit(func(st *session) {
		st.currentPrice = &price
		if st.errSource == errorPrice {
			st.err = ""
			st.errSource = errorNone
		}
		st.change, st.changePercent = DeriveChange(st.currentPrice, st.openPrice)
		if st.activeRange.IsLive() && st.seriesRange.IsLive() && len(st.series) > 0 {
			st.series = MergeLiveTick(st.series, price, s.now())
		}
	})
}

func (s *Synchronizer) applySeries(res fetchResult) {
	if res.seq != s.seq {
		s.logger.Debug("discarding superseded series", zap.String("range", res.rng.String()))
		return
	}

	if res.err != nil {
		s.logger.Warn("series fetch failed", zap.String("range", res.rng.String()), zap.Error(res.err))
		s.commit(func(st *session) {
			st.phase = domain.PhaseError
			st.loading = false
			st.err = errors.Wrap(res.err, msgSeriesFailed).Error()
			st.errSource = errorSeries
		})
		return
	}

	s.commit(func(st *session) {
		st.series = res.points
		st.seriesRange = res.rng
		st.generation++
		st.phase = domain.PhaseReady
		st.loading = false
		st.err = ""
		st.errSource = errorNone
	})
	if n := len(res.points); n > 0 {
		s.logger.Debug("series loaded",
			zap.String("range", res.rng.String()),
			zap.Int("points", n),
			zap.Time("from", res.points[0].Time()),
			zap.Time("to", res.points[n-1].Time()))
	}
}

func (s *Synchronizer) applyRefresh(res fetchResult) {
	if res.seq != s.seq || !s.state.activeRange.IsLive() {
		s.logger.Debug("discarding refresh for inactive range")
		return
	}
	if res.err != nil {
		s.logger.Warn("live trades refresh failed", zap.Error(res.err))
		return
	}

	s.commit(func(st *session) {
		prev := st.series
		if !st.seriesRange.IsLive() {
			prev = nil
		}
		st.series = CarryLiveTick(prev, res.points)
		st.seriesRange = domain.RangeLive
		st.generation++
		if st.errSource == errorSeries {
			st.err = ""
			st.errSource = errorNone
		}
		st.phase = domain.PhaseReady
		st.loading = false
	})
}

func (s *Synchronizer) applyDailyOpen(res fetchResult) {
	if res.err != nil {
		s.logger.Warn("failed to fetch 24h open price", zap.Error(res.err))
		return
	}

	open := res.price
	s.commit(func(st *session) {
		st.openPrice = &open
		st.change, st.changePercent = DeriveChange(st.currentPrice, st.openPrice)
	})
}

func (s *Synchronizer) loadDailyOpen(ctx context.Context) {
	open, err := retrier.DoWithData(s.dailyOpenRetrier, ctx, func(ctx context.Context) (float64, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
		defer cancel()
		return s.client.FetchDailyOpen(fetchCtx)
	})

	s.post(ctx, fetchResult{kind: kindDailyOpen, price: open, err: err})
}

// fetch performs one bounded fetch on the calling goroutine.
func (s *Synchronizer) fetch(ctx context.Context, kind resultKind, seq uint64, r domain.Range) fetchResult {
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	res := fetchResult{kind: kind, seq: seq, rng: r}
	switch kind {
	case kindPrice:
		res.price, res.err = s.client.FetchScalarPrice(fetchCtx)
	case kindSeries, kindRefresh:
		res.points, res.err = s.client.FetchSeries(fetchCtx, r)
	}
	return res
}

// spawn runs fetch in the background and hands the result to the loop.
func (s *Synchronizer) spawn(ctx context.Context, kind resultKind, seq uint64, r domain.Range) {
	go func() {
		s.post(ctx, s.fetch(ctx, kind, seq, r))
	}()
}

// post hands res to the loop. It reports false once ctx is done.
func (s *Synchronizer) post(ctx context.Context, res fetchResult) bool {
	select {
	case s.results <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Synchronizer) startRefresh() {
	s.stopRefresh()
	s.refresh = time.NewTicker(s.refreshInterval)
}

func (s *Synchronizer) stopRefresh() {
	if s.refresh != nil {
		s.refresh.Stop()
		s.refresh = nil
	}
}

func (s *Synchronizer) stopPoll() {
	if s.poll != nil {
		s.poll.Stop()
		s.poll = nil
	}
}

// pollC returns nil until the session has started polling.
func (s *Synchronizer) pollC() <-chan time.Time {
	if s.poll == nil {
		return nil
	}
	return s.poll.C
}

// refreshC returns nil when no refresh ticker runs; a nil channel blocks forever in select.
func (s *Synchronizer) refreshC() <-chan time.Time {
	if s.refresh == nil {
		return nil
	}
	return s.refresh.C
}

func (s *Synchronizer) commit(fn func(st *session)) {
	s.mu.Lock()
	fn(&s.state)
	s.state.updatedAt = s.now()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if s.publisher != nil {
		s.publisher.Publish(snapshot)
	}
}

func (s *Synchronizer) snapshotLocked() domain.MarketSnapshot {
	st := s.state
	series := st.series
	if series == nil {
		series = []domain.PricePoint{}
	}
	return domain.MarketSnapshot{
		CurrentPrice:          copyFloat(st.currentPrice),
		Series:                series,
		ActiveRange:           st.activeRange,
		SeriesRange:           st.seriesRange,
		Phase:                 st.phase,
		Loading:               st.loading,
		Error:                 st.err,
		OpenPrice24h:          copyFloat(st.openPrice),
		PriceChange24h:        copyFloat(st.change),
		PriceChangePercent24h: copyFloat(st.changePercent),
		Generation:            st.generation,
		UpdatedAt:             st.updatedAt,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
