// Command spotsim runs a paper-trading simulator for one spot pair: it keeps a live
// price chart synchronized with the exchange and lets the user trade a virtual balance.
//
// Usage:
//
//	spotsim --config config.yaml
//	spotsim --setup   (interactive wizard, writes config.gen.yaml)
//	spotsim           (built-in defaults)
//
// SPOTSIM_BASE_URL, SPOTSIM_HTTP_ADDR, SPOTSIM_DATA_DIR and SPOTSIM_PAIR override the
// config file, also when set in a .env file.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/spotsim/config"
	"github.com/vadiminshakov/spotsim/internal/clients"
	"github.com/vadiminshakov/spotsim/internal/events"
	"github.com/vadiminshakov/spotsim/internal/services/ledger"
	"github.com/vadiminshakov/spotsim/internal/services/marketdata"
	"github.com/vadiminshakov/spotsim/internal/services/synchronizer"
	"github.com/vadiminshakov/spotsim/internal/services/window"
	"github.com/vadiminshakov/spotsim/internal/setup"
	"github.com/vadiminshakov/spotsim/internal/storage/portfolio"
	"github.com/vadiminshakov/spotsim/internal/storage/transactions"
	"github.com/vadiminshakov/spotsim/internal/web"
	"github.com/vadiminshakov/spotsim/pkg/retrier"
)

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		path, err := setup.RunTUI()
		if err != nil {
			log.Fatal(err)
		}
		flags.ConfigPath = path
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(flags.Debug)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("spotsim stopped with error", zap.Error(err))
	}
	logger.Info("spotsim stopped")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	api := clients.NewPublicBinanceClient(cfg.BaseURL, cfg.RequestTimeout)
	market := marketdata.NewClient(api, cfg.Pair)

	stream := events.NewMarketBroadcaster(64)
	syncLogger := logger.Named("synchronizer")
	syncer := synchronizer.New(market,
		synchronizer.WithLogger(syncLogger),
		synchronizer.WithPollInterval(cfg.PollPriceInterval),
		synchronizer.WithLiveRefreshInterval(cfg.LiveRefreshInterval),
		synchronizer.WithFetchTimeout(cfg.RequestTimeout),
		synchronizer.WithDefaultRange(cfg.DefaultRange),
		synchronizer.WithPublisher(stream),
		synchronizer.WithDailyOpenRetrier(retrier.New(
			retrier.WithMaxRetries(cfg.DailyOpenRetries),
			retrier.WithRetryIf(marketdata.IsNetworkError),
			retrier.WithOnRetry(func(attempt int, wait time.Duration, err error) {
				syncLogger.Warn("daily open fetch failed, retrying",
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}),
		)),
	)

	store, err := portfolio.NewStore(cfg.DataDir, cfg.Pair)
	if err != nil {
		return err
	}
	journal, err := transactions.NewWALStore(filepath.Join(cfg.DataDir, "transactions"))
	if err != nil {
		return err
	}
	defer func() {
		if err := journal.Close(); err != nil {
			logger.Warn("failed to close transaction journal", zap.Error(err))
		}
	}()

	book, err := ledger.New(cfg.Pair, syncer,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithStore(store),
		ledger.WithJournal(journal),
		ledger.WithInitialBalance(cfg.InitialBalance),
	)
	if err != nil {
		return err
	}

	server := web.NewServer(cfg.HTTPAddr, syncer, window.NewController(), book, stream, logger.Named("web"))

	logger.Info("starting spotsim",
		zap.String("pair", cfg.Pair.String()),
		zap.String("base_url", cfg.BaseURL),
		zap.String("addr", cfg.HTTPAddr))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return syncer.Run(gctx)
	})
	g.Go(func() error {
		return server.Start(gctx)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
