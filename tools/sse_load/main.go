// Command sse_load opens many concurrent subscriptions to the market stream and reports
// how many snapshot frames arrive and how stale they are on arrival.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type options struct {
	url      string
	conns    int
	duration time.Duration
	ramp     time.Duration
}

// counters are shared by all subscribers.
type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	frames      atomic.Int64
	badFrames   atomic.Int64
	lagNanos    atomic.Int64
	lagSamples  atomic.Int64
}

// frame is the subset of the market view the tool inspects.
type frame struct {
	Market struct {
		UpdatedAt  time.Time `json:"updatedAt"`
		Generation uint64    `json:"generation"`
	} `json:"market"`
}

func main() {
	var opts options
	flag.StringVar(&opts.url, "url", "http://localhost:8080/api/market/stream", "market stream URL")
	flag.IntVar(&opts.conns, "conns", 200, "number of concurrent subscribers")
	flag.DurationVar(&opts.duration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&opts.ramp, "ramp", 0, "spread subscriber starts across this window")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if opts.conns <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", opts.conns))
	}
	if opts.ramp == 0 && opts.conns > 100 {
		opts.ramp = max(time.Duration(opts.conns/500)*time.Second, time.Second)
		logger.Info("using default ramp-up", zap.Duration("ramp", opts.ramp))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var cancel context.CancelFunc
	if opts.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	logger.Info("starting market stream load",
		zap.String("url", opts.url),
		zap.Int("conns", opts.conns),
		zap.Duration("duration", opts.duration),
		zap.Duration("ramp", opts.ramp))

	start := time.Now()
	var c counters
	client := newClient(opts.conns)

	reportDone := make(chan struct{})
	go report(ctx, logger, &c, start, reportDone)

	var interval time.Duration
	if opts.ramp > 0 {
		interval = opts.ramp / time.Duration(opts.conns)
	}

	g := errgroup.Group{}
	g.SetLimit(opts.conns)
	for i := 0; i < opts.conns && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, opts.url, &c)
			return nil
		})
	}
	_ = g.Wait()
	cancel()
	<-reportDone

	elapsed := max(time.Since(start), time.Millisecond)
	frames := c.frames.Load()
	var avgLag time.Duration
	if n := c.lagSamples.Load(); n > 0 {
		avgLag = time.Duration(c.lagNanos.Load() / n)
	}

	fmt.Printf("done: connected=%d connect_errs=%d stream_errs=%d frames=%d bad_frames=%d avg_lag=%s elapsed=%s frames/s=%.2f\n",
		c.connected.Load(),
		c.connectErrs.Load(),
		c.streamErrs.Load(),
		frames,
		c.badFrames.Load(),
		avgLag,
		elapsed.Truncate(time.Millisecond),
		float64(frames)/elapsed.Seconds(),
	)
}

func newClient(conns int) *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     conns + 100,
		MaxIdleConns:        conns + 100,
		MaxIdleConnsPerHost: conns + 100,
		DisableCompression:  true,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	// no client timeout, the stream stays open
	return &http.Client{Transport: transport}
}

func subscribe(ctx context.Context, client *http.Client, url string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	event := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "market":
			c.frames.Add(1)
			var f frame
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f); err != nil {
				c.badFrames.Add(1)
				continue
			}
			if !f.Market.UpdatedAt.IsZero() {
				c.lagNanos.Add(int64(time.Since(f.Market.UpdatedAt)))
				c.lagSamples.Add(1)
			}
		case line == "":
			event = ""
		}
	}
	if ctx.Err() == nil {
		c.streamErrs.Add(1)
	}
}

func report(ctx context.Context, logger *zap.Logger, c *counters, start time.Time, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("connected", c.connected.Load()),
				zap.Int64("connect_errs", c.connectErrs.Load()),
				zap.Int64("stream_errs", c.streamErrs.Load()),
				zap.Int64("frames", c.frames.Load()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
