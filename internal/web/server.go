package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/spotsim/internal/domain"
	"github.com/vadiminshakov/spotsim/internal/services/ledger"
	"github.com/vadiminshakov/spotsim/internal/services/window"
)

const (
	heartbeatInterval = 30 * time.Second
	rangeAcceptWait   = 5 * time.Second
	maxBodyBytes      = 1 << 16
)

type market interface {
	Snapshot() domain.MarketSnapshot
	SetRange(ctx context.Context, r domain.Range) error
}

type trader interface {
	Execute(ctx context.Context, kind domain.TransactionType, amount decimal.Decimal) (domain.Transaction, error)
	Portfolio() domain.Portfolio
}

type snapshotStream interface {
	Subscribe() chan domain.MarketSnapshot
	Unsubscribe(ch chan domain.MarketSnapshot)
}

// Server exposes the chart, trade and portfolio endpoints plus an SSE stream of market snapshots.
type Server struct {
	Addr    string
	Market  market
	Window  *window.Controller
	Ledger  trader
	Stream  snapshotStream
	logger  *zap.Logger
	handler http.Handler
}

// NewServer creates a new web server instance.
func NewServer(addr string, m market, w *window.Controller, l trader, stream snapshotStream, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if w == nil {
		w = window.NewController()
	}
	s := &Server{Addr: addr, Market: m, Window: w, Ledger: l, Stream: stream, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /api/ranges", s.handleRanges)
	mux.HandleFunc("GET /api/market", s.handleMarket)
	mux.HandleFunc("GET /api/market/stream", s.handleMarketStream)
	mux.HandleFunc("POST /api/range", s.handleSetRange)
	mux.HandleFunc("POST /api/window/brush", s.handleBrush)
	mux.HandleFunc("POST /api/window/reset", s.handleReset)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("POST /api/trades", s.handleTrade)
	s.handler = mux

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// marketView is the chart state: the series plus the window to draw it with.
type marketView struct {
	Market domain.MarketSnapshot `json:"market"`
	Window window.Window         `json:"window"`
	// Extent is Window with sentinels resolved against the series.
	Extent window.Window `json:"extent"`
	Zoomed bool          `json:"zoomed"`
}

type rangeView struct {
	Range    domain.Range `json:"range"`
	Label    string       `json:"label"`
	StepLine bool         `json:"stepLine"`
	// BarSeconds is the bar size, zero for the live range.
	BarSeconds int64 `json:"barSeconds,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) view(snap domain.MarketSnapshot) marketView {
	w := s.Window.Observe(snap.Generation)
	return marketView{
		Market: snap,
		Window: w,
		Extent: window.Resolve(w, snap.Series),
		Zoomed: !w.IsFull(),
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleRanges(w http.ResponseWriter, r *http.Request) {
	ranges := domain.Ranges()
	views := make([]rangeView, 0, len(ranges))
	for _, rg := range ranges {
		view := rangeView{Range: rg, Label: rg.Label(), StepLine: rg.StepLine()}
		if res, ok := rg.Resolution(); ok {
			view.BarSeconds = int64(res.Bar / time.Second)
		}
		views = append(views, view)
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.view(s.Market.Snapshot()))
}

func (s *Server) handleMarketStream(w http.ResponseWriter, r *http.Request) {
	if s.Stream == nil {
		s.writeError(w, http.StatusServiceUnavailable, "market stream not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	updates := s.Stream.Subscribe()
	defer s.Stream.Unsubscribe(updates)

	// send a comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	send := func(snap domain.MarketSnapshot) error {
		payload, err := json.Marshal(s.view(snap))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "event: market\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return nil
	}

	if err := send(s.Market.Snapshot()); err != nil {
		s.logger.Error("market stream initial snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case snap, open := <-updates:
			if !open {
				return
			}
			if err := send(snap); err != nil {
				s.logger.Warn("market stream send", zap.Error(err))
			}
		}
	}
}

func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Range string `json:"range"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	rg, err := domain.ParseRange(req.Range)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), rangeAcceptWait)
	defer cancel()
	if err := s.Market.SetRange(ctx, rg); err != nil {
		s.logger.Warn("range switch not accepted", zap.String("range", rg.String()), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "range switch not accepted")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]domain.Range{"range": rg})
}

func (s *Server) handleBrush(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Start int `json:"start"`
		End   int `json:"end"`
		// Generation of the series the indices were taken from. Optional.
		Generation *uint64 `json:"generation"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	snap := s.Market.Snapshot()
	if req.Generation != nil && *req.Generation != snap.Generation {
		s.writeError(w, http.StatusConflict, fmt.Sprintf("series changed (generation %d, current %d)", *req.Generation, snap.Generation))
		return
	}
	s.Window.Observe(snap.Generation)
	s.Window.Brush(snap.Series, req.Start, req.End)
	s.writeJSON(w, http.StatusOK, s.view(snap))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.Window.Reset()
	s.writeJSON(w, http.StatusOK, s.view(s.Market.Snapshot()))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.Ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}
	s.writeJSON(w, http.StatusOK, s.Ledger.Portfolio())
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	if s.Ledger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "ledger not available")
		return
	}

	var req struct {
		Type   domain.TransactionType `json:"type"`
		Amount decimal.Decimal        `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if !req.Type.IsValid() {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown trade type %q", req.Type))
		return
	}

	tx, err := s.Ledger.Execute(r.Context(), req.Type, req.Amount)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusCreated, tx)
	case errors.Is(err, ledger.ErrInvalidAmount):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case ledger.IsInsufficientFunds(err):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrPriceUnavailable):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("trade failed", zap.String("type", string(req.Type)), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "trade failed")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}
}

// Single-pair chart with range selector, brush zoom and a trade panel.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Spotsim</title>
  <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
  <link href="https://fonts.googleapis.com/css2?family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root { --bg:#ffffff; --ink:#111111; --ink-mid:#4d4d4d; --panel:#f6f6f6; --up:#1b9aaa; --down:#d7263d; }
    * { box-sizing:border-box; }
    body { margin:0; padding:2rem; background:var(--bg); color:var(--ink); font-family:'Space Mono',monospace; }
    #app { max-width:1200px; margin:0 auto; display:grid; grid-template-columns:1fr 320px; gap:2rem; }
    .panel { border:3px solid var(--ink); background:var(--panel); padding:1.5rem; box-shadow:8px 8px 0 rgba(0,0,0,.15); }
    header { display:flex; justify-content:space-between; align-items:baseline; gap:1rem; }
    .price { font-size:2rem; font-weight:700; }
    .change.up { color:var(--up); }
    .change.down { color:var(--down); }
    .ranges { display:flex; gap:.4rem; margin:1rem 0; flex-wrap:wrap; }
    button { font-family:inherit; border:2px solid var(--ink); background:#fff; padding:.3rem .7rem; cursor:pointer; }
    button.active { background:var(--ink); color:#fff; }
    .status { font-size:.7rem; color:var(--ink-mid); text-transform:uppercase; letter-spacing:.1em; }
    .error { color:var(--down); font-weight:700; padding:3rem 0; text-align:center; }
    canvas { width:100%; background:#fff; border:2px solid var(--ink); }
    input { font-family:inherit; width:100%; padding:.4rem; border:2px solid var(--ink); margin:.4rem 0; }
    table { width:100%; font-size:.7rem; border-collapse:collapse; }
    td { padding:.2rem 0; border-bottom:1px dashed #9c9c9c; }
    @media (max-width:800px) { #app { grid-template-columns:1fr; } }
  </style>
</head>
<body>
  <div id="app">
    <section class="panel">
      <header>
        <div><div id="price" class="price">...</div><div id="change" class="change"></div></div>
        <div id="status" class="status">Connecting…</div>
      </header>
      <div id="ranges" class="ranges"></div>
      <div id="chartError" class="error" hidden></div>
      <canvas id="chart" height="320"></canvas>
      <button id="reset" hidden>Reset zoom</button>
    </section>
    <aside class="panel">
      <h3>Trade</h3>
      <div id="balances" class="status"></div>
      <input id="amount" placeholder="USD to buy / BTC to sell" />
      <button data-side="BUY">Buy</button>
      <button data-side="SELL">Sell</button>
      <div id="tradeStatus" class="status"></div>
      <h3>History</h3>
      <table id="history"></table>
    </aside>
  </div>
<script>
const $ = (id) => document.getElementById(id);
let dragStart = null;
let lastView = null;
const barSeconds = {};

const chart = new Chart($('chart').getContext('2d'), {
  type: 'line',
  data: { labels: [], datasets: [{ data: [], borderColor:'#111111', borderWidth:2, pointRadius:0, tension:0 }] },
  options: {
    animation:false, responsive:true,
    plugins:{ legend:{ display:false } },
    scales:{ x:{ ticks:{ maxRotation:0, autoSkip:true } }, y:{} }
  }
});

const fmt = (v) => v == null ? '...' : Number(v).toLocaleString(undefined, { minimumFractionDigits:2, maximumFractionDigits:2 });

function render(view){
  lastView = view;
  const m = view.market;
  $('price').textContent = fmt(m.currentPrice);
  if(m.priceChange24h != null){
    const up = m.priceChange24h >= 0;
    $('change').className = 'change ' + (up ? 'up' : 'down');
    $('change').textContent = (up ? '+' : '') + fmt(m.priceChange24h) + ' (' + m.priceChangePercent24h.toFixed(2) + '%)';
  }
  $('status').textContent = m.loading ? 'Loading…' : m.phase;
  document.querySelectorAll('#ranges button').forEach((b) => b.classList.toggle('active', b.dataset.range === m.activeRange));

  const failed = Boolean(m.error) || m.phase === 'error';
  $('chartError').hidden = !failed;
  $('chartError').textContent = m.error || '';
  $('chart').hidden = failed;
  $('reset').hidden = !view.zoomed;

  const x = view.extent.xDomain, y = view.extent.yDomain;
  const visible = m.series.filter((p) => typeof x[0] !== 'number' || (p.timestamp >= x[0] && p.timestamp <= x[1]));
  chart.data.labels = visible.map((p) => pointLabel(p, m.seriesRange));
  chart.data.datasets[0].data = visible.map((p) => p.price);
  chart.data.datasets[0].stepped = m.seriesRange === '1m';
  chart.options.scales.y.min = view.zoomed && typeof y[0] === 'number' ? y[0] : undefined;
  chart.options.scales.y.max = view.zoomed && typeof y[1] === 'number' ? y[1] : undefined;
  chart.update('none');
}

// daily bars are labelled by date only
function pointLabel(p, range){
  const d = new Date(p.timestamp);
  return (barSeconds[range] || 0) >= 86400 ? d.toLocaleDateString() : d.toLocaleString([], { hour12:false });
}

async function post(path, body){
  const res = await fetch(path, { method:'POST', headers:{ 'Content-Type':'application/json' }, body: JSON.stringify(body || {}) });
  const payload = await res.json();
  if(!res.ok){ throw new Error(payload.error || res.statusText); }
  return payload;
}

async function loadRanges(){
  const ranges = await (await fetch('/api/ranges')).json();
  ranges.forEach((r) => {
    barSeconds[r.range] = r.barSeconds || 0;
    const b = document.createElement('button');
    b.textContent = r.label;
    b.dataset.range = r.range;
    b.onclick = () => post('/api/range', { range: r.range }).catch((e) => console.error(e));
    $('ranges').appendChild(b);
  });
}

function seriesIndex(evt){
  const points = chart.getElementsAtEventForMode(evt, 'index', { intersect:false }, false);
  if(!points.length || !lastView){ return null; }
  const label = chart.data.labels[points[0].index];
  const m = lastView.market;
  const visibleStart = m.series.findIndex((p) => pointLabel(p, m.seriesRange) === label);
  return visibleStart < 0 ? null : visibleStart;
}

$('chart').addEventListener('mousedown', (e) => { dragStart = seriesIndex(e); });
$('chart').addEventListener('mouseup', (e) => {
  const end = seriesIndex(e);
  if(dragStart != null && end != null && end !== dragStart){
    post('/api/window/brush', { start: dragStart, end: end, generation: lastView.market.generation }).then(render).catch((err) => console.error(err));
  }
  dragStart = null;
});
$('reset').onclick = () => post('/api/window/reset').then(render);

async function loadPortfolio(){
  const p = await (await fetch('/api/portfolio')).json();
  $('balances').textContent = 'USD ' + fmt(p.usdBalance) + ' / BTC ' + Number(p.btcBalance).toFixed(6);
  $('history').innerHTML = '';
  (p.transactions || []).forEach((tx) => {
    const row = document.createElement('tr');
    row.innerHTML = '<td>' + tx.type + '</td><td>' + Number(tx.btcAmount).toFixed(6) + '</td><td>' + fmt(tx.usdAmount) + '</td><td>' + new Date(tx.timestamp).toLocaleString() + '</td>';
    $('history').appendChild(row);
  });
}

document.querySelectorAll('[data-side]').forEach((b) => {
  b.onclick = () => post('/api/trades', { type: b.dataset.side, amount: $('amount').value.trim() })
    .then(() => { $('tradeStatus').textContent = 'Executed'; return loadPortfolio(); })
    .catch((e) => { $('tradeStatus').textContent = e.message; });
});

function connectSSE(){
  const source = new EventSource('/api/market/stream');
  source.addEventListener('market', (event) => {
    try{ render(JSON.parse(event.data)); }catch(err){ console.error('payload parse', err); }
  });
  source.addEventListener('error', () => {
    $('status').textContent = 'Reconnecting…';
    source.close();
    setTimeout(connectSSE, 2000);
  });
}

loadRanges().then(connectSSE);
loadPortfolio();
</script>
</body>
</html>`
