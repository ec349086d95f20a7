package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/exchange"
	"tradebot/internal/journal"
	"tradebot/internal/ledger"
	"tradebot/internal/signal"
)

// fakeGateway 模拟交易所客户端，按标的返回固定价格与K线，
// 并记录全部下单调用。
type fakeGateway struct {
	mu sync.Mutex

	balance    exchange.Balance
	balanceErr error
	prices     map[string]float64
	priceErr   map[string]error
	candles    map[string][]exchange.Candle
	candlesErr map[string]error

	buyErr  error
	sellErr error
	fills   map[string]exchange.Fill

	buys  []string
	sells []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		balance:    exchange.Balance{FreeQuote: 1000, TotalQuote: 1000},
		prices:     make(map[string]float64),
		priceErr:   make(map[string]error),
		candles:    make(map[string][]exchange.Candle),
		candlesErr: make(map[string]error),
		fills:      make(map[string]exchange.Fill),
	}
}

func (g *fakeGateway) FetchBalance(ctx context.Context) (exchange.Balance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.balanceErr != nil {
		return exchange.Balance{}, g.balanceErr
	}
	return g.balance, nil
}

func (g *fakeGateway) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.priceErr[symbol]; err != nil {
		return 0, err
	}
	price, ok := g.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (g *fakeGateway) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.candlesErr[symbol]; err != nil {
		return nil, err
	}
	return g.candles[symbol], nil
}

func (g *fakeGateway) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (exchange.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.buyErr != nil {
		return exchange.Fill{}, g.buyErr
	}
	g.buys = append(g.buys, symbol)
	if fill, ok := g.fills[symbol]; ok {
		return fill, nil
	}
	price := g.prices[symbol]
	if price <= 0 {
		price = 100
	}
	return exchange.Fill{
		OrderID:  "buy-" + symbol,
		Symbol:   symbol,
		Quantity: quoteAmount / price,
		Price:    price,
		Cost:     quoteAmount,
		Fee:      quoteAmount * 0.001,
	}, nil
}

func (g *fakeGateway) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (exchange.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sellErr != nil {
		return exchange.Fill{}, g.sellErr
	}
	g.sells = append(g.sells, symbol)
	if fill, ok := g.fills[symbol]; ok {
		return fill, nil
	}
	price := g.prices[symbol]
	cost := quantity * price
	return exchange.Fill{
		OrderID:  "sell-" + symbol,
		Symbol:   symbol,
		Quantity: quantity,
		Price:    price,
		Cost:     cost,
		Fee:      cost * 0.001,
	}, nil
}

func (g *fakeGateway) buyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.buys)
}

// fakeValuer 返回固定估值。
type fakeValuer struct {
	valuation exchange.Valuation
	err       error
}

func (v *fakeValuer) FetchValuation(ctx context.Context, symbols []string) (exchange.Valuation, error) {
	if v.err != nil {
		return exchange.Valuation{}, v.err
	}
	return v.valuation, nil
}

// fakeOracle 按标的返回预设信号。
type fakeOracle struct {
	mu      sync.Mutex
	reports map[string]signal.Report
	errs    map[string]error
	calls   []string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		reports: make(map[string]signal.Report),
		errs:    make(map[string]error),
	}
}

func (o *fakeOracle) Evaluate(ctx context.Context, symbol string, candles []exchange.Candle) (signal.Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, symbol)
	if err := o.errs[symbol]; err != nil {
		return signal.Report{}, err
	}
	if report, ok := o.reports[symbol]; ok {
		return report, nil
	}
	return signal.Report{Verdict: signal.VerdictWait}, nil
}

// fakeJournal 收集流水记录。
type fakeJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
	err     error
}

func (j *fakeJournal) Append(entry journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.entries = append(j.entries, entry)
	return nil
}

func (j *fakeJournal) all() []journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// fakeRecorder 收集监控事件。
type fakeRecorder struct {
	mu      sync.Mutex
	trades  []string
	signals []string
	errors  []string
	statusN int
}

func (r *fakeRecorder) RecordTrade(ctx context.Context, entry journal.Entry, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, fmt.Sprintf("%s:%s:%s", entry.Side, entry.Symbol, reason))
}

func (r *fakeRecorder) RecordSignal(ctx context.Context, symbol, verdict string, confidence float64, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, fmt.Sprintf("%s:%s", symbol, verdict))
}

func (r *fakeRecorder) RecordStatus(ctx context.Context, status interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusN++
}

func (r *fakeRecorder) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func testTradingConfig() config.TradingConfig {
	return config.TradingConfig{
		Pairs:                []string{"BTC/USDT", "ETH/USDT", "SOL/USDT"},
		Timeframe:            "5m",
		CycleInterval:        5 * time.Minute,
		CycleErrorBackoff:    time.Minute,
		TakeProfitRate:       0.03,
		StopLossRate:         0.015,
		PositionSizeFraction: 0.20,
		MaxPositions:         3,
		MaxHoldDuration:      24 * time.Hour,
		MinTimeBetweenTrades: 5 * time.Minute,
		MinTradeQuoteAmount:  10,
		MinConfidenceToOpen:  0.70,
		SignalLookbackBars:   100,
	}
}

type testHarness struct {
	engine   *Engine
	gateway  *fakeGateway
	valuer   *fakeValuer
	oracle   *fakeOracle
	journal  *fakeJournal
	recorder *fakeRecorder
	now      time.Time
}

func newTestHarness(t *testing.T, cfg config.TradingConfig) *testHarness {
	t.Helper()

	gateway := newFakeGateway()
	valuer := &fakeValuer{valuation: exchange.Valuation{
		Balance: gateway.balance,
		Prices:  map[string]float64{},
	}}
	oracle := newFakeOracle()
	j := &fakeJournal{}
	recorder := &fakeRecorder{}

	eng, err := New(cfg, Deps{
		Gateway:  gateway,
		Valuer:   valuer,
		Oracle:   oracle,
		Journal:  j,
		Recorder: recorder,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	h := &testHarness{
		engine:   eng,
		gateway:  gateway,
		valuer:   valuer,
		oracle:   oracle,
		journal:  j,
		recorder: recorder,
		now:      time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	eng.nowFn = func() time.Time { return h.now }
	return h
}

func makeTestPosition(symbol string, entryPrice float64, entryTime time.Time) ledger.Position {
	return ledger.Position{
		Symbol:     symbol,
		Quantity:   1,
		EntryPrice: entryPrice,
		EntryTime:  entryTime,
		StopLoss:   entryPrice * 0.985,
		TakeProfit: entryPrice * 1.03,
		CostBasis:  entryPrice,
		EntryFee:   entryPrice * 0.001,
	}
}

func waitCandles(n int) []exchange.Candle {
	candles := make([]exchange.Candle, n)
	base := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = exchange.Candle{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Close:     100,
			Volume:    10,
		}
	}
	return candles
}

func TestEngineNewRejectsMissingDeps(t *testing.T) {
	_, err := New(testTradingConfig(), Deps{Logger: zap.NewNop()})
	if err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func TestEngineStartStopLifecycle(t *testing.T) {
	cfg := testTradingConfig()
	cfg.CycleInterval = time.Hour
	h := newTestHarness(t, cfg)

	if h.engine.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", h.engine.State())
	}

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.engine.State() != StateRunning {
		t.Fatalf("expected running state, got %s", h.engine.State())
	}

	// 重复启动是空操作。
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("second Start must be a no-op, got error: %v", err)
	}

	h.engine.Stop()
	if h.engine.State() != StateIdle {
		t.Fatalf("expected idle state after stop, got %s", h.engine.State())
	}

	// 停止后允许再次启动。
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	h.engine.Stop()
}

func TestEngineStartFailsWhenBalanceUnavailable(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	h.gateway.balanceErr = errors.New("gateway down")

	if err := h.engine.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail when balance fetch fails")
	}
	if h.engine.State() != StateIdle {
		t.Fatalf("failed start must leave engine idle, got %s", h.engine.State())
	}
}

func TestEngineCycleSurvivesPanic(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	h.gateway.prices["BTC/USDT"] = 100

	// 让估值回调炸掉，周期必须把 panic 转成错误而不是拖垮进程。
	h.engine.statusFn = func(Status) { panic("boom") }

	err := h.engine.cycle(context.Background())
	if err == nil {
		t.Fatal("expected cycle to convert panic into error")
	}
}

func TestEngineCooldownBlocksReentry(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())

	h.engine.noteOpen("BTC/USDT", 0.1, h.now)

	if !h.engine.inCooldown("BTC/USDT", h.now.Add(4*time.Minute)) {
		t.Error("expected cooldown at 4m")
	}
	if h.engine.inCooldown("BTC/USDT", h.now.Add(5*time.Minute)) {
		t.Error("expected cooldown elapsed at 5m")
	}
	if h.engine.inCooldown("ETH/USDT", h.now) {
		t.Error("cooldown must be per-symbol")
	}
}

func TestEngineStatusAggregatesPnL(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())

	openPosition := makeTestPosition("BTC/USDT", 100, h.now)
	openPosition.Quantity = 2
	openPosition.CostBasis = 200
	if err := h.engine.book.Open("BTC/USDT", openPosition); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	h.engine.stateMu.Lock()
	h.engine.realizedPnL = 5
	h.engine.tradesToday = 2
	h.engine.totalFees = 0.4
	h.engine.stateMu.Unlock()

	h.valuer.valuation = exchange.Valuation{
		Balance: exchange.Balance{FreeQuote: 800},
		Prices:  map[string]float64{"BTC/USDT": 110},
	}

	status := h.engine.buildStatus(context.Background())

	if status.PositionsValue != 220 {
		t.Errorf("positions value=%f want 220", status.PositionsValue)
	}
	if status.UnrealizedPnL != 20 {
		t.Errorf("unrealized=%f want 20", status.UnrealizedPnL)
	}
	if status.TotalAccountValue != 1020 {
		t.Errorf("total value=%f want 1020", status.TotalAccountValue)
	}
	if status.TotalPnL != 25 {
		t.Errorf("total pnl=%f want 25 (realized 5 + unrealized 20)", status.TotalPnL)
	}
	if status.TradesToday != 2 || status.TotalFees != 0.4 {
		t.Errorf("counters mismatch: trades=%d fees=%f", status.TradesToday, status.TotalFees)
	}
}

func TestEngineStatusDegradesWithoutValuation(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	h.valuer.err = errors.New("valuation down")

	if err := h.engine.book.Open("BTC/USDT", makeTestPosition("BTC/USDT", 100, h.now)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	status := h.engine.buildStatus(context.Background())
	if status.ActivePositions != 1 {
		t.Errorf("expected positions in degraded status, got %d", status.ActivePositions)
	}
	if status.TotalAccountValue != 0 {
		t.Errorf("degraded status must omit market values, got %f", status.TotalAccountValue)
	}
}
