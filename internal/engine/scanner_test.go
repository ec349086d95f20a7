package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradebot/internal/signal"
)

func primeScanCandles(h *testHarness) {
	for _, symbol := range h.engine.cfg.Pairs {
		h.gateway.candles[symbol] = waitCandles(100)
		h.gateway.prices[symbol] = 100
	}
}

func TestScanOpensHighestConfidenceOpportunity(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)

	h.oracle.reports["BTC/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.72, Reason: "a"}
	h.oracle.reports["ETH/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.85, Reason: "b"}
	h.oracle.reports["SOL/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.69, Reason: "c"}

	h.engine.scan(context.Background())

	if got := h.gateway.buys; len(got) != 1 || got[0] != "ETH/USDT" {
		t.Fatalf("expected single buy of ETH/USDT, got %v", got)
	}
	if !h.engine.book.Held("ETH/USDT") {
		t.Error("expected ETH/USDT position in book")
	}
	if h.engine.book.Len() != 1 {
		t.Errorf("expected exactly one position, got %d", h.engine.book.Len())
	}
	// 达标的两个机会都进事件流，低于阈值的不进。
	if len(h.recorder.signals) != 2 {
		t.Errorf("expected 2 signal events, got %v", h.recorder.signals)
	}
}

func TestScanBreaksConfidenceTiesByConfigOrder(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)

	h.oracle.reports["BTC/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.80}
	h.oracle.reports["ETH/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.80}

	h.engine.scan(context.Background())

	if got := h.gateway.buys; len(got) != 1 || got[0] != "BTC/USDT" {
		t.Fatalf("tie must go to the earlier configured pair, got %v", got)
	}
}

func TestScanIgnoresLowConfidenceAndNonBuy(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)

	h.oracle.reports["BTC/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.69}
	h.oracle.reports["ETH/USDT"] = signal.Report{Verdict: signal.VerdictSell, Confidence: 0.95}
	h.oracle.reports["SOL/USDT"] = signal.Report{Verdict: signal.VerdictWait, Confidence: 0}

	h.engine.scan(context.Background())

	if h.gateway.buyCount() != 0 {
		t.Fatalf("expected no buys, got %v", h.gateway.buys)
	}
}

func TestScanSkipsWhenAtCapacity(t *testing.T) {
	cfg := testTradingConfig()
	cfg.MaxPositions = 1
	h := newTestHarness(t, cfg)
	primeScanCandles(h)

	if err := h.engine.book.Open("BTC/USDT", makeTestPosition("BTC/USDT", 100, h.now)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	h.oracle.reports["ETH/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.9}

	h.engine.scan(context.Background())

	if len(h.oracle.calls) != 0 {
		t.Errorf("scan at capacity must not evaluate signals, got calls %v", h.oracle.calls)
	}
	if h.gateway.buyCount() != 0 {
		t.Error("scan at capacity must not buy")
	}
}

func TestScanSkipsWhenBalanceBelowMinimum(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)
	h.gateway.balance.FreeQuote = 5

	h.oracle.reports["BTC/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.9}

	h.engine.scan(context.Background())

	if h.gateway.buyCount() != 0 {
		t.Error("scan with insufficient balance must not buy")
	}
}

func TestScanSkipsHeldAndCoolingSymbols(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)

	if err := h.engine.book.Open("BTC/USDT", makeTestPosition("BTC/USDT", 100, h.now)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// ETH 刚平仓，仍处于冷却期。
	h.engine.noteOpen("ETH/USDT", 0.1, h.now.Add(-time.Minute))

	h.oracle.reports["SOL/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.9}

	h.engine.scan(context.Background())

	if len(h.oracle.calls) != 1 || h.oracle.calls[0] != "SOL/USDT" {
		t.Fatalf("expected only SOL/USDT evaluated, got %v", h.oracle.calls)
	}
	if got := h.gateway.buys; len(got) != 1 || got[0] != "SOL/USDT" {
		t.Fatalf("expected buy of SOL/USDT, got %v", got)
	}
}

func TestScanSkipsSymbolsWithShortHistory(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)
	h.gateway.candles["BTC/USDT"] = waitCandles(signal.MinBars - 1)

	h.oracle.reports["BTC/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.9}

	h.engine.scan(context.Background())

	for _, called := range h.oracle.calls {
		if called == "BTC/USDT" {
			t.Fatal("symbol with short history must not reach the oracle")
		}
	}
}

func TestScanToleratesPerSymbolFailures(t *testing.T) {
	h := newTestHarness(t, testTradingConfig())
	primeScanCandles(h)

	h.gateway.candlesErr["BTC/USDT"] = errors.New("network down")
	h.oracle.errs["ETH/USDT"] = errors.New("oracle down")
	h.oracle.reports["SOL/USDT"] = signal.Report{Verdict: signal.VerdictBuy, Confidence: 0.9}

	h.engine.scan(context.Background())

	if got := h.gateway.buys; len(got) != 1 || got[0] != "SOL/USDT" {
		t.Fatalf("failures on other symbols must not block SOL/USDT, got %v", got)
	}
}
