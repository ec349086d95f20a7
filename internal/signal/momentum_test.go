package signal

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"tradebot/internal/exchange"
)

func makeCandles(n int, step float64, volume float64) []exchange.Candle {
	candles := make([]exchange.Candle, 0, n)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		price += step
		candles = append(candles, exchange.Candle{
			Timestamp: base.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price - step,
			High:      price + math.Abs(step),
			Low:       price - math.Abs(step),
			Close:     price,
			Volume:    volume,
		})
	}
	return candles
}

func TestEvaluate_InsufficientDataWaits(t *testing.T) {
	oracle := NewMomentumOracle(nil, nil)

	report, err := oracle.Evaluate(context.Background(), "BTC/USDT", makeCandles(MinBars-1, 0.5, 100))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if report.Verdict != VerdictWait {
		t.Errorf("expected WAIT, got %s", report.Verdict)
	}
	if report.Confidence != 0 {
		t.Errorf("expected confidence 0, got %f", report.Confidence)
	}
	if report.Reason != "数据不足" {
		t.Errorf("unexpected reason: %s", report.Reason)
	}
}

func TestEvaluate_OverboughtTriggersSell(t *testing.T) {
	oracle := NewMomentumOracle(nil, nil)

	// 持续上涨的序列 RSI 接近100，必然落入超买区。
	report, err := oracle.Evaluate(context.Background(), "BTC/USDT", makeCandles(60, 1.0, 100))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if report.Verdict != VerdictSell {
		t.Fatalf("expected SELL, got %s (reason: %s)", report.Verdict, report.Reason)
	}
	if report.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", report.Confidence)
	}
	if !strings.Contains(report.Reason, "RSI 超买") {
		t.Errorf("unexpected reason: %s", report.Reason)
	}
}

func TestEvaluate_DowntrendWaits(t *testing.T) {
	oracle := NewMomentumOracle(nil, nil)

	// 持续下跌的序列 RSI 接近0 且价格低于SMA20，买入条件不可能满足。
	report, err := oracle.Evaluate(context.Background(), "ETH/USDT", makeCandles(60, -0.5, 100))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if report.Verdict != VerdictWait {
		t.Fatalf("expected WAIT, got %s (reason: %s)", report.Verdict, report.Reason)
	}
	if report.Confidence != 0 {
		t.Errorf("expected confidence 0, got %f", report.Confidence)
	}
	if !strings.Contains(report.Reason, "条件不全") {
		t.Errorf("unexpected reason: %s", report.Reason)
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	oracle := NewMomentumOracle(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := oracle.Evaluate(ctx, "BTC/USDT", makeCandles(60, 0.5, 100)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestConfidence_BonusTable(t *testing.T) {
	cases := []struct {
		name    string
		metrics Metrics
		want    float64
	}{
		{
			name: "base only",
			metrics: Metrics{
				Price: 100.2, RSI: 33, SMA20: 100, VolumeRatio: 1.6, MACD: -0.001,
			},
			want: 0.6,
		},
		{
			name: "ideal rsi band",
			metrics: Metrics{
				Price: 100.5, RSI: 45, SMA20: 100, VolumeRatio: 1.6, MACD: -0.001,
			},
			want: 0.75,
		},
		{
			name: "outer rsi band and weak macd",
			metrics: Metrics{
				Price: 100.5, RSI: 38, SMA20: 100, VolumeRatio: 1.6, MACD: 0.0005,
			},
			want: 0.75,
		},
		{
			name: "all bonuses stack",
			metrics: Metrics{
				Price: 101.5, RSI: 50, SMA20: 100, VolumeRatio: 2.5, MACD: 0.01,
			},
			want: 0.6 + 0.15 + 0.10 + 0.10 + 0.05,
		},
		{
			name: "capped at one",
			metrics: Metrics{
				Price: 103, RSI: 45, SMA20: 100, VolumeRatio: 3.5, MACD: 0.01,
			},
			want: 1.0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := confidence(tc.metrics)
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("confidence=%f want %f", got, tc.want)
			}
		})
	}
}
