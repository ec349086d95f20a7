package signal

import (
	"context"

	"tradebot/internal/exchange"
)

// Verdict 为信号评估结论。
type Verdict string

const (
	VerdictBuy  Verdict = "BUY"
	VerdictSell Verdict = "SELL"
	VerdictWait Verdict = "WAIT"
)

// MinBars 为一次有效评估所需的最少K线数量。
const MinBars = 50

// Metrics 记录产生信号时的关键指标值。
type Metrics struct {
	Price       float64 `json:"price"`
	RSI         float64 `json:"rsi"`
	SMA20       float64 `json:"sma_20"`
	VolumeRatio float64 `json:"volume_ratio"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
}

// Report 为一次信号评估的完整结果，置信度位于[0,1]。
type Report struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
	Metrics    Metrics `json:"metrics"`
}

// Oracle 抽象信号来源，由动量规则或大模型实现。
type Oracle interface {
	Evaluate(ctx context.Context, symbol string, candles []exchange.Candle) (Report, error)
}
