package signal

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"tradebot/internal/exchange"
	"tradebot/internal/indicator"
)

// 动量+回归策略阈值。
const (
	rsiBuyMin      = 30.0
	rsiBuyMax      = 60.0
	rsiSell        = 75.0
	minVolumeRatio = 1.5
)

// MomentumOracle 按固定规则评估买卖信号：
// 买入需同时满足 RSI 位于[30,60]、价格高于SMA20、成交量放大1.5倍、MACD为正；
// RSI 超过75 视为危险超买，给出卖出信号。
type MomentumOracle struct {
	calc   *indicator.Calculator
	logger *zap.Logger
}

// NewMomentumOracle 创建规则信号源。
func NewMomentumOracle(calc *indicator.Calculator, logger *zap.Logger) *MomentumOracle {
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MomentumOracle{
		calc:   calc,
		logger: logger,
	}
}

var _ Oracle = (*MomentumOracle)(nil)

// Evaluate 评估一组K线并给出信号结论。
func (o *MomentumOracle) Evaluate(ctx context.Context, symbol string, candles []exchange.Candle) (Report, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Report{}, ctxErr
	}

	if len(candles) < MinBars {
		return Report{
			Verdict:    VerdictWait,
			Confidence: 0,
			Reason:     "数据不足",
		}, nil
	}

	result, err := o.calc.Compute(symbol, candles)
	if err != nil {
		return Report{}, err
	}

	metrics := Metrics{
		Price:       result.Close,
		RSI:         result.RSI,
		SMA20:       result.SMA20,
		VolumeRatio: result.Volume.Ratio,
		MACD:        result.MACD.Value,
		MACDSignal:  result.MACD.Signal,
	}

	if math.IsNaN(metrics.RSI) || math.IsNaN(metrics.SMA20) || math.IsNaN(metrics.MACD) {
		return Report{
			Verdict:    VerdictWait,
			Confidence: 0,
			Reason:     "指标尚未收敛",
			Metrics:    metrics,
		}, nil
	}

	// 超买优先于一切买入判断。
	if metrics.RSI > rsiSell {
		return Report{
			Verdict:    VerdictSell,
			Confidence: 0.9,
			Reason:     fmt.Sprintf("RSI 超买 (%.1f > %.0f)", metrics.RSI, rsiSell),
			Metrics:    metrics,
		}, nil
	}

	conditions := make([]bool, 0, 4)
	reasons := make([]string, 0, 4)

	rsiOK := metrics.RSI >= rsiBuyMin && metrics.RSI <= rsiBuyMax
	conditions = append(conditions, rsiOK)
	if rsiOK {
		reasons = append(reasons, fmt.Sprintf("RSI 合适 (%.1f)", metrics.RSI))
	} else {
		reasons = append(reasons, fmt.Sprintf("RSI 偏离区间 (%.1f)", metrics.RSI))
	}

	priceAboveSMA := metrics.Price > metrics.SMA20
	conditions = append(conditions, priceAboveSMA)
	if priceAboveSMA {
		pct := (metrics.Price - metrics.SMA20) / metrics.SMA20 * 100
		reasons = append(reasons, fmt.Sprintf("价格高于SMA20 (+%.2f%%)", pct))
	} else {
		pct := (metrics.SMA20 - metrics.Price) / metrics.SMA20 * 100
		reasons = append(reasons, fmt.Sprintf("价格低于SMA20 (-%.2f%%)", pct))
	}

	volumeOK := metrics.VolumeRatio > minVolumeRatio
	conditions = append(conditions, volumeOK)
	if volumeOK {
		reasons = append(reasons, fmt.Sprintf("放量 (%.2fx)", metrics.VolumeRatio))
	} else {
		reasons = append(reasons, fmt.Sprintf("量能不足 (%.2fx)", metrics.VolumeRatio))
	}

	macdOK := metrics.MACD > 0
	conditions = append(conditions, macdOK)
	if macdOK {
		reasons = append(reasons, fmt.Sprintf("MACD 为正 (%.6f)", metrics.MACD))
	} else {
		reasons = append(reasons, fmt.Sprintf("MACD 为负 (%.6f)", metrics.MACD))
	}

	met := 0
	for _, ok := range conditions {
		if ok {
			met++
		}
	}

	if met == len(conditions) {
		return Report{
			Verdict:    VerdictBuy,
			Confidence: confidence(metrics),
			Reason:     "动量确认: " + strings.Join(reasons, ", "),
			Metrics:    metrics,
		}, nil
	}

	return Report{
		Verdict:    VerdictWait,
		Confidence: 0,
		Reason:     fmt.Sprintf("条件不全 (%d/%d): %s", met, len(conditions), strings.Join(reasons, ", ")),
		Metrics:    metrics,
	}, nil
}

// confidence 由指标强度给出[0.6,1.0]的置信度。
func confidence(m Metrics) float64 {
	score := 0.6

	switch {
	case m.RSI >= 40 && m.RSI <= 55:
		score += 0.15
	case (m.RSI >= 35 && m.RSI < 40) || (m.RSI > 55 && m.RSI <= 60):
		score += 0.10
	}

	switch {
	case m.VolumeRatio > 3.0:
		score += 0.15
	case m.VolumeRatio > 2.0:
		score += 0.10
	case m.VolumeRatio > 1.8:
		score += 0.05
	}

	switch {
	case m.MACD > 0.001:
		score += 0.10
	case m.MACD > 0:
		score += 0.05
	}

	if m.SMA20 > 0 {
		aboveSMA := (m.Price - m.SMA20) / m.SMA20
		switch {
		case aboveSMA > 0.02:
			score += 0.10
		case aboveSMA > 0.01:
			score += 0.05
		}
	}

	return math.Min(score, 1.0)
}
