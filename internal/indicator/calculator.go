package indicator

import (
	"fmt"
	"sync"

	talib "github.com/markcheno/go-talib"

	"tradebot/internal/exchange"
)

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value     float64
	Signal    float64
	Histogram float64
}

// VolumeResult 保存成交量相关统计。
type VolumeResult struct {
	Current   float64
	Average20 float64
	Ratio     float64
}

// Result 为一次指标计算的汇总。
type Result struct {
	Symbol        string
	RSI           float64
	SMA20         float64
	MACD          MACDResult
	Volume        VolumeResult
	Close         float64
	PreviousClose float64
}

type cacheEntry struct {
	key    string
	result Result
}

// Calculator 提供技术指标计算并带有简单缓存。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算策略所需的技术指标。
func (c *Calculator) Compute(symbol string, candles []exchange.Candle) (Result, error) {
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("计算指标失败: 输入K线为空")
	}

	series := NewSeries(candles)
	cacheKey := fmt.Sprintf("%s:%d:%d", symbol, series.Len(), series.Timestamps[len(series.Timestamps)-1].Unix())

	c.mu.Lock()
	if entry, ok := c.cache[symbol]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	result := c.calculate(symbol, series)

	c.mu.Lock()
	c.cache[symbol] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}

func (c *Calculator) calculate(symbol string, series Series) Result {
	closePrices := series.Close
	volumes := series.Volume

	rsi := talib.Rsi(closePrices, 14)
	sma20 := talib.Sma(closePrices, 20)
	macd, macdSignal, macdHist := talib.Macd(closePrices, 12, 26, 9)

	volumeAvg20 := average(SliceTail(volumes, 20))
	volumeCurrent := Last(volumes)

	return Result{
		Symbol: symbol,
		RSI:    Last(rsi),
		SMA20:  Last(sma20),
		MACD: MACDResult{
			Value:     Last(macd),
			Signal:    Last(macdSignal),
			Histogram: Last(macdHist),
		},
		Volume: VolumeResult{
			Current:   volumeCurrent,
			Average20: volumeAvg20,
			Ratio:     SafeDivide(volumeCurrent, volumeAvg20),
		},
		Close:         Last(closePrices),
		PreviousClose: Prev(closePrices),
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
