package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"tradebot/internal/signal"
)

// scan 扫描配置的标的并收集开仓机会。扫描严格按配置顺序串行进行，
// 单个标的的失败只影响它自己。每周期最多只开一仓。
func (e *Engine) scan(ctx context.Context) {
	if held := e.book.Len(); held >= e.cfg.MaxPositions {
		e.logger.Info("持仓已达上限，跳过扫描",
			zap.Int("held", held),
			zap.Int("max_positions", e.cfg.MaxPositions),
		)
		return
	}

	balance, err := e.gateway.FetchBalance(ctx)
	if err != nil {
		e.logger.Warn("获取余额失败，跳过本周期扫描", zap.Error(err))
		return
	}
	if balance.FreeQuote < e.cfg.MinTradeQuoteAmount {
		e.logger.Info("可用余额不足，跳过扫描",
			zap.Float64("free_balance", balance.FreeQuote),
			zap.Float64("min_trade_amount", e.cfg.MinTradeQuoteAmount),
		)
		return
	}

	now := e.nowFn()
	opportunities := make([]Opportunity, 0, len(e.cfg.Pairs))

	for _, symbol := range e.cfg.Pairs {
		if ctx.Err() != nil {
			return
		}
		if e.book.Held(symbol) {
			continue
		}
		if e.inCooldown(symbol, now) {
			continue
		}

		candles, err := e.gateway.FetchCandles(ctx, symbol, e.cfg.Timeframe, e.cfg.SignalLookbackBars)
		if err != nil {
			e.logger.Warn("获取K线失败，跳过该标的",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}
		if len(candles) < signal.MinBars {
			// 历史数据不足不是错误，本周期视为不可分析。
			e.logger.Debug("K线数量不足，跳过该标的",
				zap.String("symbol", symbol),
				zap.Int("bars", len(candles)),
			)
			continue
		}

		report, err := e.oracle.Evaluate(ctx, symbol, candles)
		if err != nil {
			e.logger.Warn("信号评估失败，跳过该标的",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}

		if report.Verdict != signal.VerdictBuy || report.Confidence < e.cfg.MinConfidenceToOpen {
			continue
		}

		e.logger.Info("发现开仓机会",
			zap.String("symbol", symbol),
			zap.Float64("confidence", report.Confidence),
			zap.String("reason", report.Reason),
		)
		e.recorder.RecordSignal(ctx, symbol, string(report.Verdict), report.Confidence, report.Reason)
		opportunities = append(opportunities, Opportunity{
			Symbol:     symbol,
			Confidence: report.Confidence,
			Reason:     report.Reason,
		})
	}

	best, ok := rankOpportunities(opportunities)
	if !ok {
		return
	}

	e.logger.Info("执行最优开仓机会",
		zap.String("symbol", best.Symbol),
		zap.Float64("confidence", best.Confidence),
		zap.Int("candidates", len(opportunities)),
	)
	e.openPosition(ctx, best)
}

// rankOpportunities 按置信度降序排序并返回最优机会。
// 稳定排序保证置信度相同的标的按配置顺序靠前者胜出。
func rankOpportunities(opportunities []Opportunity) (Opportunity, bool) {
	if len(opportunities) == 0 {
		return Opportunity{}, false
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].Confidence > opportunities[j].Confidence
	})

	return opportunities[0], true
}
