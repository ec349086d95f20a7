package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/ledger"
	"tradebot/internal/signal"
)

// managePositions 对总账快照中的每笔持仓评估退出条件。
// 单笔持仓的失败只影响它自己；平仓失败的持仓留待下一周期重试。
func (e *Engine) managePositions(ctx context.Context) {
	snapshot := e.book.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	e.logger.Info("评估持仓退出条件", zap.Int("positions", len(snapshot)))

	symbols := make([]string, 0, len(snapshot))
	for symbol := range snapshot {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}

		position := snapshot[symbol]

		price, err := e.gateway.FetchPrice(ctx, symbol)
		if err != nil {
			// 拿不到价格不算失败，本周期跳过该持仓即可。
			e.logger.Warn("获取价格失败，本周期跳过该持仓",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
			continue
		}

		reason, exit := e.evaluateExit(ctx, position, price, e.nowFn())
		if !exit {
			continue
		}

		e.logger.Info("触发退出条件",
			zap.String("symbol", symbol),
			zap.String("reason", reason.String()),
			zap.Float64("price", price),
			zap.Float64("entry_price", position.EntryPrice),
		)

		if err := e.closePosition(ctx, position, reason); err != nil {
			e.logger.Error("平仓失败，持仓保留待下周期重试",
				zap.String("symbol", symbol),
				zap.String("reason", reason.String()),
				zap.Error(err),
			)
		}
	}
}

// evaluateExit 按固定优先级评估退出条件，返回首个命中的原因：
// 止盈 → 止损 → 持仓超时 → 信号退出。相同输入必然得到相同结论。
func (e *Engine) evaluateExit(ctx context.Context, position ledger.Position, price float64, now time.Time) (ExitReason, bool) {
	pnl := (price - position.EntryPrice) / position.EntryPrice

	if pnl >= e.cfg.TakeProfitRate {
		return ExitTakeProfit, true
	}
	if pnl <= -e.cfg.StopLossRate {
		return ExitStopLoss, true
	}
	if now.Sub(position.EntryTime) >= e.cfg.MaxHoldDuration {
		return ExitTimeStop, true
	}

	// 信号退出代价最高（需要额外拉取K线），放在最后评估。
	candles, err := e.gateway.FetchCandles(ctx, position.Symbol, e.cfg.Timeframe, e.cfg.SignalLookbackBars)
	if err != nil || len(candles) < signal.MinBars {
		return 0, false
	}

	report, err := e.oracle.Evaluate(ctx, position.Symbol, candles)
	if err != nil {
		e.logger.Warn("信号评估失败，忽略信号退出",
			zap.String("symbol", position.Symbol),
			zap.Error(err),
		)
		return 0, false
	}

	if report.Verdict == signal.VerdictSell {
		return ExitSignal, true
	}

	return 0, false
}
