package engine

import (
	"context"

	"go.uber.org/zap"
)

// buildStatus 在周期末产出账户状态快照。估值失败时退化为
// 只含总账与计数器的部分快照，不中断周期。
func (e *Engine) buildStatus(ctx context.Context) Status {
	positions := e.book.Snapshot()

	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}

	status := Status{
		Timestamp:       e.nowFn().UTC(),
		Running:         e.State() == StateRunning,
		ActivePositions: len(positions),
		Positions:       positions,
	}

	e.stateMu.Lock()
	status.TradesToday = e.tradesToday
	status.TotalFees = e.totalFees
	status.RealizedPnL = e.realizedPnL
	status.CyclesCompleted = e.cycles
	e.stateMu.Unlock()

	valuation, err := e.valuer.FetchValuation(ctx, symbols)
	if err != nil {
		e.logger.Warn("账户估值失败，状态快照不含市值", zap.Error(err))
		return status
	}

	var positionsValue, unrealized float64
	for symbol, position := range positions {
		price, ok := valuation.Prices[symbol]
		if !ok {
			// 缺价的持仓按成本计入市值，避免快照里凭空蒸发。
			positionsValue += position.CostBasis
			continue
		}
		marketValue := position.Quantity * price
		positionsValue += marketValue
		unrealized += marketValue - position.CostBasis
	}

	status.FreeBalance = valuation.Balance.FreeQuote
	status.PositionsValue = positionsValue
	status.UnrealizedPnL = unrealized
	status.TotalAccountValue = valuation.Balance.FreeQuote + positionsValue
	status.TotalPnL = status.RealizedPnL + unrealized

	return status
}
