package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tradebot/internal/journal"
	"tradebot/internal/ledger"
)

// openPosition 执行一次市价买入并登记持仓。任一环节失败都直接放弃，
// 不做自动重试，留待下个周期重新扫描。
func (e *Engine) openPosition(ctx context.Context, opp Opportunity) {
	balance, err := e.gateway.FetchBalance(ctx)
	if err != nil {
		e.logger.Error("开仓前获取余额失败", zap.String("symbol", opp.Symbol), zap.Error(err))
		e.recorder.RecordError(ctx, "开仓前获取余额失败", err, map[string]interface{}{
			"symbol": opp.Symbol,
		})
		return
	}

	quoteAmount := balance.FreeQuote * e.cfg.PositionSizeFraction
	if quoteAmount < e.cfg.MinTradeQuoteAmount {
		e.logger.Info("仓位金额低于最小下单额，放弃开仓",
			zap.String("symbol", opp.Symbol),
			zap.Float64("quote_amount", quoteAmount),
			zap.Float64("min_trade_amount", e.cfg.MinTradeQuoteAmount),
		)
		return
	}

	fill, err := e.gateway.PlaceMarketBuy(ctx, opp.Symbol, quoteAmount)
	if err != nil {
		e.logger.Error("市价买入失败",
			zap.String("symbol", opp.Symbol),
			zap.Float64("quote_amount", quoteAmount),
			zap.Error(err),
		)
		e.recorder.RecordError(ctx, "市价买入失败", err, map[string]interface{}{
			"symbol":       opp.Symbol,
			"quote_amount": quoteAmount,
		})
		return
	}

	now := e.nowFn()
	position := ledger.Position{
		Symbol:     opp.Symbol,
		Quantity:   fill.Quantity,
		EntryPrice: fill.Price,
		EntryTime:  now,
		StopLoss:   fill.Price * (1 - e.cfg.StopLossRate),
		TakeProfit: fill.Price * (1 + e.cfg.TakeProfitRate),
		CostBasis:  fill.Cost,
		EntryFee:   fill.Fee,
	}
	if err := e.book.Open(opp.Symbol, position); err != nil {
		// 成交已发生但登记失败，这是最严重的不一致，必须告警。
		e.logger.Error("持仓登记失败，成交已发生",
			zap.String("symbol", opp.Symbol),
			zap.String("order_id", fill.OrderID),
			zap.Error(err),
		)
		e.recorder.RecordError(ctx, "持仓登记失败", err, map[string]interface{}{
			"symbol":   opp.Symbol,
			"order_id": fill.OrderID,
		})
		return
	}

	e.noteOpen(opp.Symbol, fill.Fee, now)

	e.logger.Info("开仓成功",
		zap.String("symbol", opp.Symbol),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("cost", fill.Cost),
		zap.Float64("stop_loss", position.StopLoss),
		zap.Float64("take_profit", position.TakeProfit),
		zap.Float64("confidence", opp.Confidence),
	)

	entry := journal.Entry{
		Timestamp:    now.UTC(),
		Side:         journal.SideBuy,
		Symbol:       opp.Symbol,
		OrderID:      fill.OrderID,
		Quantity:     fill.Quantity,
		Price:        fill.Price,
		Cost:         fill.Cost,
		Fee:          fill.Fee,
		BalanceAfter: balance.FreeQuote - fill.Cost,
	}
	if err := e.journal.Append(entry); err != nil {
		e.logger.Warn("写入成交流水失败", zap.String("symbol", opp.Symbol), zap.Error(err))
	}
	e.recorder.RecordTrade(ctx, entry, opp.Reason)
}

// closePosition 执行一次市价卖出并注销持仓。卖出失败时总账保持不变，
// 同一退出条件下个周期仍会命中，平仓因此具备重试语义。
func (e *Engine) closePosition(ctx context.Context, position ledger.Position, reason ExitReason) error {
	fill, err := e.gateway.PlaceMarketSell(ctx, position.Symbol, position.Quantity)
	if err != nil {
		e.recorder.RecordError(ctx, "市价卖出失败", err, map[string]interface{}{
			"symbol": position.Symbol,
			"reason": reason.String(),
		})
		return fmt.Errorf("市价卖出 %s 失败: %w", position.Symbol, err)
	}

	closed, err := e.book.Close(position.Symbol)
	if err != nil {
		// 卖出已成交但总账中不存在，只能告警后继续。
		e.logger.Error("注销持仓失败，卖出已成交",
			zap.String("symbol", position.Symbol),
			zap.String("order_id", fill.OrderID),
			zap.Error(err),
		)
		closed = position
	}

	netPnl := fill.Cost - closed.CostBasis - (closed.EntryFee + fill.Fee)
	pnlPct := 0.0
	if closed.CostBasis > 0 {
		pnlPct = netPnl / closed.CostBasis * 100
	}

	e.noteClose(fill.Fee, netPnl)

	outcome := "亏损"
	if netPnl >= 0 {
		outcome = "盈利"
	}
	e.logger.Info("平仓成功",
		zap.String("symbol", position.Symbol),
		zap.String("reason", reason.String()),
		zap.String("outcome", outcome),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("entry_price", closed.EntryPrice),
		zap.Float64("exit_price", fill.Price),
		zap.Float64("net_pnl", netPnl),
		zap.Float64("pnl_pct", pnlPct),
	)

	entry := journal.Entry{
		Timestamp:  e.nowFn().UTC(),
		Side:       journal.SideSell,
		Symbol:     position.Symbol,
		OrderID:    fill.OrderID,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Cost:       fill.Cost,
		Fee:        fill.Fee,
		PnL:        netPnl,
		PnLPercent: pnlPct,
	}
	if balance, balErr := e.gateway.FetchBalance(ctx); balErr == nil {
		entry.BalanceAfter = balance.FreeQuote
	} else {
		e.logger.Warn("平仓后获取余额失败", zap.Error(balErr))
	}
	if err := e.journal.Append(entry); err != nil {
		e.logger.Warn("写入成交流水失败", zap.String("symbol", position.Symbol), zap.Error(err))
	}
	e.recorder.RecordTrade(ctx, entry, reason.String())

	return nil
}
