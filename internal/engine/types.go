package engine

import (
	"context"
	"time"

	"tradebot/internal/exchange"
	"tradebot/internal/journal"
	"tradebot/internal/ledger"
)

// State 表示调度器生命周期状态。
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

// String 返回状态名称。
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// ExitReason 为封闭的退出原因枚举，按优先级排列。
type ExitReason int

const (
	ExitTakeProfit ExitReason = iota + 1
	ExitStopLoss
	ExitTimeStop
	ExitSignal
)

// String 返回流水与展示层使用的原因标签。
func (r ExitReason) String() string {
	switch r {
	case ExitTakeProfit:
		return "TAKE_PROFIT"
	case ExitStopLoss:
		return "STOP_LOSS"
	case ExitTimeStop:
		return "TIME_STOP"
	case ExitSignal:
		return "SIGNAL_EXIT"
	default:
		return "UNKNOWN"
	}
}

// Opportunity 为单轮扫描中一个符合开仓条件的标的，周期结束即弃。
type Opportunity struct {
	Symbol     string
	Confidence float64
	Reason     string
}

// Status 为每个周期结束时产出的状态快照，持仓为独立副本。
type Status struct {
	Timestamp         time.Time                  `json:"timestamp"`
	Running           bool                       `json:"running"`
	FreeBalance       float64                    `json:"free_balance"`
	TotalAccountValue float64                    `json:"total_account_value"`
	PositionsValue    float64                    `json:"positions_value"`
	UnrealizedPnL     float64                    `json:"unrealized_pnl"`
	RealizedPnL       float64                    `json:"realized_pnl"`
	TotalPnL          float64                    `json:"total_pnl"`
	ActivePositions   int                        `json:"active_positions"`
	TradesToday       int                        `json:"trades_today"`
	TotalFees         float64                    `json:"total_fees"`
	CyclesCompleted   uint64                     `json:"cycles_completed"`
	Positions         map[string]ledger.Position `json:"positions"`
}

// StatusFunc 为展示层回调，收到的是不可变副本。
type StatusFunc func(Status)

// MarketGateway 抽象交易所能力，由 exchange.Client 实现。
type MarketGateway interface {
	FetchBalance(ctx context.Context) (exchange.Balance, error)
	FetchPrice(ctx context.Context, symbol string) (float64, error)
	FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]exchange.Candle, error)
	PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (exchange.Fill, error)
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (exchange.Fill, error)
}

// Valuer 提供账户估值，由 exchange.AccountService 实现。
type Valuer interface {
	FetchValuation(ctx context.Context, symbols []string) (exchange.Valuation, error)
}

// TradeJournal 抽象成交流水输出。
type TradeJournal interface {
	Append(entry journal.Entry) error
}

// Recorder 抽象监控事件落库，由 monitor.Service 实现。
type Recorder interface {
	RecordTrade(ctx context.Context, entry journal.Entry, reason string)
	RecordSignal(ctx context.Context, symbol, verdict string, confidence float64, reason string)
	RecordStatus(ctx context.Context, status interface{})
	RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{})
}

type noopRecorder struct{}

func (noopRecorder) RecordTrade(context.Context, journal.Entry, string) {}

func (noopRecorder) RecordSignal(context.Context, string, string, float64, string) {}

func (noopRecorder) RecordStatus(context.Context, interface{}) {}

func (noopRecorder) RecordError(context.Context, string, error, map[string]interface{}) {}
