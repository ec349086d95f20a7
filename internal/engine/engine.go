package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/ledger"
	"tradebot/internal/signal"
)

// Deps 为引擎外部依赖。
type Deps struct {
	Gateway    MarketGateway
	Valuer     Valuer
	Oracle     signal.Oracle
	Journal    TradeJournal
	Recorder   Recorder
	StatusFunc StatusFunc
	Logger     *zap.Logger
}

// Engine 驱动周期性的退出评估与机会扫描。
// 唯一的共享可变状态是持仓总账与计数器，均由各自的互斥锁保护；
// 后台工作协程串行执行全部交易所调用。
type Engine struct {
	cfg      config.TradingConfig
	gateway  MarketGateway
	valuer   Valuer
	oracle   signal.Oracle
	journal  TradeJournal
	recorder Recorder
	statusFn StatusFunc
	logger   *zap.Logger
	book     *ledger.Book

	nowFn func() time.Time

	runMu  sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	stateMu       sync.Mutex
	startingValue float64
	tradesToday   int
	totalFees     float64
	realizedPnL   float64
	lastTradeAt   map[string]time.Time
	cycles        uint64
}

// New 创建交易引擎，配置在构造后不可变。
func New(cfg config.TradingConfig, deps Deps) (*Engine, error) {
	if deps.Gateway == nil {
		return nil, errors.New("engine: gateway 不能为空")
	}
	if deps.Valuer == nil {
		return nil, errors.New("engine: valuer 不能为空")
	}
	if deps.Oracle == nil {
		return nil, errors.New("engine: oracle 不能为空")
	}
	if deps.Journal == nil {
		return nil, errors.New("engine: journal 不能为空")
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.TakeProfitRate <= 0 || cfg.StopLossRate <= 0 {
		return nil, errors.New("engine: 止盈止损比例必须为正")
	}
	if cfg.PositionSizeFraction <= 0 || cfg.PositionSizeFraction > 1 {
		return nil, errors.New("engine: position_size_fraction 必须位于(0,1]")
	}
	if cfg.MaxPositions < 1 {
		return nil, errors.New("engine: max_positions 必须大于等于1")
	}

	return &Engine{
		cfg:         cfg,
		gateway:     deps.Gateway,
		valuer:      deps.Valuer,
		oracle:      deps.Oracle,
		journal:     deps.Journal,
		recorder:    deps.Recorder,
		statusFn:    deps.StatusFunc,
		logger:      deps.Logger,
		book:        ledger.NewBook(cfg.MaxPositions),
		nowFn:       time.Now,
		lastTradeAt: make(map[string]time.Time),
	}, nil
}

// State 返回当前调度状态。
func (e *Engine) State() State {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.state
}

// Start 启动后台工作协程。重复启动是带告警的空操作。
// 启动时以当前可用余额为基准重置本次会话的全部统计。
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	if e.state != StateIdle {
		e.runMu.Unlock()
		e.logger.Warn("引擎已在运行，忽略重复启动", zap.String("state", e.state.String()))
		return nil
	}

	balance, err := e.gateway.FetchBalance(ctx)
	if err != nil {
		e.runMu.Unlock()
		return fmt.Errorf("engine: 获取初始余额失败: %w", err)
	}

	e.book.Reset()

	e.stateMu.Lock()
	e.startingValue = balance.FreeQuote
	e.tradesToday = 0
	e.totalFees = 0
	e.realizedPnL = 0
	e.cycles = 0
	e.lastTradeAt = make(map[string]time.Time)
	e.stateMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.state = StateRunning
	e.runMu.Unlock()

	e.logger.Info("交易引擎启动",
		zap.Float64("starting_balance", balance.FreeQuote),
		zap.Int("pairs", len(e.cfg.Pairs)),
		zap.Duration("cycle_interval", e.cfg.CycleInterval),
	)
	e.logger.Info("策略收益参数",
		zap.Float64("take_profit_pct", e.cfg.TakeProfitRate*100),
		zap.Float64("stop_loss_pct", e.cfg.StopLossRate*100),
		zap.Float64("risk_reward_ratio", e.cfg.TakeProfitRate/e.cfg.StopLossRate),
		zap.Float64("required_win_rate_pct",
			e.cfg.StopLossRate/(e.cfg.TakeProfitRate+e.cfg.StopLossRate)*100),
	)

	go e.run(runCtx)
	return nil
}

// Stop 请求停止并阻塞等待工作协程退出。
// 已在途的交易所调用会先执行完毕，停机延迟以一次网络调用为界。
func (e *Engine) Stop() {
	e.runMu.Lock()
	if e.state != StateRunning {
		e.runMu.Unlock()
		return
	}
	e.state = StateStopping
	cancel := e.cancel
	done := e.done
	e.runMu.Unlock()

	cancel()
	<-done

	e.stateMu.Lock()
	starting := e.startingValue
	realized := e.realizedPnL
	trades := e.tradesToday
	e.stateMu.Unlock()

	e.logger.Info("交易引擎已停止",
		zap.Float64("starting_balance", starting),
		zap.Float64("realized_pnl", realized),
		zap.Int("trades", trades),
	)
}

func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.runMu.Lock()
		e.state = StateIdle
		done := e.done
		e.runMu.Unlock()
		close(done)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		cycleStart := e.nowFn()
		err := e.cycle(ctx)
		elapsed := e.nowFn().Sub(cycleStart)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			e.logger.Error("交易周期执行失败，退避后继续", zap.Error(err), zap.Duration("elapsed", elapsed))
			e.recorder.RecordError(ctx, "交易周期执行失败", err, nil)
			if !e.wait(ctx, e.cfg.CycleErrorBackoff) {
				return
			}
			continue
		}

		e.logger.Info("交易周期完成",
			zap.Duration("elapsed", elapsed),
			zap.Uint64("cycles", e.cyclesCompleted()),
		)

		remaining := e.cfg.CycleInterval - elapsed
		if remaining < 0 {
			remaining = 0
		}
		if !e.wait(ctx, remaining) {
			return
		}
	}
}

// cycle 执行一轮退出评估、机会扫描与状态产出。
// 周期内的 panic 被转为错误交给调度器退避处理，循环本身不会终止。
func (e *Engine) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: 周期内发生 panic: %v", r)
		}
	}()

	e.managePositions(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	e.scan(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	status := e.buildStatus(ctx)
	e.recorder.RecordStatus(ctx, status)
	if e.statusFn != nil {
		e.statusFn(status)
	}

	e.stateMu.Lock()
	e.cycles++
	e.stateMu.Unlock()

	return nil
}

// wait 可中断地等待给定时长，返回 false 表示收到取消信号。
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}

func (e *Engine) cyclesCompleted() uint64 {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.cycles
}

// inCooldown 返回该标的是否仍处于再交易冷却期内。
func (e *Engine) inCooldown(symbol string, now time.Time) bool {
	if e.cfg.MinTimeBetweenTrades <= 0 {
		return false
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	last, ok := e.lastTradeAt[symbol]
	if !ok {
		return false
	}
	return now.Sub(last) < e.cfg.MinTimeBetweenTrades
}

func (e *Engine) noteOpen(symbol string, fee float64, at time.Time) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.lastTradeAt[symbol] = at
	e.tradesToday++
	e.totalFees += fee
}

func (e *Engine) noteClose(fee, netPnl float64) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.tradesToday++
	e.totalFees += fee
	e.realizedPnL += netPnl
}
