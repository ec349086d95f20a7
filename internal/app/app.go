package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/engine"
	"tradebot/internal/exchange"
	"tradebot/internal/indicator"
	"tradebot/internal/journal"
	"tradebot/internal/monitor"
	"tradebot/internal/signal"
	"tradebot/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store

	statusMu   sync.Mutex
	lastStatus *engine.Status
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装全部组件并运行交易引擎，阻塞直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("pairs", a.cfg.Trading.Pairs),
	)

	client, err := exchange.NewClient(a.cfg.Exchange, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("连接交易所失败: %w", err)
	}

	account := exchange.NewAccountService(client, a.logger)

	oracle, err := a.buildOracle()
	if err != nil {
		return err
	}

	journalWriter, err := journal.NewWriter(a.cfg.Journal.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("初始化成交流水失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化监控服务失败: %w", err)
	}

	eng, err := engine.New(a.cfg.Trading, engine.Deps{
		Gateway:    client,
		Valuer:     account,
		Oracle:     oracle,
		Journal:    journalWriter,
		Recorder:   monitorSvc,
		StatusFunc: a.acceptStatus,
		Logger:     a.logger,
	})
	if err != nil {
		return fmt.Errorf("初始化交易引擎失败: %w", err)
	}

	if a.cfg.Monitor.Enabled {
		if err := a.startMonitorServer(ctx, monitorSvc, a.cfg.Monitor.Port); err != nil {
			return err
		}
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("启动交易引擎失败: %w", err)
	}

	<-ctx.Done()

	a.logger.Info("系统收到退出信号，正在停止")
	eng.Stop()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	return nil
}

// buildOracle 按配置选择信号来源。
func (a *App) buildOracle() (signal.Oracle, error) {
	calc := indicator.NewCalculator()

	switch strings.ToLower(a.cfg.Signal.Provider) {
	case "momentum":
		return signal.NewMomentumOracle(calc, a.logger), nil
	case "openai":
		oracle, err := signal.NewAdvisorOracle(a.cfg.Signal.OpenAI, calc, a.logger)
		if err != nil {
			return nil, fmt.Errorf("初始化大模型信号失败: %w", err)
		}
		return oracle, nil
	default:
		return nil, fmt.Errorf("不支持的信号来源 %q", a.cfg.Signal.Provider)
	}
}

// acceptStatus 保存最近一次状态快照供监控接口读取。
func (a *App) acceptStatus(status engine.Status) {
	a.statusMu.Lock()
	a.lastStatus = &status
	a.statusMu.Unlock()
}

func (a *App) latestStatus() (engine.Status, bool) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()

	if a.lastStatus == nil {
		return engine.Status{}, false
	}
	return *a.lastStatus, true
}
