package exchange

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type valuationClient interface {
	FetchBalance(ctx context.Context) (Balance, error)
	FetchPrice(ctx context.Context, symbol string) (float64, error)
}

// AccountService 聚合余额与持仓标的价格，供周期性估值使用。
// 并发发起的调用仍会经过客户端限速串行化，不会突破调用频率约束。
type AccountService struct {
	client valuationClient
	logger *zap.Logger
}

// NewAccountService 创建账户估值服务。
func NewAccountService(client valuationClient, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		client: client,
		logger: logger,
	}
}

// FetchValuation 拉取账户余额，并为给定标的获取最新价格。
// 单个标的价格获取失败只会缺席结果集，不会使整体估值失败。
func (s *AccountService) FetchValuation(ctx context.Context, symbols []string) (Valuation, error) {
	valuation := Valuation{
		Prices: make(map[string]float64, len(symbols)),
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		balance, err := s.client.FetchBalance(groupCtx)
		if err != nil {
			return err
		}
		mu.Lock()
		valuation.Balance = balance
		mu.Unlock()
		return nil
	})

	for _, symbol := range symbols {
		symbol := symbol
		group.Go(func() error {
			price, err := s.client.FetchPrice(groupCtx, symbol)
			if err != nil {
				s.logger.Warn("估值期间获取价格失败",
					zap.String("symbol", symbol),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			valuation.Prices[symbol] = price
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return Valuation{}, err
	}

	return valuation, nil
}
