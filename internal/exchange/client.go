package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"tradebot/internal/config"
)

const quoteCurrency = "USDT"

// Client 负责与交易所交互，承担限速、重试与错误归一化。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binance

	mu        sync.Mutex
	connected bool
	lastCall  time.Time
}

// NewClient 构造 Binance 现货客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "spot",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinance(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Connect 加载市场元数据并用余额查询验证凭证。
func (c *Client) Connect(ctx context.Context) error {
	err := c.callWithRetry(ctx, "load_markets", func() error {
		_, loadErr := c.exchange.LoadMarkets()
		return loadErr
	})
	if err != nil {
		return fmt.Errorf("加载市场元数据失败: %w", err)
	}

	err = c.callWithRetry(ctx, "verify_credentials", func() error {
		_, fetchErr := c.exchange.FetchBalance()
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("验证交易所凭证失败: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Info("交易所连接就绪",
		zap.String("exchange", c.cfg.Name),
		zap.Bool("sandbox", c.cfg.UseSandbox),
	)
	return nil
}

func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}

// throttle 在相邻两次交易所调用之间强制最小间隔。
func (c *Client) throttle() {
	delay := c.cfg.RateLimitDelay
	if delay <= 0 {
		return
	}

	c.mu.Lock()
	wait := delay - time.Since(c.lastCall)
	if wait > 0 {
		c.lastCall = time.Now().Add(wait)
		c.mu.Unlock()
		time.Sleep(wait)
		return
	}
	c.lastCall = time.Now()
	c.mu.Unlock()
}

// FetchBalance 获取计价货币的可用与总余额。
func (c *Client) FetchBalance(ctx context.Context) (Balance, error) {
	if err := c.ensureConnected(); err != nil {
		return Balance{}, err
	}

	var raw ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, fetchErr := c.exchange.FetchBalance()
		if fetchErr != nil {
			return fetchErr
		}
		raw = result
		return nil
	})
	if err != nil {
		return Balance{}, err
	}

	balance := Balance{Timestamp: time.Now().UTC()}
	if raw.Free != nil {
		if v, ok := raw.Free[quoteCurrency]; ok && v != nil {
			balance.FreeQuote = *v
		}
	}
	if raw.Total != nil {
		if v, ok := raw.Total[quoteCurrency]; ok && v != nil {
			balance.TotalQuote = *v
		}
	}

	return balance, nil
}

// FetchPrice 获取最新成交价，无有效价格时返回 ErrPriceUnavailable。
func (c *Client) FetchPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.ensureConnected(); err != nil {
		return 0, err
	}

	var ticker ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		result, fetchErr := c.exchange.FetchTicker(symbol)
		if fetchErr != nil {
			return fetchErr
		}
		ticker = result
		return nil
	})
	if err != nil {
		return 0, err
	}

	price := derefFloat(ticker.Last)
	if price <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}

	return price, nil
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]Candle, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		result, fetchErr := c.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if fetchErr != nil {
			return fetchErr
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		if item.Volume <= 0 {
			continue
		}
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// PlaceMarketBuy 以计价货币金额市价买入，返回成交回执。
// 下单不做自动重试，失败由调用方按周期粒度决定是否再次尝试。
func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, quoteAmount float64) (Fill, error) {
	if err := c.ensureConnected(); err != nil {
		return Fill{}, err
	}
	if quoteAmount <= 0 {
		return Fill{}, fmt.Errorf("%w: 买入金额必须为正", ErrInvalidOrder)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Fill{}, ctxErr
	}

	price, err := c.FetchPrice(ctx, symbol)
	if err != nil {
		return Fill{}, err
	}

	amount := quoteAmount / price

	c.throttle()
	order, err := c.exchange.CreateMarketOrder(symbol, "buy", amount)
	if err != nil {
		return Fill{}, Normalize(err)
	}

	fill, err := buildFill(symbol, order, price)
	if err != nil {
		return Fill{}, err
	}

	c.logger.Info("市价买入成交",
		zap.String("symbol", symbol),
		zap.String("order_id", fill.OrderID),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("cost", fill.Cost),
	)
	return fill, nil
}

// PlaceMarketSell 以基础货币数量市价卖出，返回成交回执。
func (c *Client) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (Fill, error) {
	if err := c.ensureConnected(); err != nil {
		return Fill{}, err
	}
	if quantity <= 0 {
		return Fill{}, fmt.Errorf("%w: 卖出数量必须为正", ErrInvalidOrder)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Fill{}, ctxErr
	}

	c.throttle()
	order, err := c.exchange.CreateMarketOrder(symbol, "sell", quantity)
	if err != nil {
		return Fill{}, Normalize(err)
	}

	fill, err := buildFill(symbol, order, 0)
	if err != nil {
		return Fill{}, err
	}

	c.logger.Info("市价卖出成交",
		zap.String("symbol", symbol),
		zap.String("order_id", fill.OrderID),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price),
		zap.Float64("proceeds", fill.Cost),
	)
	return fill, nil
}

// buildFill 将 ccxt 订单转换为成交回执，拒绝未成交订单。
func buildFill(symbol string, order ccxt.Order, fallbackPrice float64) (Fill, error) {
	filled := derefFloat(order.Filled)
	status := derefString(order.Status)
	if filled <= 0 && status != "closed" {
		return Fill{}, fmt.Errorf("%w: 订单未成交 status=%s", ErrInvalidOrder, status)
	}

	price := derefFloat(order.Average)
	if price <= 0 {
		price = fallbackPrice
	}

	cost := derefFloat(order.Cost)
	if cost <= 0 && price > 0 {
		cost = filled * price
	}

	fee := 0.0
	if order.Fee.Cost != nil {
		fee = *order.Fee.Cost
	}

	return Fill{
		OrderID:  derefString(order.Id),
		Symbol:   symbol,
		Quantity: filled,
		Price:    price,
		Cost:     cost,
		Fee:      fee,
	}, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		c.throttle()
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr := Normalize(err)
		retry := retryable(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRetryable(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
