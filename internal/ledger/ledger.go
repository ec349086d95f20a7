package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrAlreadyHeld 表示该标的已有持仓。
	ErrAlreadyHeld = errors.New("ledger: position already held")
	// ErrCapacityExceeded 表示持仓数量已达上限。
	ErrCapacityExceeded = errors.New("ledger: capacity exceeded")
	// ErrNotHeld 表示该标的不存在持仓。
	ErrNotHeld = errors.New("ledger: position not held")
)

// Position 为引擎开出的一笔持仓及其退出阈值。
// 持仓一经写入不做部分修改，只能整笔移除。
type Position struct {
	Symbol     string    `json:"symbol"`
	Quantity   float64   `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	CostBasis  float64   `json:"cost_basis"`
	EntryFee   float64   `json:"entry_fee"`
}

// Validate 校验持仓不变量。
func (p Position) Validate() error {
	if p.Symbol == "" {
		return errors.New("symbol 不能为空")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("quantity 必须为正，当前为 %f", p.Quantity)
	}
	if p.EntryPrice <= 0 {
		return fmt.Errorf("entry_price 必须为正，当前为 %f", p.EntryPrice)
	}
	if !(p.StopLoss < p.EntryPrice && p.EntryPrice < p.TakeProfit) {
		return fmt.Errorf("必须满足 stop_loss < entry_price < take_profit: %f / %f / %f",
			p.StopLoss, p.EntryPrice, p.TakeProfit)
	}
	return nil
}

// Book 为持仓总账，是后台工作线程与展示层之间唯一的共享状态。
// 全部访问经由互斥锁串行化，对外只暴露开仓、平仓与快照。
type Book struct {
	mu           sync.Mutex
	maxPositions int
	positions    map[string]Position
}

// NewBook 创建容量受限的持仓总账。
func NewBook(maxPositions int) *Book {
	if maxPositions < 1 {
		maxPositions = 1
	}
	return &Book{
		maxPositions: maxPositions,
		positions:    make(map[string]Position),
	}
}

// Open 写入新持仓。标的已持有返回 ErrAlreadyHeld，
// 容量已满返回 ErrCapacityExceeded，失败时状态不变。
func (b *Book) Open(symbol string, position Position) error {
	if err := position.Validate(); err != nil {
		return fmt.Errorf("ledger: 持仓非法: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[symbol]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, symbol)
	}
	if len(b.positions) >= b.maxPositions {
		return fmt.Errorf("%w: %d/%d", ErrCapacityExceeded, len(b.positions), b.maxPositions)
	}

	b.positions[symbol] = position
	return nil
}

// Close 移除并返回持仓，不存在时返回 ErrNotHeld。
func (b *Book) Close(symbol string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	position, ok := b.positions[symbol]
	if !ok {
		return Position{}, fmt.Errorf("%w: %s", ErrNotHeld, symbol)
	}

	delete(b.positions, symbol)
	return position, nil
}

// Reset 清空全部持仓，用于引擎启动时的会话重置。
func (b *Book) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make(map[string]Position)
}

// Get 返回指定标的的持仓副本。
func (b *Book) Get(symbol string) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	position, ok := b.positions[symbol]
	return position, ok
}

// Held 返回是否持有指定标的。
func (b *Book) Held(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.positions[symbol]
	return ok
}

// Len 返回当前持仓数量。
func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.positions)
}

// Snapshot 返回全部持仓的独立副本，读方不会观察到半更新状态。
func (b *Book) Snapshot() map[string]Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[string]Position, len(b.positions))
	for symbol, position := range b.positions {
		snapshot[symbol] = position
	}
	return snapshot
}
