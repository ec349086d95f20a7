package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Side 表示成交方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Entry 为一笔成交流水，开仓时 PnL 相关字段为 0。
type Entry struct {
	Timestamp    time.Time `json:"timestamp"`
	Side         Side      `json:"side"`
	Symbol       string    `json:"symbol"`
	OrderID      string    `json:"order_id"`
	Quantity     float64   `json:"quantity"`
	Price        float64   `json:"price"`
	Cost         float64   `json:"cost"`
	Fee          float64   `json:"fee"`
	PnL          float64   `json:"pnl"`
	PnLPercent   float64   `json:"pnl_percent"`
	BalanceAfter float64   `json:"balance_after"`
}

// Writer 将成交流水以 JSON 行的形式追加到按日切分的文件中。
type Writer struct {
	mu     sync.Mutex
	dir    string
	logger *zap.Logger
	nowFn  func() time.Time
}

// NewWriter 创建流水记录器并确保目录存在。
func NewWriter(dir string, logger *zap.Logger) (*Writer, error) {
	if dir == "" {
		return nil, fmt.Errorf("journal: 目录不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: 创建目录 %q 失败: %w", dir, err)
	}

	return &Writer{
		dir:    dir,
		logger: logger,
		nowFn:  time.Now,
	}, nil
}

// Append 追加一条流水记录。写入失败只记录日志，不影响交易流程。
func (w *Writer) Append(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = w.nowFn().UTC()
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("journal: 序列化流水失败: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.filePath(entry.Timestamp)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("journal: 打开流水文件失败: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			w.logger.Warn("关闭流水文件失败", zap.Error(closeErr))
		}
	}()

	if _, err := file.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("journal: 写入流水失败: %w", err)
	}

	return nil
}

func (w *Writer) filePath(ts time.Time) string {
	name := fmt.Sprintf("trades_%s.json", ts.UTC().Format("20060102"))
	return filepath.Join(w.dir, name)
}
