package exchange

import (
	"errors"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrNotConnected 表示尚未完成交易所连接。
	ErrNotConnected = errors.New("exchange not connected")
	// ErrMaintenance 表示交易所处于维护状态，需要上层跳过交易。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrPriceUnavailable 表示当前无法获取有效价格。
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrInsufficientFunds 表示余额不足以完成委托。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInvalidOrder 表示委托参数被交易所拒绝。
	ErrInvalidOrder = errors.New("invalid order")
	// ErrAuth 表示凭证无效或权限不足。
	ErrAuth = errors.New("authentication failed")
)

// Normalize 将 ccxt 异常映射为本地错误分类。
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var ccxtErr *ccxt.Error
	if !errors.As(err, &ccxtErr) {
		return err
	}

	message := strings.TrimSpace(ccxtErr.Message)

	switch ccxtErr.Type {
	case ccxt.InsufficientFundsErrType:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, message)
	case ccxt.InvalidOrderErrType:
		return fmt.Errorf("%w: %s", ErrInvalidOrder, message)
	case ccxt.AuthenticationErrorErrType:
		return fmt.Errorf("%w: %s", ErrAuth, message)
	case ccxt.OnMaintenanceErrType:
		if message == "" {
			message = "exchange under maintenance"
		}
		return fmt.Errorf("%w: %s", ErrMaintenance, message)
	default:
		return err
	}
}

// IsRetryable 判断错误是否可重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	return false
}
