package exchange

import "time"

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Fill 为市价单成交回执。
type Fill struct {
	OrderID  string
	Symbol   string
	Quantity float64
	Price    float64
	Cost     float64
	Fee      float64
}

// Balance 描述账户计价货币余额。
type Balance struct {
	FreeQuote  float64
	TotalQuote float64
	Timestamp  time.Time
}

// Valuation 聚合账户余额与持仓标的最新价格，用于周期性估值。
type Valuation struct {
	Balance Balance
	Prices  map[string]float64
}
