package monitor

import (
	"time"

	"tradebot/internal/journal"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventTrade  EventType = "trade"
	EventStatus EventType = "status"
	EventSignal EventType = "signal"
	EventError  EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TradePayload 记录一笔成交及其触发原因。
type TradePayload struct {
	Entry  journal.Entry `json:"entry"`
	Reason string        `json:"reason"`
}

// SignalPayload 记录一次信号评估结论。
type SignalPayload struct {
	Symbol     string  `json:"symbol"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
