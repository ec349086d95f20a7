package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"tradebot/internal/config"
	"tradebot/internal/exchange"
	"tradebot/internal/indicator"
)

const advisorPromptTemplate = `你是一名加密货币现货短线交易顾问。下面是 %s 最近K线的关键指标：

- 最新收盘价: %.6f
- RSI(14): %.2f
- SMA(20): %.6f
- 成交量/20期均量: %.2f
- MACD(12,26,9): %.6f (signal %.6f)

请判断当前是否适合开多、平仓或观望，只输出如下JSON，不要附加其他文字：
{"verdict": "BUY|SELL|WAIT", "confidence": 0.0, "reason": "一句话理由"}

confidence 必须位于[0,1]，只有动量与量能同时确认时才给出 BUY。`

// AdvisorOracle 通过大模型给出信号结论，接口与规则信号源一致。
type AdvisorOracle struct {
	cfg    config.OpenAIConfig
	calc   *indicator.Calculator
	logger *zap.Logger
	sdk    *openai.Client
}

// NewAdvisorOracle 使用给定配置创建大模型信号源。
func NewAdvisorOracle(cfg config.OpenAIConfig, calc *indicator.Calculator, logger *zap.Logger) (*AdvisorOracle, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("signal: openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("signal: openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &AdvisorOracle{
		cfg:    cfg,
		calc:   calc,
		logger: logger,
		sdk:    openai.NewClientWithConfig(clientCfg),
	}, nil
}

var _ Oracle = (*AdvisorOracle)(nil)

// Evaluate 以指标摘要构造提示词并解析模型回复。
func (o *AdvisorOracle) Evaluate(ctx context.Context, symbol string, candles []exchange.Candle) (Report, error) {
	if len(candles) < MinBars {
		return Report{
			Verdict:    VerdictWait,
			Confidence: 0,
			Reason:     "数据不足",
		}, nil
	}

	result, err := o.calc.Compute(symbol, candles)
	if err != nil {
		return Report{}, err
	}

	metrics := Metrics{
		Price:       result.Close,
		RSI:         result.RSI,
		SMA20:       result.SMA20,
		VolumeRatio: result.Volume.Ratio,
		MACD:        result.MACD.Value,
		MACDSignal:  result.MACD.Signal,
	}

	prompt := fmt.Sprintf(advisorPromptTemplate,
		symbol,
		metrics.Price,
		metrics.RSI,
		metrics.SMA20,
		metrics.VolumeRatio,
		metrics.MACD,
		metrics.MACDSignal,
	)

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	response, err := o.sdk.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: o.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		return Report{}, fmt.Errorf("调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return Report{}, errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	report, err := parseReport(rawContent)
	if err != nil {
		o.logger.Error("解析模型信号失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Report{}, err
	}

	report.Metrics = metrics
	return report, nil
}

func parseReport(content string) (Report, error) {
	payload, err := extractJSON(content)
	if err != nil {
		return Report{}, err
	}

	var report Report
	if err = json.Unmarshal(payload, &report); err != nil {
		return Report{}, fmt.Errorf("解析信号JSON失败: %w", err)
	}

	report.Verdict = Verdict(strings.ToUpper(strings.TrimSpace(string(report.Verdict))))
	switch report.Verdict {
	case VerdictBuy, VerdictSell, VerdictWait:
	default:
		return Report{}, fmt.Errorf("verdict 字段取值非法: %s", report.Verdict)
	}
	if report.Confidence < 0 || report.Confidence > 1 {
		return Report{}, fmt.Errorf("confidence 必须位于[0,1]，当前为 %f", report.Confidence)
	}

	return report, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
