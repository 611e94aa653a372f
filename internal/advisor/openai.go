package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"gtrader/internal/logger"
)

const systemPrompt = `You are the decision step of an automated crypto derivatives trader.
You receive a JSON market context with technical signals for candidate coins and the open trades.
Reply with exactly one JSON object and nothing else:
{"action":"buy|sell|hold","coin":"<one of the candidate coins>","conviction":"HIGH|MEDIUM|LOW","reasoning":"<one or two sentences>"}
Use "buy" to open a long and "sell" to open a short. Never pick a coin that already has an open trade.
Prefer "hold" when signals are weak, conflicting or low confidence.`

type Config struct {
	ApiKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
}

type chatFunc func(ctx context.Context, system, user string) (string, error)

// OpenAI asks a chat completion model for one decision per cycle.
type OpenAI struct {
	model   string
	timeout time.Duration
	chat    chatFunc
	log     *logrus.Entry
}

func NewOpenAI(cfg Config, log *logger.Logger) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if log == nil {
		log = logger.Discard()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.ApiKey),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	a := &OpenAI{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		log:     log.WithComponent("advisor").WithField("model", cfg.Model),
	}
	temperature := cfg.Temperature
	a.chat = func(ctx context.Context, system, user string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(a.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			Temperature: openai.Float(temperature),
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
		}
		return resp.Choices[0].Message.Content, nil
	}
	return a
}

// Decide returns an error for transport failures and malformed replies; the
// caller holds in both cases.
func (a *OpenAI) Decide(ctx context.Context, mc MarketContext) (Decision, error) {
	prompt, err := BuildPrompt(mc)
	if err != nil {
		return Decision{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	reply, err := a.chat(ctx, systemPrompt, prompt)
	if err != nil {
		a.log.WithError(err).Warn("Запрос к модели завершился ошибкой.")
		return Decision{}, fmt.Errorf("chat completion: %w", err)
	}

	decision, err := ParseDecision(reply, mc.Coins())
	if err != nil {
		a.log.WithError(err).WithField("reply", truncate(reply, 300)).Warn("Некорректный ответ модели.")
		return Decision{}, err
	}

	a.log.WithFields(logrus.Fields{
		"action":     decision.Action,
		"coin":       decision.Coin,
		"conviction": decision.Conviction,
		"took":       time.Since(start).Round(time.Millisecond).String(),
	}).Info("Получено решение модели.")
	return decision, nil
}

func BuildPrompt(mc MarketContext) (string, error) {
	payload, err := json.MarshalIndent(mc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode market context: %w", err)
	}
	var b strings.Builder
	b.WriteString("Market context:\n")
	b.Write(payload)
	b.WriteString("\nCandidate coins: ")
	b.WriteString(strings.Join(mc.Coins(), ", "))
	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
