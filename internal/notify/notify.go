package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"gtrader/internal/logger"
)

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier raises high-severity alerts. Every alert is logged at Error;
// Telegram delivery is added when a bot and chat are configured.
type Notifier struct {
	sender messageSender
	chatID int64
	log    *logger.Logger
}

func New(sender messageSender, chatID int64, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.Discard()
	}
	return &Notifier{sender: sender, chatID: chatID, log: log}
}

// NewTelegram builds a send-only bot. An empty token gives a log-only notifier.
func NewTelegram(token string, chatID int64, log *logger.Logger) (*Notifier, error) {
	if strings.TrimSpace(token) == "" || chatID == 0 {
		return New(nil, 0, log), nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return New(b, chatID, log), nil
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.sender != nil && n.chatID != 0
}

func (n *Notifier) Alert(ctx context.Context, title string, fields map[string]interface{}) error {
	if n == nil {
		return nil
	}
	n.log.WithComponent("notify").WithFields(fields).Error(title)

	if !n.Enabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := n.sender.Send(&tele.Chat{ID: n.chatID}, formatAlert(title, fields)); err != nil {
		n.log.WithComponent("notify").WithError(err).Warn("Не удалось отправить уведомление в Telegram.")
		return fmt.Errorf("telegram alert: %w", err)
	}
	return nil
}

func formatAlert(title string, fields map[string]interface{}) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys)+1)
	lines = append(lines, "⚠️ "+title)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %v", k, fields[k]))
	}
	return strings.Join(lines, "\n")
}
