package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/blackwell-systems/hooknotify/internal/queue"
)

// Telegram sends the text rendering of a notification to one chat.
type Telegram struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

// NewTelegram creates a Telegram sender. The bot is created on first send.
func NewTelegram(token string, chatID int64, timeout time.Duration) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		token:    token,
		chatID:   chatID,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t *Telegram) botAPI() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	if t.token == "" {
		return nil, errors.New("telegram token not configured")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, fmt.Errorf("telegram init failed: %w", err)
	}
	t.bot = bot
	return bot, nil
}

// Send posts n.Body.Text() to the configured chat.
func (t *Telegram) Send(ctx context.Context, n *queue.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.chatID == 0 {
		return errors.New("telegram chat_id not configured")
	}
	if n.Body == nil {
		return errors.New("empty payload")
	}

	bot, err := t.botAPI()
	if err != nil {
		return err
	}
	if _, err := bot.Send(tgbotapi.NewMessage(t.chatID, n.Body.Text())); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
