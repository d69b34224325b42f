package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const telegramTimeout = 15 * time.Second

// Sender delivers a single message body to a destination chat id.
type Sender interface {
	Send(ctx context.Context, destination, body string) error
}

// TelegramSender sends messages via the Telegram Bot API.
type TelegramSender struct {
	http  *resty.Client
	token string
}

// NewTelegramSender builds a Sender for the given bot token.
func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		http:  resty.New().SetBaseURL("https://api.telegram.org").SetTimeout(telegramTimeout),
		token: token,
	}
}

// Send posts a sendMessage call for the given chat id.
func (t *TelegramSender) Send(ctx context.Context, destination, body string) error {
	resp, err := t.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"chat_id": destination,
			"text":    body,
		}).
		Post(fmt.Sprintf("/bot%s/sendMessage", t.token))
	if err != nil {
		return classifyReachability(err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
