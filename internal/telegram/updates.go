package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/dtf-relay-bot/internal/domain"
)

// Handler consumes one inbound message.
type Handler func(ctx context.Context, msg domain.Message)

// Poller is the part of *tgbotapi.BotAPI used for long polling.
type Poller interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// ToMessage reduces an update to a domain.Message. Updates without a text
// message (edits, callbacks, media without caption) report false.
func ToMessage(u tgbotapi.Update) (domain.Message, bool) {
	m := u.Message
	if m == nil {
		m = u.ChannelPost
	}
	if m == nil || m.Chat == nil {
		return domain.Message{}, false
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, false
	}
	out := domain.Message{
		ChatID:    m.Chat.ID,
		MessageID: m.MessageID,
		Text:      text,
	}
	if m.From != nil {
		out.UserID = m.From.ID
	}
	return out, true
}

// Poll long-polls updates and calls handle for every text message until ctx
// is cancelled. handle is called on the polling goroutine; it must not block
// for long.
func Poll(ctx context.Context, bot Poller, timeout time.Duration, handle Handler) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = int(timeout / time.Second)
	cfg.AllowedUpdates = []string{"message", "channel_post"}

	updates := bot.GetUpdatesChan(cfg)
	log.Info().Int("timeout_s", cfg.Timeout).Msg("polling for updates")

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if msg, ok := ToMessage(u); ok {
				handle(ctx, msg)
			}
		}
	}
}

// DecodeUpdate parses a webhook request body.
func DecodeUpdate(r io.Reader) (tgbotapi.Update, error) {
	var u tgbotapi.Update
	if err := json.NewDecoder(r).Decode(&u); err != nil {
		return u, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// SecretTokenHeader carries the webhook secret on every update Telegram posts.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// Webhooker is the part of *tgbotapi.BotAPI used to manage the webhook.
type Webhooker interface {
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
}

// SetWebhook registers rawURL with Telegram together with secret, which
// Telegram then sends back in SecretTokenHeader. tgbotapi's WebhookConfig
// has no secret_token field, so the call is made with raw params.
func SetWebhook(bot Webhooker, rawURL, secret string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("build webhook: invalid url %q", rawURL)
	}
	params := tgbotapi.Params{"url": u.String()}
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message", "channel_post"}); err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook removes any webhook so long polling can be used.
func DeleteWebhook(bot Webhooker) error {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
