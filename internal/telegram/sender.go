// Package telegram adapts go-telegram-bot-api to the bot's domain types: it
// sends videos and animations (by URL or by cached file id) and turns
// incoming updates into domain.Message values, from long polling or from a
// webhook.
package telegram

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/dtf-relay-bot/internal/domain"
)

// ErrNoFileHandle is returned when Telegram accepted a send but reported
// neither a video nor an animation with a file id.
var ErrNoFileHandle = errors.New("telegram returned no media file handle")

// BotAPI is the part of *tgbotapi.BotAPI the Sender needs.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers media to chats.
type Sender struct {
	bot BotAPI
}

// NewSender wraps bot.
func NewSender(bot BotAPI) *Sender {
	return &Sender{bot: bot}
}

func requestFile(f domain.InputFile) tgbotapi.RequestFileData {
	if f.IsCached() {
		return tgbotapi.FileID(f.FileID)
	}
	return tgbotapi.FileURL(f.URL)
}

// SendVideo sends f to chatID as a video. Telegram may deliver a URL
// upload as an animation; the returned SentMedia says which it was.
func (s *Sender) SendVideo(ctx context.Context, chatID int64, f domain.InputFile, caption string) (*domain.SentMedia, error) {
	_, span := otel.Tracer("telegram/Sender").Start(ctx, "SendVideo",
		trace.WithAttributes(
			attribute.Int64("chat.id", chatID),
			attribute.Bool("media.cached", f.IsCached()),
		),
	)
	defer span.End()

	cfg := tgbotapi.NewVideo(chatID, requestFile(f))
	cfg.Caption = caption
	msg, err := s.bot.Send(cfg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("send video: %w", err)
	}
	return sentMedia(msg)
}

// SendAnimation sends f to chatID as an animation.
func (s *Sender) SendAnimation(ctx context.Context, chatID int64, f domain.InputFile, caption string) (*domain.SentMedia, error) {
	_, span := otel.Tracer("telegram/Sender").Start(ctx, "SendAnimation",
		trace.WithAttributes(
			attribute.Int64("chat.id", chatID),
			attribute.Bool("media.cached", f.IsCached()),
		),
	)
	defer span.End()

	cfg := tgbotapi.NewAnimation(chatID, requestFile(f))
	cfg.Caption = caption
	msg, err := s.bot.Send(cfg)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("send animation: %w", err)
	}
	return sentMedia(msg)
}

// sentMedia classifies the reply: a definite video object means video,
// anything else is treated as an animation.
func sentMedia(msg tgbotapi.Message) (*domain.SentMedia, error) {
	out := &domain.SentMedia{Kind: domain.KindAnimation, MessageID: msg.MessageID}
	switch {
	case msg.Video != nil:
		out.Kind = domain.KindVideo
		out.FileID = msg.Video.FileID
		out.FileUniqueID = msg.Video.FileUniqueID
	case msg.Animation != nil:
		out.FileID = msg.Animation.FileID
		out.FileUniqueID = msg.Animation.FileUniqueID
	case msg.Document != nil:
		out.FileID = msg.Document.FileID
		out.FileUniqueID = msg.Document.FileUniqueID
	}
	if out.FileID == "" {
		return out, ErrNoFileHandle
	}
	return out, nil
}
