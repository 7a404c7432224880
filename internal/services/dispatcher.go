// Package services – Dispatcher
//
// Dispatcher turns one inbound chat message into zero or more relays. It
// classifies the text, applies the per-chat rate limit to link messages,
// resolves media through the content API and hands each item to the relay
// service. Nothing is ever sent back to the chat on failure: every message
// ends in a Result that is passed to an Observer.

package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/dtf-relay-bot/internal/content"
	"github.com/tbourn/dtf-relay-bot/internal/domain"
)

// Outcome is the final state of a dispatched message.
type Outcome string

const (
	OutcomeIgnored     Outcome = "ignored"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeNoMedia     Outcome = "no_media"
	OutcomeEmptyCache  Outcome = "empty_cache"
	OutcomeRelayed     Outcome = "relayed"
	OutcomeFailed      Outcome = "failed"
)

// Result describes how a message was handled.
type Result struct {
	ChatID   int64
	Link     content.Link
	Outcome  Outcome
	Relayed  int
	Err      error
	Duration time.Duration
}

// Observer receives every Result.
type Observer interface {
	Observe(ctx context.Context, r Result)
}

// Fetcher resolves posts and comments. *content.Client implements it.
type Fetcher interface {
	FetchPost(ctx context.Context, postID string) (*content.Post, error)
	FetchComment(ctx context.Context, postID string, commentID int64) (*content.Comment, error)
}

// Relayer delivers media. *RelayService implements it.
type Relayer interface {
	Relay(ctx context.Context, req RelayRequest) error
	RelayRandom(ctx context.Context, chatID int64) error
}

// ChatLimiter decides whether a chat is sending links too fast.
// *ratelimit.UserLimiter implements it.
type ChatLimiter interface {
	LimitedChat(chatID int64) bool
}

// Dispatcher routes inbound messages.
type Dispatcher struct {
	Classifier content.Classifier
	Limiter    ChatLimiter
	Fetcher    Fetcher
	Relayer    Relayer
	Observer   Observer

	// PostDelay follows every item of a full-post relay.
	PostDelay time.Duration

	// Optional seams for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if d.Sleep != nil {
		return d.Sleep(ctx, dur)
	}
	if dur <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle processes msg and reports the Result to the Observer. It never
// returns an error; failures are carried in Result.Err.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.Message) Result {
	start := d.now()
	link := d.Classifier.Classify(msg.Text)

	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "Handle",
		trace.WithAttributes(
			attribute.Int64("chat.id", msg.ChatID),
			attribute.String("link.kind", link.Kind.String()),
		),
	)
	defer span.End()

	res := Result{ChatID: msg.ChatID, Link: link}
	switch link.Kind {
	case content.LinkComment, content.LinkPost:
		if d.Limiter != nil && d.Limiter.LimitedChat(msg.ChatID) {
			res.Outcome = OutcomeRateLimited
			break
		}
		if link.Kind == content.LinkComment {
			d.handleComment(ctx, msg.ChatID, link, &res)
		} else {
			d.handlePost(ctx, msg.ChatID, link, &res)
		}
	case content.LinkRandom:
		d.handleRandom(ctx, msg.ChatID, &res)
	default:
		res.Outcome = OutcomeIgnored
	}

	res.Duration = d.now().Sub(start)
	span.SetAttributes(
		attribute.String("outcome", string(res.Outcome)),
		attribute.Int("relayed", res.Relayed),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	if d.Observer != nil {
		d.Observer.Observe(ctx, res)
	}
	return res
}

func (d *Dispatcher) handleComment(ctx context.Context, chatID int64, link content.Link, res *Result) {
	c, err := d.Fetcher.FetchComment(ctx, link.PostID, link.CommentID)
	switch {
	case errors.Is(err, content.ErrCommentNotFound):
		res.Outcome = OutcomeNotFound
		return
	case errors.Is(err, content.ErrNoMedia):
		res.Outcome = OutcomeNoMedia
		return
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
		return
	}

	commentID := link.CommentID
	err = d.Relayer.Relay(ctx, RelayRequest{
		URL:       c.MediaURL,
		ChatID:    chatID,
		PostID:    link.PostID,
		Caption:   content.CleanCaption(c.Text),
		CommentID: &commentID,
	})
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return
	}
	res.Outcome, res.Relayed = OutcomeRelayed, 1
}

// handlePost relays every video of the post in document order, waiting
// PostDelay after each one. The first failure stops the remaining items.
func (d *Dispatcher) handlePost(ctx context.Context, chatID int64, link content.Link, res *Result) {
	p, err := d.Fetcher.FetchPost(ctx, link.PostID)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		return
	}
	urls := content.ExtractVideoURLs(p.HTML)
	if len(urls) == 0 {
		res.Outcome = OutcomeNoMedia
		return
	}

	caption := content.CleanCaption(p.Title)
	for _, u := range urls {
		err := d.Relayer.Relay(ctx, RelayRequest{
			URL:     u,
			ChatID:  chatID,
			PostID:  link.PostID,
			Caption: caption,
		})
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			return
		}
		res.Relayed++
		if err := d.sleep(ctx, d.PostDelay); err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			return
		}
	}
	res.Outcome = OutcomeRelayed
}

func (d *Dispatcher) handleRandom(ctx context.Context, chatID int64, res *Result) {
	err := d.Relayer.RelayRandom(ctx, chatID)
	switch {
	case errors.Is(err, ErrEmptyCache):
		res.Outcome, res.Err = OutcomeEmptyCache, err
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
	default:
		res.Outcome, res.Relayed = OutcomeRelayed, 1
	}
}
