// Package services – RelayService
//
// RelayService sends a media URL to a chat through the Telegram file cache:
// a URL already uploaded once is re-sent by file id, anything else is
// uploaded and recorded. It also implements the random command, which picks
// a cached item other than the chat's previous pick.
//
// Observability: public methods are OpenTelemetry-instrumented and every
// send is counted by source (cache or upload) and result.

package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/dtf-relay-bot/internal/domain"
	"github.com/tbourn/dtf-relay-bot/internal/repo"
	"github.com/tbourn/dtf-relay-bot/internal/state"
)

var relaySends = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_sends_total",
		Help: "Media sends by source (cache, upload) and result.",
	},
	[]string{"source", "result"},
)

func init() {
	prometheus.MustRegister(relaySends)
}

// MediaRepo is the cache persistence RelayService depends on.
// *repo.MediaStore implements it.
type MediaRepo interface {
	FindByURL(ctx context.Context, url string) (*domain.CachedMedia, error)
	ListExcept(ctx context.Context, url string) ([]domain.CachedMedia, error)
	Insert(ctx context.Context, m *domain.CachedMedia) error
	Touch(ctx context.Context, url string, now time.Time) error
}

// MediaSender delivers media to a chat. *telegram.Sender implements it.
type MediaSender interface {
	SendVideo(ctx context.Context, chatID int64, f domain.InputFile, caption string) (*domain.SentMedia, error)
	SendAnimation(ctx context.Context, chatID int64, f domain.InputFile, caption string) (*domain.SentMedia, error)
}

// RelayRequest names one media item to deliver.
type RelayRequest struct {
	URL       string
	ChatID    int64
	PostID    string
	Caption   string
	CommentID *int64
}

// RelayService coordinates the media cache and the chat transport.
type RelayService struct {
	Repo    MediaRepo
	Sender  MediaSender
	History state.HistoryStore

	// Optional seams; defaults are math/rand/v2 and time.Now.
	Rand func(n int) int
	Now  func() time.Time
}

// NewRelayService returns a RelayService with default seams.
func NewRelayService(r MediaRepo, s MediaSender, h state.HistoryStore) *RelayService {
	return &RelayService{Repo: r, Sender: s, History: h}
}

func (s *RelayService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RelayService) intn(n int) int {
	if s.Rand != nil {
		return s.Rand(n)
	}
	return rand.IntN(n)
}

// Relay delivers req.URL to req.ChatID. It reads the cache once, then either
// bumps the cached record and re-sends its file id with the stored kind and
// caption (req.Caption is ignored), or uploads the URL as a video and stores
// the handle Telegram returns. A cache hit never writes a new record and a
// miss never touches an existing one.
func (s *RelayService) Relay(ctx context.Context, req RelayRequest) error {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "Relay",
		trace.WithAttributes(
			attribute.Int64("chat.id", req.ChatID),
			attribute.String("post.id", req.PostID),
		),
	)
	defer span.End()

	if strings.TrimSpace(req.URL) == "" || req.ChatID == 0 {
		return ErrInvalidRequest
	}

	cached, err := s.Repo.FindByURL(ctx, req.URL)
	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("cache.hit", true))
		err = s.sendCached(ctx, req.ChatID, cached)
	case errors.Is(err, repo.ErrNotFound):
		span.SetAttributes(attribute.Bool("cache.hit", false))
		err = s.upload(ctx, req)
	default:
		err = fmt.Errorf("lookup cached media: %w", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *RelayService) sendCached(ctx context.Context, chatID int64, m *domain.CachedMedia) error {
	if err := s.Repo.Touch(ctx, m.URL, s.now()); err != nil {
		relaySends.WithLabelValues("cache", "error").Inc()
		return fmt.Errorf("touch cached media: %w", err)
	}

	f := domain.InputFile{URL: m.URL, FileID: m.FileID}
	var err error
	if m.Kind == domain.KindAnimation {
		_, err = s.Sender.SendAnimation(ctx, chatID, f, m.Caption)
	} else {
		_, err = s.Sender.SendVideo(ctx, chatID, f, m.Caption)
	}
	if err != nil {
		relaySends.WithLabelValues("cache", "error").Inc()
		return err
	}
	relaySends.WithLabelValues("cache", "ok").Inc()
	return nil
}

func (s *RelayService) upload(ctx context.Context, req RelayRequest) error {
	sent, err := s.Sender.SendVideo(ctx, req.ChatID, domain.InputFile{URL: req.URL}, req.Caption)
	if err != nil {
		relaySends.WithLabelValues("upload", "error").Inc()
		return err
	}
	relaySends.WithLabelValues("upload", "ok").Inc()

	now := s.now()
	rec := &domain.CachedMedia{
		URL:          req.URL,
		PostID:       req.PostID,
		Caption:      req.Caption,
		CommentID:    req.CommentID,
		Kind:         sent.Kind,
		FileID:       sent.FileID,
		FileUniqueID: sent.FileUniqueID,
		CreatedAt:    now,
		LastLoadTime: now,
		LoadCount:    1,
	}
	if err := s.Repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Another handler uploaded the same URL first.
			log.Warn().Str("url", req.URL).Msg("media cached concurrently; keeping existing record")
			return nil
		}
		return fmt.Errorf("store cached media: %w", err)
	}
	return nil
}

// RelayRandom sends a random cached item to chatID, never the one this chat
// received from its previous random request. It returns ErrEmptyCache when
// nothing else is cached.
func (s *RelayService) RelayRandom(ctx context.Context, chatID int64) error {
	tr := otel.Tracer("services/RelayService")
	ctx, span := tr.Start(ctx, "RelayRandom",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer span.End()

	last, err := s.History.Last(ctx, chatID)
	if err != nil {
		return fmt.Errorf("read random history: %w", err)
	}
	pool, err := s.Repo.ListExcept(ctx, last)
	if err != nil {
		return fmt.Errorf("list cached media: %w", err)
	}
	if len(pool) == 0 {
		return ErrEmptyCache
	}
	pick := pool[s.intn(len(pool))]
	span.SetAttributes(attribute.Int("pool.size", len(pool)))

	if err := s.History.Remember(ctx, chatID, pick.URL); err != nil {
		return fmt.Errorf("write random history: %w", err)
	}
	return s.Relay(ctx, RelayRequest{
		URL:       pick.URL,
		ChatID:    chatID,
		PostID:    pick.PostID,
		Caption:   pick.Caption,
		CommentID: pick.CommentID,
	})
}
