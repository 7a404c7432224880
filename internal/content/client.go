// Package content talks to the dtf.ru (Osnova) public API: it fetches posts
// and comments, extracts the video URLs they reference, and classifies chat
// texts that link to them.
//
// Every API call passes through a shared Gate so that calls from all
// in-flight messages are spaced at least the configured interval apart.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultAPIBase   = "https://api.dtf.ru/v2.1"
	DefaultMediaBase = "https://leonardo.osnova.io"
)

var (
	// ErrCommentNotFound is returned when the post has no comment with the
	// requested id.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrNoMedia is returned when the comment carries no media attachment.
	ErrNoMedia = errors.New("comment has no media")
)

var (
	upstreamReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_api_requests_total",
			Help: "Content API requests by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	upstreamWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "content_api_throttle_wait_seconds",
			Help:    "Time spent waiting for the upstream throttle.",
			Buckets: []float64{0, .05, .1, .2, .35, .5, 1, 2, 5},
		},
	)
)

func init() {
	prometheus.MustRegister(upstreamReqs, upstreamWait)
}

// Gate spaces upstream calls; *ratelimit.Throttle implements it.
type Gate interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// Post is the subset of a post the bot uses.
type Post struct {
	ID    string
	Title string
	HTML  string
}

// Comment is a single comment with its first media attachment resolved.
type Comment struct {
	ID       int64
	Text     string
	MediaURL string
}

// Client fetches posts and comments from the content API.
type Client struct {
	httpClient *http.Client
	apiBase    string
	mediaBase  string
	userAgent  string
	gate       Gate
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithAPIBase sets the API root (default DefaultAPIBase).
func WithAPIBase(base string) Option { return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") } }

// WithMediaBase sets the media CDN root (default DefaultMediaBase).
func WithMediaBase(base string) Option { return func(c *Client) { c.mediaBase = base } }

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option { return func(c *Client) { c.userAgent = ua } }

// NewClient creates a Client that waits on gate before every request. A nil
// gate disables throttling.
func NewClient(gate Gate, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiBase:    DefaultAPIBase,
		mediaBase:  DefaultMediaBase,
		userAgent:  "dtf-relay-bot/1.0",
		gate:       gate,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type postResponse struct {
	Result struct {
		ID    int64  `json:"id"`
		Title string `json:"title"`
		HTML  struct {
			Layout string `json:"layout"`
		} `json:"html"`
	} `json:"result"`
}

type commentsResponse struct {
	Result struct {
		Items []struct {
			ID    int64  `json:"id"`
			Text  string `json:"text"`
			Media []struct {
				Type string `json:"type"`
				Data struct {
					UUID string `json:"uuid"`
					Type string `json:"type"`
				} `json:"data"`
			} `json:"media"`
		} `json:"items"`
	} `json:"result"`
}

// FetchPost returns the title and rendered layout of postID.
func (c *Client) FetchPost(ctx context.Context, postID string) (*Post, error) {
	ctx, span := otel.Tracer("content/Client").Start(ctx, "FetchPost",
		trace.WithAttributes(attribute.String("post.id", postID)),
	)
	defer span.End()

	q := url.Values{"id": {postID}}
	var resp postResponse
	if err := c.getJSON(ctx, "content", "/content/", q, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &Post{ID: postID, Title: resp.Result.Title, HTML: resp.Result.HTML.Layout}, nil
}

// FetchComment returns comment commentID of postID with the URL of its first
// media attachment. It fails with ErrCommentNotFound or ErrNoMedia when there
// is nothing to relay.
func (c *Client) FetchComment(ctx context.Context, postID string, commentID int64) (*Comment, error) {
	ctx, span := otel.Tracer("content/Client").Start(ctx, "FetchComment",
		trace.WithAttributes(
			attribute.String("post.id", postID),
			attribute.Int64("comment.id", commentID),
		),
	)
	defer span.End()

	q := url.Values{"contentId": {postID}}
	var resp commentsResponse
	if err := c.getJSON(ctx, "comments", "/comments", q, &resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, item := range resp.Result.Items {
		if item.ID != commentID {
			continue
		}
		if len(item.Media) == 0 || item.Media[0].Data.UUID == "" {
			return nil, ErrNoMedia
		}
		return &Comment{
			ID:       item.ID,
			Text:     item.Text,
			MediaURL: CommentMediaURL(c.mediaBase, item.Media[0].Data.UUID),
		}, nil
	}
	return nil, ErrCommentNotFound
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, q url.Values, out any) error {
	if c.gate != nil {
		waited, err := c.gate.Wait(ctx)
		upstreamWait.Observe(waited.Seconds())
		if err != nil {
			return fmt.Errorf("wait for upstream slot: %w", err)
		}
		if waited > 0 {
			log.Debug().Str("endpoint", endpoint).Dur("waited", waited).Msg("content api throttled")
		}
	}

	u := c.apiBase + path + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamReqs.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		upstreamReqs.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		upstreamReqs.WithLabelValues(endpoint, "decode_error").Inc()
		return fmt.Errorf("decode response: %w", err)
	}
	upstreamReqs.WithLabelValues(endpoint, "ok").Inc()
	return nil
}
