// Command dtf-relay-bot relays dtf.ru post and comment videos into Telegram
// chats, caching Telegram file ids so each video is uploaded once.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/dtf-relay-bot/internal/config"
	"github.com/tbourn/dtf-relay-bot/internal/content"
	"github.com/tbourn/dtf-relay-bot/internal/domain"
	httpapi "github.com/tbourn/dtf-relay-bot/internal/http"
	"github.com/tbourn/dtf-relay-bot/internal/http/handlers"
	"github.com/tbourn/dtf-relay-bot/internal/observability"
	"github.com/tbourn/dtf-relay-bot/internal/ratelimit"
	"github.com/tbourn/dtf-relay-bot/internal/repo"
	"github.com/tbourn/dtf-relay-bot/internal/services"
	"github.com/tbourn/dtf-relay-bot/internal/state"
	"github.com/tbourn/dtf-relay-bot/internal/sysutil"
	"github.com/tbourn/dtf-relay-bot/internal/telegram"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog := sysutil.NewLogger(cfg.Log, os.Stdout)
	log.Logger = logger
	if err := telegram.UseZerolog(); err != nil {
		log.Warn().Err(err).Msg("tgbotapi logger not installed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("bot stopped with error")
	}
	_ = closeLog()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	bot, err := newBot(cfg.Telegram)
	if err != nil {
		return err
	}
	log.Info().Str("bot", bot.Self.UserName).Str("mode", cfg.Telegram.UpdateMode).Msg("authorized")

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.Build{
		Version:     sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version),
		BotUsername: bot.Self.UserName,
		UpdateMode:  cfg.Telegram.UpdateMode,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db, cfg.MediaTable); err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("sql db: %w", err)
	}
	defer sqlDB.Close()

	history, closeHistory, err := newHistory(ctx, cfg.State)
	if err != nil {
		return err
	}
	defer closeHistory()

	api := content.NewClient(
		ratelimit.NewThrottle(cfg.Limits.APIInterval),
		content.WithAPIBase(cfg.Content.APIBase),
		content.WithMediaBase(cfg.Content.MediaBase),
		content.WithHTTPClient(&http.Client{Timeout: cfg.Content.HTTPTimeout}),
		content.WithUserAgent("dtf-relay-bot/"+version),
	)
	store := repo.NewMediaStore(db, cfg.MediaTable)
	relay := services.NewRelayService(store, telegram.NewSender(bot), history)

	limiter := ratelimit.NewUserLimiter(cfg.Limits.UserInterval)
	prometheus.MustRegister(ratelimit.TrackedChatsGauge(limiter))
	if mh, ok := history.(*state.MemoryHistory); ok {
		prometheus.MustRegister(state.HistoryGauge(mh))
	}

	disp := &services.Dispatcher{
		Classifier: content.Classifier{RandomCommand: cfg.RandomCommand, BotUsername: bot.Self.UserName},
		Limiter:    limiter,
		Fetcher:    api,
		Relayer:    relay,
		Observer:   services.LogObserver{},
		PostDelay:  cfg.Limits.PostMediaDelay,
	}

	// Handlers outlive the signal: a relay in progress finishes its post.
	var inflight sync.WaitGroup
	handleCtx := context.WithoutCancel(ctx)
	dispatch := func(msg domain.Message) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			disp.Handle(handleCtx, msg)
		}()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, &handlers.Admin{
		DB:            sqlDB,
		Media:         store,
		BotUsername:   bot.Self.UserName,
		Started:       time.Now(),
		WebhookSecret: cfg.Telegram.WebhookSecret,
		Dispatch:      dispatch,
	}, cfg)
	srv := &http.Server{
		Addr:              ":" + cfg.AdminPort,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	pollDone := make(chan struct{})
	switch cfg.Telegram.UpdateMode {
	case config.ModeWebhook:
		close(pollDone)
		if err := telegram.SetWebhook(bot, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			shutdownServer(srv, cfg.ShutdownTimeout)
			return err
		}
		log.Info().Str("url", cfg.Telegram.WebhookURL).Msg("webhook registered")
	default:
		if err := telegram.DeleteWebhook(bot); err != nil {
			log.Warn().Err(err).Msg("delete webhook")
		}
		go func() {
			defer close(pollDone)
			telegram.Poll(ctx, bot, cfg.Telegram.PollTimeout, func(_ context.Context, msg domain.Message) {
				dispatch(msg)
			})
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err, ok := <-srvErr:
		if ok {
			runErr = fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownServer(srv, cfg.ShutdownTimeout)
	<-pollDone
	if !waitTimeout(&inflight, cfg.ShutdownTimeout) {
		log.Warn().Dur("timeout", cfg.ShutdownTimeout).Msg("in-flight relays abandoned")
	}
	return runErr
}

func newBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Token, cfg.APIEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.Token)
	}
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

func newHistory(ctx context.Context, cfg config.StateConfig) (state.HistoryStore, func(), error) {
	if cfg.Backend != config.BackendRedis {
		return state.NewMemoryHistory(cfg.HistorySize, cfg.HistoryTTL), func() {}, nil
	}
	rdb, err := state.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Warn().Err(err).Msg("redis close")
		}
	}
	return state.NewRedisHistory(rdb, cfg.RedisPrefix, cfg.HistoryTTL), closeFn, nil
}

func shutdownServer(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("admin server shutdown")
	}
}

// waitTimeout reports whether wg finished before the timeout.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
