package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"splguard/admin"
	"splguard/affiliates"
	"splguard/cachestore"
	"splguard/config"
	"splguard/database"
	"splguard/handlers"
	"splguard/httpclient"
	"splguard/metrics"
	"splguard/moderation"
	"splguard/presale"
	"splguard/quests"
	"splguard/tglog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug(".env not loaded", "err", err)
	}
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	if cfg.BotToken == "" {
		slog.Error("BOT_TOKEN is not set")
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is not set")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("bot stopped with error", "err", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	cache, closeCache := openCache(cfg.RedisURL)
	defer closeCache()

	b, err := bot.New(cfg.BotToken,
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {}),
		bot.WithErrorsHandler(func(err error) {
			slog.Warn("telegram polling error", "err", err)
		}),
	)
	if err != nil {
		return err
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		return err
	}

	tg := handlers.NewTelegram(b)
	auditLog := tglog.New(tg, cfg.AuditChannel())

	// Модерация
	profiles := moderation.NewProfileLoader(db, cfg.AuditChannel(), 0)
	ledger := moderation.NewLedger(db, cache)
	moderator := moderation.NewModerator(profiles, ledger, tg, auditLog, cfg.OwnerID, cfg.AdminIDs)

	// Квесты
	questAPI := quests.NewClient(quests.ClientConfig{
		Enabled:     cfg.ZealyEnabled,
		APIKey:      cfg.ZealyAPIKey,
		CommunityID: cfg.ZealyCommunityID,
		BaseURL:     cfg.ZealyBaseURL,
	}, nil)
	questSvc := quests.NewService(db, cache, questAPI, tg, cfg.AuditChannel())
	dlq := quests.NewDLQ(cache)
	intake := quests.NewIntake(questSvc, cache, 0)

	// Пресейл
	verifier := presale.NewVerifier(presale.VerifierConfig{
		RPCURL:         cfg.SolanaRPCURL,
		Timeout:        cfg.SolanaRPCTimeout,
		ProgramIDs:     cfg.SmithiiProgramIDs,
		Vaults:         cfg.PresaleVaults,
		TokenMints:     cfg.PresaleTokenMints,
		PresaleMint:    cfg.TDLMint,
		MinSOLLamports: cfg.PresaleMinSOLLamports,
		MinTokenAmount: cfg.PresaleMinUSDCAmount,
		XPReward:       cfg.ZealyPresaleXPReward,
	}, nil)
	submitter := presale.NewSubmitter(verifier, questSvc, dlq, cache)
	summaries := presale.NewSummaryService(db, cache, cfg.PresaleAPIURL, httpclient.New(10*time.Second))
	monitor := presale.NewMonitor(summaries, tg, cfg.PresaleRefresh)

	affiliateSvc := affiliates.NewService(db, tg, affiliates.Config{
		ChatID:          cfg.CommunityChatID,
		ExpiryDays:      cfg.AffiliatesRotateExpiryDays,
		MaxLinksPerUser: cfg.AffiliatesMaxLinksPerUser,
	})
	adminSvc := admin.NewService(db, profiles, auditLog, cfg.AuditChannel())

	h := handlers.New(handlers.Deps{
		Config:      cfg,
		Telegram:    tg,
		Cache:       cache,
		Info:        db,
		Moderator:   moderator,
		Summaries:   summaries,
		Submitter:   submitter,
		Quests:      questSvc,
		DLQ:         dlq,
		Affiliates:  affiliateSvc,
		Admin:       adminSvc,
		BotUsername: me.Username,
	})

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, h.OnMessage)
	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.ChatJoinRequest != nil
	}, h.OnJoinRequest)

	ops := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: metrics.NewRouter(func(ctx context.Context) error {
			return db.Pool.Ping(ctx)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("ops server listening", "addr", cfg.MetricsAddr)
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		intake.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		return ops.Shutdown(shutdownCtx)
	})

	monitor.Start(gctx)

	slog.Info("bot started", "username", me.Username)
	auditLog.Notef("🛡 Bot @%s started", me.Username)
	b.Start(gctx)

	monitor.Stop()
	return g.Wait()
}

// openCache: redis, если задан REDIS_URL и доступен. Иначе nil: счётчики и флаги
// берутся из БД, кулдауны, выборочная проверка и очередь событий выключены.
func openCache(redisURL string) (cachestore.Store, func()) {
	if redisURL == "" {
		slog.Info("REDIS_URL is not set, running without cache")
		return nil, func() {}
	}
	rs, err := cachestore.NewRedisStore(redisURL)
	if err != nil {
		slog.Warn("redis unavailable, running without cache", "err", err)
		return nil, func() {}
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			slog.Warn("failed to close redis", "err", err)
		}
	}
}
