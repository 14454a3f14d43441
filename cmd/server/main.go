package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/elmedianur/deutsche/internal/clock"
	"github.com/elmedianur/deutsche/internal/config"
	"github.com/elmedianur/deutsche/internal/database"
	"github.com/elmedianur/deutsche/internal/events"
	"github.com/elmedianur/deutsche/internal/game"
	"github.com/elmedianur/deutsche/internal/handlers"
	"github.com/elmedianur/deutsche/internal/ledger"
	"github.com/elmedianur/deutsche/internal/logging"
	"github.com/elmedianur/deutsche/internal/metrics"
	"github.com/elmedianur/deutsche/internal/middleware"
	"github.com/elmedianur/deutsche/internal/services"
	"github.com/elmedianur/deutsche/internal/store"
	"github.com/elmedianur/deutsche/internal/telegram"
	"github.com/elmedianur/deutsche/internal/transport"
	"github.com/elmedianur/deutsche/internal/ws"
)

const (
	shutdownTimeout = 15 * time.Second
	botWorkers      = 8
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db, log); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewArenaCollector(reg)
	clk := clock.New()

	var sessionStore store.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		sessionStore = store.NewRedisStore(rdb, m)
		log.Info().Str("addr", cfg.RedisAddr).Msg("live sessions kept in redis")
	} else {
		sessionStore = store.NewMemoryStore(m)
		log.Warn().Msg("REDIS_ADDR is empty, live sessions are lost on restart")
	}

	mirror := ledger.NewGormMirror(db)
	l := ledger.New(clk, log, ledger.WithMirror(mirror, cfg.MirrorWorkers), ledger.WithMetrics(m))
	txs, err := mirror.LoadTransactions(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if err := l.Restore(txs); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	log.Info().Int("transactions", len(txs)).Msg("ledger restored")

	var publisher events.Publisher
	if cfg.AMQPURL != "" {
		p, err := events.NewEventPublisher(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	} else {
		log.Warn().Msg("AMQP_URL is empty, session events are not published")
	}

	caps := services.NewCapabilities(cfg.AdminIDs, cfg.SuperAdminIDs)
	users := services.NewTelegramUserService(db)
	questions := services.NewQuestionService(db)
	results := services.NewResultService(db, log)
	authService := services.NewAuthService(db, cfg.JWTSecret)
	hub := ws.NewHub(log)

	out := transport.FanOut{hub}
	var (
		tgClient *telegram.Client
		notifier *telegram.Notifier
	)
	if cfg.TelegramBotToken != "" {
		tgClient = telegram.NewClient(cfg.TelegramBotToken)
		notifier = telegram.NewNotifier(tgClient, telegram.NewStateManager(), users, log)
		out = append(out, notifier)
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN is empty, players connect over websockets only")
	}

	sessions := services.NewSessionService(services.SessionConfig{
		RoundDuration:    cfg.RoundDuration,
		DuelRounds:       cfg.DuelRounds,
		TournamentRounds: cfg.TournamentRounds,
		DeliveryTimeout:  cfg.DeliveryTimeout,
	}, game.NewScorer(cfg.BasePoints, cfg.SpeedBonus), game.PayoutPolicy{
		HouseFeePercent:       cfg.HouseFeePercent,
		TournamentShares:      cfg.TournamentShares,
		TournamentPremiumDays: cfg.TournamentPremiumDays,
	}, services.SessionDeps{
		Store:     sessionStore,
		Ledger:    l,
		Content:   questions,
		Transport: out,
		Publisher: publisher,
		Recorder:  results,
		Caps:      caps,
		Clock:     clk,
		Metrics:   m,
		Logger:    log,
	})
	matchmaker := services.NewMatchmakerService(services.MatchmakerConfig{
		TournamentCapacity:   cfg.TournamentCapacity,
		TournamentMinPlayers: cfg.TournamentMinPlayers,
		LobbyTimeout:         cfg.LobbyTimeout,
		DuelChallengeTimeout: cfg.DuelChallengeTimeout,
		MinStake:             cfg.MinStake,
		MaxStake:             cfg.MaxStake,
		PremiumTournaments:   cfg.PremiumTournaments,
	}, sessions, l, out, users, clk, m, log)
	moderation := services.NewModerationService(users, matchmaker, sessions, publisher, caps, clk, log)
	shop := services.NewShopService(l, caps, clk)

	var bot *telegram.BotManager
	if tgClient != nil {
		// A player who blocked the bot can no longer answer: drop them from
		// the session, or from the lobby when the message was a lobby update.
		notifier.OnUnreachable(func(sessionID, participantID string) {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.DeliveryTimeout)
			defer cancel()
			err := sessions.Disconnect(ctx, sessionID, participantID)
			if errors.Is(err, services.ErrSessionNotFound) {
				err = matchmaker.Remove(ctx, participantID)
			}
			if err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Str("user_id", participantID).Msg("failed to drop unreachable player")
			}
		})
		handler := telegram.NewUpdateHandler(tgClient, telegram.HandlerDeps{
			Arena:    matchmaker,
			Sessions: sessions,
			Wallets:  shop,
			Stats:    results,
			Users:    users,
			Logger:   log,
		})
		bot = telegram.NewBotManager(tgClient, handler, cfg.WebhookBaseURL, cfg.WebhookSecret, botWorkers, log)
	}

	if err := sessions.Recover(ctx); err != nil {
		return fmt.Errorf("recover sessions: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Bot-API-Key", "X-User-ID"},
		AllowCredentials: true,
	}))

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, handlers.MessageResponse{Message: "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	if bot != nil {
		r.POST(telegram.WebhookPath, bot.HandleWebhook)
	}

	handlers.Routes{
		Auth:        handlers.NewAuthHandler(authService, caps),
		Sessions:    handlers.NewSessionHandler(sessions, matchmaker, caps, clk),
		Wallet:      handlers.NewWalletHandler(shop),
		Stats:       handlers.NewStatsHandler(results),
		Questions:   handlers.NewQuestionHandler(questions),
		Moderation:  handlers.NewModerationHandler(moderation),
		Telegram:    handlers.NewTelegramUserHandler(users, results),
		WS:          handlers.NewWSHandler(hub, authService, sessions, clk, log),
		AuthService: authService,
		Caps:        caps,
		BotAPIKey:   cfg.BotAPIKey,
	}.Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bot != nil {
		g.Go(func() error {
			if err := bot.Start(gctx); err != nil {
				log.Error().Err(err).Msg("failed to register webhook")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		err := srv.Shutdown(shutdownCtx)
		if bot != nil {
			bot.Stop(shutdownCtx)
		}
		return err
	})

	err = g.Wait()
	sessions.Stop()
	results.Close()
	l.Close()
	return err
}
