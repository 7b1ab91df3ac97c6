package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/duel-tourney-backend/internal/apperr"
	"github.com/DoyleJ11/duel-tourney-backend/internal/broadcast"
	"github.com/DoyleJ11/duel-tourney-backend/internal/config"
	"github.com/DoyleJ11/duel-tourney-backend/internal/httpapi"
	"github.com/DoyleJ11/duel-tourney-backend/internal/hub"
	"github.com/DoyleJ11/duel-tourney-backend/internal/items"
	"github.com/DoyleJ11/duel-tourney-backend/internal/logging"
	"github.com/DoyleJ11/duel-tourney-backend/internal/metrics"
	"github.com/DoyleJ11/duel-tourney-backend/internal/session"
	"github.com/DoyleJ11/duel-tourney-backend/internal/store/gormstore"
	"github.com/DoyleJ11/duel-tourney-backend/internal/ws"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, websocket and SSE server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	st, err := gormstore.Open(cfg.DBDriver, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	catalogs, err := items.LoadDir(cfg.ItemsDir)
	if err != nil {
		return err
	}
	log.Info("item sources loaded", zap.Int("sources", len(catalogs)), zap.String("dir", cfg.ItemsDir))

	m := metrics.New()
	h := hub.NewHub(ctx, log, m)
	events := broadcast.NewSSE(httpapi.SessionIDParam, log)
	local := broadcast.Multi{h, events}

	var pub broadcast.Publisher = local
	var relay *broadcast.RedisRelay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		origin := broadcast.NewOrigin()
		pub = append(broadcast.Multi{broadcast.NewRedisPublisher(rdb, cfg.RedisChannel, origin)}, local...)
		relay = broadcast.NewRedisRelay(rdb, cfg.RedisChannel, origin, local, log)
	}

	svc := session.New(st, catalogs,
		session.WithPublisher(pub),
		session.WithLogger(log),
		session.WithMetrics(m),
		session.WithTxRetries(cfg.TxRetries))

	locale := apperr.ParseLocale(cfg.DefaultLocale)
	resync := broadcast.NewResyncer(svc.Snapshot)
	wsHandler := ws.Handler(h, svc, resync, ws.Options{
		ReadTimeout:    cfg.WSReadTimeout,
		WriteTimeout:   cfg.WSWriteTimeout,
		DefaultLocale:  locale,
		OriginPatterns: cfg.WSOrigins,
	}, log)

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Sessions:      svc,
			Events:        events,
			WS:            wsHandler,
			Metrics:       m.Handler(),
			Ping:          st.Ping,
			Log:           log,
			DefaultLocale: locale,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if relay != nil {
		eg.Go(func() error { return relay.Run(gctx, nil) })
	}
	eg.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		// Long-lived streams first, or Shutdown waits on them.
		events.Shutdown()
		select {
		case h.Inbox() <- hub.ShutdownHub{}:
		case <-shutdownCtx.Done():
		}
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}
