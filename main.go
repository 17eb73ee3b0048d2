package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nexus-im/courier/internal/auth"
	"github.com/nexus-im/courier/internal/config"
	"github.com/nexus-im/courier/internal/logger"
	"github.com/nexus-im/courier/internal/server"
	"github.com/nexus-im/courier/store"
	"github.com/nexus-im/courier/store/channel"
	"github.com/nexus-im/courier/store/message"
	"github.com/nexus-im/courier/store/user"

	_ "github.com/lib/pq"
)

const tokenValidity = 24 * time.Hour

func main() {
	cfg, err := config.Load(os.Args[1:])
	logger.Init(cfg.Env)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	base, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps := server.Deps{Log: logger.Log}

	var db *sql.DB
	switch cfg.Store {
	case config.StorePostgres:
		db, err = openDatabase(base, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database unavailable")
		}
		deps.Messages = message.NewSQLStore(db)
		deps.Channels = channel.NewSQLStore(db)
		deps.Users = user.NewSQLStore(db)
	default:
		logger.Warn().Msg("using in-memory stores, nothing survives a restart")
		deps.Messages = message.NewMemoryStore()
		deps.Channels = channel.NewMemoryStore()
		deps.Users = user.NewMemoryStore()
	}

	switch cfg.AuthMode {
	case config.AuthJWT:
		deps.Identity = auth.TokenResolver{Auth: auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, tokenValidity)}
	default:
		deps.Identity = auth.QueryResolver{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps.Registerer, deps.Gatherer = reg, reg

	srv := server.New(base, deps, server.Options{
		ChannelEcho:    cfg.ChannelEcho,
		SendRate:       cfg.SendRate,
		SendBurst:      cfg.SendBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.Addr).
			Str("store", cfg.Store).
			Str("auth", cfg.AuthMode).
			Bool("channel_echo", cfg.ChannelEcho).
			Msg("server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen failed")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"courier": func(ctx context.Context) error {
				logger.Info().Msg("shutting down")
				// Stop accepting upgrades before ending live connections, and
				// end those before the stores go away.
				err := httpServer.Shutdown(ctx)
				srv.Close()
				cancel()
				if db != nil {
					if cerr := db.Close(); cerr != nil {
						logger.Error().Err(cerr).Msg("closing database")
					}
				}
				return err
			},
		},
	)

	code := <-wait
	logger.Info().Int("code", code).Msg("server exited")
	os.Exit(code)
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info().Msg("connected to database")

	if err := store.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
