package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/notepid/relaybot/internal/ansi"
	"github.com/notepid/relaybot/internal/broadcast"
	"github.com/notepid/relaybot/internal/chat"
	"github.com/notepid/relaybot/internal/config"
	"github.com/notepid/relaybot/internal/db"
	"github.com/notepid/relaybot/internal/gateway"
	"github.com/notepid/relaybot/internal/identity"
	"github.com/notepid/relaybot/internal/metrics"
	"github.com/notepid/relaybot/internal/moderation"
	"github.com/notepid/relaybot/internal/node"
	"github.com/notepid/relaybot/internal/ratelimit"
	"github.com/notepid/relaybot/internal/relay"
	"github.com/notepid/relaybot/internal/router"
	"github.com/notepid/relaybot/internal/scripting"
	"github.com/notepid/relaybot/internal/server"
	"github.com/notepid/relaybot/internal/storage"
	"github.com/notepid/relaybot/internal/user"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the relay (default)",
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	log.Info().Str("name", cfg.Bot.Name).Strs("admins", cfg.Bot.Admins).Msg("starting relay")

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	ids := identity.New(store.Users)
	if err := ids.Bootstrap(cfg.Bot.Admins); err != nil {
		return err
	}

	secret, err := refSecret(cfg, store)
	if err != nil {
		return err
	}

	var filter moderation.ContentFilter
	if cfg.Moderation.FilterScript != "" {
		f, err := scripting.NewFilter(cfg.Moderation.FilterScript, ids)
		if err != nil {
			return fmt.Errorf("load filter script: %w", err)
		}
		defer f.Close()
		filter = f
		log.Info().Str("script", cfg.Moderation.FilterScript).Msg("content filter loaded")
	}

	limits := ratelimit.Config{
		History:     cfg.RateLimit.History,
		MinInterval: cfg.RateLimit.MinInterval,
		Window:      cfg.RateLimit.Window,
		MaxMessages: cfg.RateLimit.MaxMessages,
	}

	broker := chat.NewBroker(32)
	sessions := router.NewSessions(cfg.Bot.ReplySessionTTL, time.Now)
	dispatcher := relay.New(relay.Deps{
		Identity:   ids,
		Limiter:    ratelimit.New(limits, ids),
		Router:     router.New(ids, store.Log, secret),
		Sessions:   sessions,
		Moderation: moderation.New(ids, filter),
		Broadcast: broadcast.New(ids, broker, broadcast.Config{
			Concurrency: cfg.Broadcast.Concurrency,
			SendTimeout: cfg.Broadcast.SendTimeout,
			PerSecond:   cfg.Broadcast.PerSecond,
		}),
		Log:      store.Log,
		Sink:     broker,
		Presence: broker,
	}, relay.Options{
		BotName:      cfg.Bot.Name,
		HistoryLimit: cfg.Bot.HistoryLimit,
		SendTimeout:  cfg.Relay.SendTimeout,
		RateLimit:    limits,
	})
	defer dispatcher.Close()

	pool := relay.NewPool(dispatcher, cfg.Relay.Workers, cfg.Relay.QueueSize)
	pool.Start(ctx)
	defer pool.Stop()

	auth := user.NewConsoleAuthenticator(store.Users)
	slots := node.NewManager(cfg.Server.MaxSessions)

	console := &server.Console{
		Broker:   broker,
		Inbound:  pool,
		Sessions: slots,
		Banners:  ansi.NewLoader(cfg.Server.BannerDir),
		BotName:  cfg.Bot.Name,
	}
	sshListener, err := server.NewSSHListener(cfg.Server.HostKey, auth, console.Handle)
	if err != nil {
		return fmt.Errorf("create ssh listener: %w", err)
	}

	wsMux := http.NewServeMux()
	wsMux.Handle("/ws", gateway.NewServer(ctx, gateway.Config{
		Broker:   broker,
		Inbound:  pool,
		Auth:     auth,
		Sessions: slots,
	}))
	wsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.WSPort),
		Handler:           wsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthMux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sshListener.ListenAndServe(gctx, fmt.Sprintf(":%d", cfg.Server.SSHPort))
	})
	g.Go(func() error { return listenHTTP(wsServer, "websocket") })
	g.Go(func() error { return listenHTTP(healthServer, "health") })
	g.Go(func() error {
		sweepSessions(gctx, sessions)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = wsServer.Shutdown(shutdownCtx)
		_ = healthServer.Shutdown(shutdownCtx)
		return nil
	})

	log.Info().
		Int("ssh", cfg.Server.SSHPort).
		Int("ws", cfg.Server.WSPort).
		Int("health", cfg.Server.HealthPort).
		Int("max_sessions", cfg.Server.MaxSessions).
		Msg("relay is running")

	err = g.Wait()
	log.Info().Msg("shutting down")
	return err
}

func listenHTTP(srv *http.Server, name string) error {
	log.Info().Str("addr", srv.Addr).Msg(name + " server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// refSecret returns the configured thread reference secret, or the stored
// one, generating it on first start.
func refSecret(cfg *config.Config, store *storage.Storage) (string, error) {
	if cfg.Relay.RefSecret != "" {
		return cfg.Relay.RefSecret, nil
	}
	secret, err := store.Settings.EnsureSetting(db.SettingRefSecret, router.GenerateSecret)
	if err != nil {
		return "", fmt.Errorf("load reference secret: %w", err)
	}
	return secret, nil
}

func sweepSessions(ctx context.Context, sessions *router.Sessions) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				log.Debug().Int("expired", n).Msg("admin sessions swept")
			}
		case <-ctx.Done():
			return
		}
	}
}
