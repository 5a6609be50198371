// Command gatewayd runs the dApp request gateway: the in-app bridge, the
// approval surfaces behind the admin API and the responders for every
// channel.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/dapp_gateway/internal/bridge"
	"github.com/R3E-Network/dapp_gateway/internal/config"
	"github.com/R3E-Network/dapp_gateway/internal/gateway"
	"github.com/R3E-Network/dapp_gateway/internal/httpapi"
	"github.com/R3E-Network/dapp_gateway/internal/metrics"
	"github.com/R3E-Network/dapp_gateway/internal/normalize"
	"github.com/R3E-Network/dapp_gateway/internal/notify"
	"github.com/R3E-Network/dapp_gateway/internal/platform/migrations"
	"github.com/R3E-Network/dapp_gateway/internal/ratelimit"
	"github.com/R3E-Network/dapp_gateway/internal/session"
	"github.com/R3E-Network/dapp_gateway/internal/signerclient"
	"github.com/R3E-Network/dapp_gateway/internal/transport"
	"github.com/R3E-Network/dapp_gateway/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to the gateway YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Component: "gatewayd"})
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("gatewayd stopped")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	state, err := cfg.WalletState()
	if err != nil {
		return fmt.Errorf("wallet state: %w", err)
	}

	store, closeStore, err := openSessions(ctx, cfg.Sessions, log)
	if err != nil {
		return err
	}
	defer closeStore()

	if cfg.Signer.URL == "" {
		return errors.New("signer url is required (GATEWAY_SIGNER_URL)")
	}
	signer, err := signerclient.New(signerclient.Config{
		BaseURL:    cfg.Signer.URL,
		Secret:     []byte(cfg.Signer.Secret),
		Timeout:    cfg.Signer.Timeout,
		MaxRetries: cfg.Signer.MaxRetries,
		Log:        log.WithComponent("signerclient"),
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector("dapp_gateway")
	notes := notify.NewRingBuffer(cfg.Gateway.NotificationBuffer)
	notes.Subscribe(func(n notify.Notification) {
		log.WithField("type", n.Type).WithField("request", n.RequestID).Info(n.String())
	})

	originLimiter := ratelimit.New(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst, log.WithComponent("ratelimit"))
	apiLimiter := ratelimit.New(cfg.Limits.RequestsPerSecond, cfg.Limits.Burst, log.WithComponent("ratelimit"))
	for _, l := range []*ratelimit.Limiter{originLimiter, apiLimiter} {
		if cfg.Limits.PruneSchedule == "" {
			break
		}
		stop, err := l.StartPruning(cfg.Limits.PruneSchedule, cfg.Limits.IdleAfter)
		if err != nil {
			return fmt.Errorf("schedule limiter pruning: %w", err)
		}
		defer stop()
	}

	// The hub and the gateway reference each other through the dispatcher.
	var gw *gateway.Gateway
	hub := bridge.NewHub(bridge.HandlerFunc(func(ctx context.Context, in normalize.Inbound) {
		gw.Handle(ctx, in)
	}), log.WithComponent("bridge"))
	defer hub.Close()

	dispatcher := transport.NewDispatcher(
		transport.WithBridge(hub),
		transport.WithExternal(transport.NewRedirectResponder(transport.NotifyOpener(notes))),
		transport.WithMetrics(collector),
		transport.WithLogger(log.WithComponent("dispatch")),
	)

	gw, err = gateway.New(gateway.Config{
		Wallet:        state,
		Sessions:      store,
		Signer:        signer,
		Responder:     dispatcher,
		Notifier:      notes,
		Metrics:       collector,
		Limiter:       originLimiter,
		Log:           log.WithComponent("gateway"),
		SilentDecline: !cfg.Gateway.RespondOnDecline,
	})
	if err != nil {
		return err
	}

	if cfg.HTTP.AdminSecret == "" {
		log.Warn("admin secret not set; admin routes are unauthenticated")
	}

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewHandler(httpapi.Config{
			Gateway:       gw,
			Bridge:        hub,
			BridgeURL:     cfg.HTTP.BridgeURL,
			Notifications: notes,
			Metrics:       collector.Handler(),
			Limiter:       apiLimiter,
			AdminSecret:   []byte(cfg.HTTP.AdminSecret),
			Log:           log.WithComponent("httpapi"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openSessions connects the configured session backend.
func openSessions(ctx context.Context, cfg config.SessionsConfig, log *logger.Logger) (session.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := migrations.Apply(ctx, db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		log.Info("using postgres session store")
		return session.NewPostgresStore(db), func() { _ = db.Close() }, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		log.WithField("prefix", cfg.RedisPrefix).Info("using redis session store")
		return session.NewRedisStore(client, cfg.RedisPrefix), func() { _ = client.Close() }, nil

	default:
		log.Info("using in-memory session store")
		return session.NewMemoryStore(), func() {}, nil
	}
}
