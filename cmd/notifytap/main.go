// Command notifytap keeps a realtime session open against a Kuzzle server,
// subscribes to the configured collections and optionally journals every
// notification to PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/kuzzle-realtime/internal/auth"
	"github.com/rickgao/kuzzle-realtime/internal/config"
	"github.com/rickgao/kuzzle-realtime/internal/connection"
	"github.com/rickgao/kuzzle-realtime/internal/controller"
	"github.com/rickgao/kuzzle-realtime/internal/database"
	"github.com/rickgao/kuzzle-realtime/internal/metrics"
	"github.com/rickgao/kuzzle-realtime/internal/refresh"
	"github.com/rickgao/kuzzle-realtime/internal/router"
	"github.com/rickgao/kuzzle-realtime/internal/session"
	"github.com/rickgao/kuzzle-realtime/internal/version"
	"github.com/rickgao/kuzzle-realtime/internal/writer"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/notifytap.local.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting notifytap",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notifytap failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notifytap stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics.RegisterMetrics()

	token, err := initialToken(cfg.Auth, logger)
	if err != nil {
		return err
	}

	// Journal pipeline: subscription callbacks -> router buffer -> writer -> postgres.
	// Without a journal, notifications are only logged.
	var (
		out     sink = logSink{logger: logger}
		rt      *router.Router
		pool    *pgxpool.Pool
		journal *writer.NotificationWriter
	)
	if cfg.Journal.Enabled {
		rt = router.NewRouter(router.RouterConfig{
			BufferSize:    cfg.Journal.BufferSize,
			MaxBufferSize: cfg.Journal.BufferSize * 10,
		}, logger)
		out = rt

		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err = database.Open(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("open journal database: %w", err)
		}
		defer pool.Close()

		journal = writer.NewNotificationWriter(writer.WriterConfig{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
		}, rt.Buffer(), pool, logger)
		// Stop cancels the writer after its final flush.
		if err := journal.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("start journal writer: %w", err)
		}
	}

	// Transport and session
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent("notifytap"))
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:               connection.BuildURL(cfg.Server.Host, cfg.Server.Port, cfg.Server.SSL, cfg.Server.Path),
		Header:            header,
		HandshakeTimeout:  cfg.Connection.HandshakeTimeout,
		ReadTimeout:       cfg.Connection.ReadTimeout,
		WriteTimeout:      cfg.Connection.WriteTimeout,
		ReconnectBaseWait: cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Connection.ReconnectMaxDelay,
		EventBufferSize:   cfg.Connection.EventBufferSize,
	}, logger)

	sess := session.New(mgr, session.Config{
		RequestTimeout:     cfg.Session.RequestTimeout,
		PingInterval:       cfg.Session.PingInterval,
		AuthToken:          token,
		FailPendingOnClose: cfg.Session.FailPendingOnClose,
	}, logger)

	opened := make(chan struct{}, 1)
	sess.OnEvent(func(ev connection.Event) {
		if ev.Kind != connection.EventOpened {
			return
		}
		select {
		case opened <- struct{}{}:
		default:
		}
	})

	// The session outlives the signal context so subscriptions can be
	// released after shutdown starts; Disconnect ends it.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	if err := mgr.Start(runCtx); err != nil {
		return fmt.Errorf("start connection: %w", err)
	}

	sessionDone := make(chan error, 1)
	go func() { sessionDone <- sess.Run(runCtx) }()

	// Health and metrics
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: newHealthHandler(cfg.Metrics.Path, sess, mgr, rt, journal, pool),
	}
	go func() {
		logger.Info("starting health server", "port", cfg.Metrics.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server error", "error", err)
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := sess.Disconnect(shutdownCtx); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
		select {
		case <-sessionDone:
		case <-shutdownCtx.Done():
			cancelRun()
		}

		if rt != nil {
			rt.Close()
		}
		if journal != nil {
			if err := journal.Stop(shutdownCtx); err != nil {
				logger.Warn("journal writer stop failed", "error", err)
			}
		}
		healthServer.Shutdown(shutdownCtx)
	}()

	select {
	case <-opened:
	case <-ctx.Done():
		return nil
	case <-time.After(connectTimeout):
		return fmt.Errorf("no connection to %s:%d after %s", cfg.Server.Host, cfg.Server.Port, connectTimeout)
	}

	var relogin refresh.LoginFunc
	if cfg.Auth.HasCredentials() {
		relogin = func(ctx context.Context) error { return login(ctx, sess, cfg.Auth, logger) }
		if err := relogin(ctx); err != nil {
			return err
		}
	}

	refresher := refresh.New(refresh.Config{
		Interval:  cfg.Auth.RefreshInterval,
		Before:    cfg.Auth.RefreshBefore,
		Timeout:   cfg.Session.RequestTimeout,
		ExpiresIn: cfg.Auth.ExpiresIn,
	}, sess.Requester(), controller.NewAuth(sess.Requester(), logger), relogin, logger)
	if err := refresher.Start(runCtx); err != nil {
		return fmt.Errorf("start token refresher: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		refresher.Stop(stopCtx)
	}()

	unsubscribers, err := openSubscriptions(ctx, sess.Realtime(), out, cfg.Subscriptions, logger)
	if err != nil {
		return err
	}

	logger.Info("notifytap running",
		"subscriptions", len(unsubscribers),
		"journal", cfg.Journal.Enabled,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port),
	)

	select {
	case <-ctx.Done():
	case err := <-sessionDone:
		sessionDone <- err
		if err != nil {
			return fmt.Errorf("session ended: %w", err)
		}
		return errors.New("session ended: transport closed")
	}

	logger.Info("shutting down...")

	unsubCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, unsubscribe := range unsubscribers {
		if _, err := unsubscribe(unsubCtx); err != nil {
			logger.Warn("unsubscribe failed", "error", err)
		}
	}
	return nil
}

// initialToken returns the configured token, warning when it has already expired.
func initialToken(cfg config.AuthConfig, logger *slog.Logger) (string, error) {
	token := cfg.Token
	if token == "" && cfg.TokenFile != "" {
		var err error
		if token, err = auth.LoadToken(cfg.TokenFile); err != nil {
			return "", fmt.Errorf("load token: %w", err)
		}
	}
	if token == "" {
		return "", nil
	}

	info, err := auth.ParseToken(token)
	if err != nil {
		logger.Warn("configured token is not a readable JWT", "error", err)
		return token, nil
	}
	if info.Expired(time.Now()) {
		logger.Warn("configured token has expired", "kuid", info.KUID, "expired_at", info.ExpiresAt)
	} else {
		logger.Info("using configured token", "kuid", info.KUID, "ttl", info.TTL(time.Now()))
	}
	return token, nil
}

func login(ctx context.Context, sess *session.Session, cfg config.AuthConfig, logger *slog.Logger) error {
	creds, err := auth.LoadCredentials(cfg.Username, cfg.Password, cfg.PasswordFile)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	res, err := controller.NewAuth(sess.Requester(), logger).LoginWith(ctx, creds, cfg.ExpiresIn)
	if err != nil {
		return fmt.Errorf("login as %s: %w", creds.Username, err)
	}
	logger.Debug("login complete", "kuid", res.KUID, "expires_at", res.ExpiresAt)
	return nil
}
