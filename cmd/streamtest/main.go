// streamtest opens a realtime session and prints notifications to the console.
// Usage: go run ./cmd/streamtest --index chat --collection messages
//
// Connection and auth settings come from KUZZLE_* environment variables
// (KUZZLE_HOST, KUZZLE_PORT, KUZZLE_USERNAME, KUZZLE_PASSWORD, ...) and can be
// overridden with flags.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/auth"
	"github.com/rickgao/kuzzle-realtime/internal/config"
	"github.com/rickgao/kuzzle-realtime/internal/connection"
	"github.com/rickgao/kuzzle-realtime/internal/controller"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
	"github.com/rickgao/kuzzle-realtime/internal/session"
)

type options struct {
	index      string
	collection string
	scope      string
	presence   bool
	ignoreSelf bool
	write      string // document body to create once subscribed
	publish    string // ephemeral payload to publish once subscribed
	verbose    bool
}

func main() {
	cfg, err := config.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment: %v\n", err)
		os.Exit(1)
	}

	var opts options
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Kuzzle host")
	flag.IntVar(&cfg.Server.Port, "port", cfg.Server.Port, "Kuzzle port")
	flag.BoolVar(&cfg.Server.SSL, "ssl", cfg.Server.SSL, "use wss://")
	flag.StringVar(&cfg.Auth.Username, "username", cfg.Auth.Username, "local strategy username")
	flag.StringVar(&cfg.Auth.Password, "password", cfg.Auth.Password, "local strategy password")
	flag.StringVar(&opts.index, "index", "", "index to subscribe to (required)")
	flag.StringVar(&opts.collection, "collection", "", "collection to subscribe to (required)")
	flag.StringVar(&opts.scope, "scope", session.ScopeAll, "document scope: all, in, out, none")
	flag.BoolVar(&opts.presence, "presence", false, "also subscribe to users entering and leaving")
	flag.BoolVar(&opts.ignoreSelf, "ignore-self", false, "drop notifications caused by this session")
	flag.StringVar(&opts.write, "write", "", "JSON document to create after subscribing")
	flag.StringVar(&opts.publish, "publish", "", "JSON payload to publish as an ephemeral notification")
	flag.BoolVar(&opts.verbose, "verbose", false, "print full notification JSON")
	flag.Parse()

	if opts.index == "" || opts.collection == "" {
		fmt.Fprintln(os.Stderr, "--index and --collection are required")
		flag.Usage()
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := stream(ctx, cfg, opts, logger); err != nil {
		logger.Error("streamtest failed", "error", err)
		os.Exit(1)
	}
}

func stream(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	mgr := connection.NewManager(connection.ManagerConfig{
		URL:               connection.BuildURL(cfg.Server.Host, cfg.Server.Port, cfg.Server.SSL, cfg.Server.Path),
		HandshakeTimeout:  cfg.Connection.HandshakeTimeout,
		ReadTimeout:       cfg.Connection.ReadTimeout,
		WriteTimeout:      cfg.Connection.WriteTimeout,
		ReconnectBaseWait: cfg.Connection.ReconnectBaseDelay,
		ReconnectMaxWait:  cfg.Connection.ReconnectMaxDelay,
		EventBufferSize:   cfg.Connection.EventBufferSize,
	}, logger)

	sess := session.New(mgr, session.Config{
		RequestTimeout: cfg.Session.RequestTimeout,
		PingInterval:   cfg.Session.PingInterval,
		AuthToken:      cfg.Auth.Token,
	}, logger)

	opened := make(chan struct{}, 1)
	sess.OnEvent(func(ev connection.Event) {
		switch ev.Kind {
		case connection.EventOpened:
			select {
			case opened <- struct{}{}:
			default:
			}
		case connection.EventClosed:
			fmt.Println("--- disconnected, waiting for reconnect ---")
		}
	})

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()

	if err := mgr.Start(runCtx); err != nil {
		return err
	}
	go sess.Run(runCtx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		sess.Disconnect(stopCtx)
	}()

	select {
	case <-opened:
	case <-ctx.Done():
		return nil
	}

	requester := sess.Requester()

	if now, err := controller.NewServer(requester).Now(ctx); err == nil {
		logger.Info("connected", "server_time", time.UnixMilli(now).UTC(), "instance", sess.InstanceID())
	}

	if cfg.Auth.HasCredentials() {
		creds, err := auth.LoadCredentials(cfg.Auth.Username, cfg.Auth.Password, cfg.Auth.PasswordFile)
		if err != nil {
			return err
		}
		if _, err := controller.NewAuth(requester, logger).LoginWith(ctx, creds, ""); err != nil {
			return err
		}
	}

	if err := checkTarget(ctx, requester, opts.index, opts.collection); err != nil {
		return err
	}

	realtime := sess.Realtime()
	selfOpt := session.WithSelfNotifications(!opts.ignoreSelf)

	unsubscribe, err := realtime.SubscribeToDocumentNotifications(ctx,
		session.DocumentTarget{Index: opts.index, Collection: opts.collection, Scope: opts.scope},
		nil,
		func(n protocol.DocumentNotification) { printNotification(n, opts.verbose) },
		selfOpt,
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer release(unsubscribe, logger)

	if opts.presence {
		unsubscribePresence, err := realtime.SubscribeToPresenceNotifications(ctx,
			session.PresenceTarget{Index: opts.index, Collection: opts.collection},
			nil,
			func(n protocol.PresenceNotification) { printNotification(n, opts.verbose) },
			selfOpt,
		)
		if err != nil {
			return fmt.Errorf("subscribe presence: %w", err)
		}
		defer release(unsubscribePresence, logger)
	}

	fmt.Printf("subscribed to %s/%s, press Ctrl+C to exit\n", opts.index, opts.collection)

	if opts.write != "" {
		var body map[string]any
		if err := json.Unmarshal([]byte(opts.write), &body); err != nil {
			return fmt.Errorf("parse --write: %w", err)
		}
		doc, err := controller.NewDocuments(requester).Create(ctx, opts.index, opts.collection, body, "")
		if err != nil {
			return err
		}
		logger.Info("document created", "id", doc.ID)
	}

	if opts.publish != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(opts.publish), &payload); err != nil {
			return fmt.Errorf("parse --publish: %w", err)
		}
		reply, err := realtime.SendEphemeralNotification(ctx, opts.index, opts.collection, payload)
		if err != nil {
			return err
		}
		logger.Info("message published", "status", reply.Status)
	}

	<-ctx.Done()
	fmt.Println("\nshutting down...")
	return nil
}

func checkTarget(ctx context.Context, r controller.Requester, index, collection string) error {
	ok, err := controller.NewIndexes(r).Exists(ctx, index)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("index %q does not exist", index)
	}
	ok, err = controller.NewCollections(r).Exists(ctx, index, collection)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("collection %s/%s does not exist", index, collection)
	}
	return nil
}

func release(unsubscribe session.UnsubscribeFunc, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := unsubscribe(ctx); err != nil {
		logger.Warn("unsubscribe failed", "error", err)
	}
}

func printNotification(n protocol.Notification, verbose bool) {
	ts := time.Now().Format("15:04:05.000")

	if verbose {
		data, _ := json.MarshalIndent(n, "", "  ")
		fmt.Printf("[%s] %s\n%s\n", ts, n.Kind(), data)
		return
	}

	switch v := n.(type) {
	case protocol.DocumentNotification:
		id := v.Payload.ID
		if id == "" {
			id = "-"
		}
		fmt.Printf("[%s] %-9s %-7s scope=%-3s id=%s %s\n",
			ts, v.Type, v.Event, v.Scope, id, v.Payload.Source)
	case protocol.PresenceNotification:
		fmt.Printf("[%s] presence  user %-3s  users_in_room=%d\n",
			ts, v.Scope, v.CurrentUsersInRoom)
	}
}
