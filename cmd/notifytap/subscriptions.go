package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kuzzle-realtime/internal/config"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
	"github.com/rickgao/kuzzle-realtime/internal/session"
)

// subscriber is the part of *session.Registry used to open subscriptions.
type subscriber interface {
	SubscribeToDocumentNotifications(
		ctx context.Context,
		target session.DocumentTarget,
		filters map[string]any,
		callback func(protocol.DocumentNotification),
		opts ...session.SubscribeOption,
	) (session.UnsubscribeFunc, error)
	SubscribeToPresenceNotifications(
		ctx context.Context,
		target session.PresenceTarget,
		filters map[string]any,
		callback func(protocol.PresenceNotification),
		opts ...session.SubscribeOption,
	) (session.UnsubscribeFunc, error)
}

// sink builds the callbacks subscriptions deliver to.
// *router.Router journals them; logSink only logs them.
type sink interface {
	DocumentHandler(index, collection string) func(protocol.DocumentNotification)
	PresenceHandler(index, collection string) func(protocol.PresenceNotification)
}

// logSink logs notifications when the journal is disabled.
type logSink struct {
	logger *slog.Logger
}

func (l logSink) DocumentHandler(index, collection string) func(protocol.DocumentNotification) {
	return func(n protocol.DocumentNotification) {
		l.logger.Info("notification",
			"kind", n.Type,
			"index", index,
			"collection", collection,
			"event", n.Event,
			"scope", n.Scope,
			"document_id", n.Payload.ID,
		)
	}
}

func (l logSink) PresenceHandler(index, collection string) func(protocol.PresenceNotification) {
	return func(n protocol.PresenceNotification) {
		l.logger.Info("presence",
			"index", index,
			"collection", collection,
			"scope", n.Scope,
			"users_in_room", n.CurrentUsersInRoom,
		)
	}
}

// openSubscriptions subscribes to every configured target concurrently.
// On failure the subscriptions that did open are released.
func openSubscriptions(
	ctx context.Context,
	rt subscriber,
	out sink,
	subs []config.SubscriptionConfig,
	logger *slog.Logger,
) ([]session.UnsubscribeFunc, error) {
	var (
		mu     sync.Mutex
		opened []session.UnsubscribeFunc
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, sub := range subs {
		g.Go(func() error {
			unsubscribe, err := subscribe(gctx, rt, out, sub)
			if err != nil {
				return fmt.Errorf("subscriptions[%d] %s/%s: %w", i, sub.Index, sub.Collection, err)
			}
			logger.Info("subscribed",
				"kind", sub.Kind,
				"index", sub.Index,
				"collection", sub.Collection,
			)
			mu.Lock()
			opened = append(opened, unsubscribe)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, unsubscribe := range opened {
			if _, uerr := unsubscribe(context.WithoutCancel(ctx)); uerr != nil {
				logger.Warn("release subscription failed", "error", uerr)
			}
		}
		return nil, err
	}
	return opened, nil
}

func subscribe(ctx context.Context, rt subscriber, out sink, sub config.SubscriptionConfig) (session.UnsubscribeFunc, error) {
	opt := session.WithSelfNotifications(!sub.IgnoreSelf)

	switch sub.Kind {
	case config.SubscriptionPresence:
		return rt.SubscribeToPresenceNotifications(ctx,
			session.PresenceTarget{Index: sub.Index, Collection: sub.Collection, Users: sub.Users},
			sub.Filters,
			out.PresenceHandler(sub.Index, sub.Collection),
			opt,
		)
	default:
		return rt.SubscribeToDocumentNotifications(ctx,
			session.DocumentTarget{Index: sub.Index, Collection: sub.Collection, Scope: sub.Scope},
			sub.Filters,
			out.DocumentHandler(sub.Index, sub.Collection),
			opt,
		)
	}
}
