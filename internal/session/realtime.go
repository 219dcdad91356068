package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/kuzzle-realtime/internal/metrics"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Document subscription scopes.
const (
	ScopeAll  = "all"
	ScopeIn   = "in"
	ScopeOut  = "out"
	ScopeNone = "none"
)

// Presence subscription filters.
const (
	UsersAll  = "all"
	UsersIn   = "in"
	UsersOut  = "out"
	UsersNone = "none"
)

// maxSubscribeAttempts bounds retries of a subscribe whose room was released
// while its reply was in flight.
const maxSubscribeAttempts = 3

// Requester starts a correlated request without waiting for its reply.
// *Engine satisfies it.
type Requester interface {
	Go(payload protocol.Payload) (*Call, error)
}

// UnsubscribeFunc removes one observer and returns the observers left in its room.
// Calling it more than once is a no-op.
//
// Releasing the last observer of a room waits for the server to acknowledge.
// Called from a notification callback it returns once the request is sent
// instead, since the acknowledgement is dispatched by the goroutine running
// the callback; a failed release is then only logged.
type UnsubscribeFunc func(ctx context.Context) (int, error)

// DocumentTarget selects the collection and scope of a document subscription.
type DocumentTarget struct {
	Index      string
	Collection string
	Scope      string // ScopeAll when empty
}

// PresenceTarget selects the collection and user events of a presence subscription.
type PresenceTarget struct {
	Index      string
	Collection string
	Users      string // UsersAll when empty
}

// SubscribeOption adjusts one subscription.
type SubscribeOption func(*observer)

// WithSelfNotifications controls whether the observer sees notifications this
// session caused. Defaults to true.
func WithSelfNotifications(interested bool) SubscribeOption {
	return func(o *observer) {
		o.interestedInSelf = interested
	}
}

// RegistryStats is a snapshot of registered subscriptions.
type RegistryStats struct {
	Rooms     []RoomInfo
	Channels  int
	Observers int
}

// Registry tracks rooms and their observers, routes notifications and replays
// subscriptions after a reconnect.
type Registry struct {
	requests   Requester
	instanceID string
	logger     *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*room
	replay map[string]protocol.Payload // channel -> subscribe payload

	// Subscribes and releases are sent under mu, so seq follows the order the
	// server sees them. released holds the seq of room releases sent while
	// subscribes were in flight.
	seq      int64
	inflight int
	released map[string]int64

	delivering atomic.Bool
}

// NewRegistry creates an empty registry issuing requests through requests.
// instanceID identifies this session when filtering self notifications.
func NewRegistry(requests Requester, instanceID string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		requests:   requests,
		instanceID: instanceID,
		logger:     logger,
		rooms:      make(map[string]*room),
		replay:     make(map[string]protocol.Payload),
		released:   make(map[string]int64),
	}
}

// SubscribeToDocumentNotifications subscribes to document changes in a collection.
func (r *Registry) SubscribeToDocumentNotifications(
	ctx context.Context,
	target DocumentTarget,
	filters map[string]any,
	callback func(protocol.DocumentNotification),
	opts ...SubscribeOption,
) (UnsubscribeFunc, error) {
	scope := target.Scope
	if scope == "" {
		scope = ScopeAll
	}

	payload := protocol.Payload{
		"controller": "realtime",
		"action":     "subscribe",
		"index":      target.Index,
		"collection": target.Collection,
		"scope":      scope,
		"users":      UsersNone,
		"body":       filterBody(filters),
	}

	notify := func(n protocol.Notification) {
		if doc, ok := n.(protocol.DocumentNotification); ok {
			callback(doc)
		}
	}
	return r.subscribe(ctx, payload, notify, opts)
}

// SubscribeToPresenceNotifications subscribes to users entering and leaving a collection room.
func (r *Registry) SubscribeToPresenceNotifications(
	ctx context.Context,
	target PresenceTarget,
	filters map[string]any,
	callback func(protocol.PresenceNotification),
	opts ...SubscribeOption,
) (UnsubscribeFunc, error) {
	users := target.Users
	if users == "" {
		users = UsersAll
	}

	payload := protocol.Payload{
		"controller": "realtime",
		"action":     "subscribe",
		"index":      target.Index,
		"collection": target.Collection,
		"users":      users,
		"scope":      ScopeNone,
		"body":       filterBody(filters),
	}

	notify := func(n protocol.Notification) {
		if p, ok := n.(protocol.PresenceNotification); ok {
			callback(p)
		}
	}
	return r.subscribe(ctx, payload, notify, opts)
}

// SendEphemeralNotification publishes a message to subscribers without
// persisting it and returns the raw reply.
func (r *Registry) SendEphemeralNotification(ctx context.Context, index, collection string, payload map[string]any) (*protocol.Envelope, error) {
	env, err := r.request(ctx, protocol.Payload{
		"controller": "realtime",
		"action":     "publish",
		"index":      index,
		"collection": collection,
		"body":       payload,
	})
	if err != nil {
		return nil, fmt.Errorf("publish to %s/%s: %w", index, collection, err)
	}
	return env, nil
}

func (r *Registry) request(ctx context.Context, payload protocol.Payload) (*protocol.Envelope, error) {
	call, err := r.requests.Go(payload)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

func filterBody(filters map[string]any) map[string]any {
	if filters == nil {
		return map[string]any{}
	}
	return filters
}

func (r *Registry) subscribe(
	ctx context.Context,
	payload protocol.Payload,
	notify func(protocol.Notification),
	opts []SubscribeOption,
) (UnsubscribeFunc, error) {
	o := &observer{interestedInSelf: true, notify: notify}
	for _, opt := range opts {
		opt(o)
	}

	for attempt := 1; ; attempt++ {
		res, stale, err := r.subscribeOnce(ctx, payload, o)
		if err != nil {
			return nil, err
		}
		if !stale {
			r.logger.Debug("subscribed",
				"room_id", res.RoomID,
				"channel", res.Channel,
				"index", payload["index"],
				"collection", payload["collection"],
			)
			return r.unsubscriber(o), nil
		}
		if attempt == maxSubscribeAttempts {
			return nil, fmt.Errorf("subscribe room %s: %w", res.RoomID, ErrRoomReleased)
		}
		r.logger.Debug("room released during subscribe, retrying", "room_id", res.RoomID, "attempt", attempt)
	}
}

// subscribeOnce sends payload and registers o with the room from the reply.
// stale reports that the room was released after this subscribe was sent, so
// the server dropped it and o was not registered.
func (r *Registry) subscribeOnce(ctx context.Context, payload protocol.Payload, o *observer) (res protocol.SubscriptionResult, stale bool, err error) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	call, err := r.requests.Go(payload)
	if err != nil {
		r.mu.Unlock()
		return res, false, err
	}
	r.inflight++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		if r.inflight == 0 {
			clear(r.released)
		}
		r.mu.Unlock()
	}()

	env, err := call.Wait(ctx)
	if err != nil {
		return res, false, err
	}
	if err := env.DecodeResult(&res); err != nil {
		return res, false, fmt.Errorf("decode subscribe result: %w", err)
	}
	if res.RoomID == "" || res.Channel == "" {
		return res, false, ErrInvalidSubscription
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.released[res.RoomID] > seq {
		return res, true, nil
	}

	r.replay[res.Channel] = payload
	rm, ok := r.rooms[res.RoomID]
	if !ok {
		rm = newRoom(res.RoomID)
		r.rooms[res.RoomID] = rm
	}
	rm.add(res.Channel, o)
	r.publishStatsLocked()
	return res, false, nil
}

func (r *Registry) unsubscriber(o *observer) UnsubscribeFunc {
	return func(ctx context.Context) (int, error) {
		r.mu.Lock()
		if o.removed {
			remaining := 0
			if rm, ok := r.rooms[o.roomID]; ok {
				remaining = rm.total()
			}
			r.mu.Unlock()
			return remaining, nil
		}
		o.removed = true

		roomID, channel := o.roomID, o.channel
		rm, ok := r.rooms[roomID]
		if !ok {
			r.mu.Unlock()
			return 0, nil
		}

		if rm.remove(channel, o) {
			delete(r.replay, channel)
		}
		if !rm.empty() {
			remaining := rm.total()
			r.publishStatsLocked()
			r.mu.Unlock()
			return remaining, nil
		}

		delete(r.rooms, roomID)
		r.publishStatsLocked()
		r.seq++
		if r.inflight > 0 {
			r.released[roomID] = r.seq
		}
		call, err := r.requests.Go(protocol.Payload{
			"controller": "realtime",
			"action":     "unsubscribe",
			"body":       map[string]any{"roomId": roomID},
		})
		r.mu.Unlock()
		if err != nil {
			return 0, fmt.Errorf("unsubscribe room %s: %w", roomID, err)
		}

		if r.delivering.Load() {
			go r.awaitRelease(call, roomID)
			return 0, nil
		}
		if _, err := call.Wait(ctx); err != nil {
			return 0, fmt.Errorf("unsubscribe room %s: %w", roomID, err)
		}

		r.logger.Debug("room released", "room_id", roomID)
		return 0, nil
	}
}

// awaitRelease logs the outcome of a release sent from a notification callback.
// The engine timeout bounds the wait.
func (r *Registry) awaitRelease(call *Call, roomID string) {
	if _, err := call.Wait(context.Background()); err != nil {
		r.logger.Warn("unsubscribe failed", "room_id", roomID, "error", err)
		return
	}
	r.logger.Debug("room released", "room_id", roomID)
}

// HandleMessage fans a notification out to the observers of its channel.
// Observers registered with WithSelfNotifications(false) skip notifications
// this session caused.
func (r *Registry) HandleMessage(env *protocol.Envelope) bool {
	if env.Room == "" {
		return false
	}

	r.mu.Lock()
	var targets []*observer
	if rm, ok := r.rooms[protocol.RoomOf(env.Room)]; ok {
		targets = rm.observers(env.Room)
	}
	r.mu.Unlock()

	if len(targets) == 0 {
		switch env.Type {
		case protocol.TypeDocument:
			metrics.RecordNotification(string(protocol.KindDocument), metrics.NotificationDropped)
		case protocol.TypeUser:
			metrics.RecordNotification(string(protocol.KindPresence), metrics.NotificationDropped)
		}
		return false
	}

	n, ok, err := protocol.MapNotification(env)
	if err != nil {
		r.logger.Warn("undeliverable notification", "channel", env.Room, "error", err)
		return true
	}
	if !ok {
		return true
	}

	fromSelf := r.instanceID != "" && env.InstanceID() == r.instanceID
	kind := string(n.Kind())

	r.delivering.Store(true)
	defer r.delivering.Store(false)

	for _, o := range targets {
		if fromSelf && !o.interestedInSelf {
			metrics.RecordNotification(kind, metrics.NotificationFiltered)
			continue
		}
		o.notify(n)
		metrics.RecordNotification(kind, metrics.NotificationDelivered)
	}
	return true
}

// RestoreSubscriptions replays every recorded subscribe payload.
// Observers move to the new room and channel when the server assigns different ones.
func (r *Registry) RestoreSubscriptions(ctx context.Context) error {
	r.mu.Lock()
	snapshot := maps.Clone(r.replay)
	r.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	var g errgroup.Group
	for channel, payload := range snapshot {
		g.Go(func() error {
			// Skip channels released since the snapshot; replaying them would
			// resubscribe a room nobody observes.
			r.mu.Lock()
			if _, ok := r.replay[channel]; !ok {
				r.mu.Unlock()
				return nil
			}
			call, err := r.requests.Go(payload)
			r.mu.Unlock()
			if err != nil {
				return fmt.Errorf("restore channel %s: %w", channel, err)
			}

			env, err := call.Wait(ctx)
			if err != nil {
				return fmt.Errorf("restore channel %s: %w", channel, err)
			}

			var res protocol.SubscriptionResult
			if err := env.DecodeResult(&res); err != nil {
				return fmt.Errorf("decode restore result for %s: %w", channel, err)
			}

			r.rekey(channel, res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.logger.Info("subscriptions restored", "count", len(snapshot))
	return nil
}

// rekey moves the observers of oldChannel to the room and channel the server
// returned on replay.
func (r *Registry) rekey(oldChannel string, res protocol.SubscriptionResult) {
	if res.RoomID == "" || res.Channel == "" || res.Channel == oldChannel {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	payload, ok := r.replay[oldChannel]
	if !ok {
		// unsubscribed while the replay was in flight
		return
	}

	var moved []*observer
	for id, rm := range r.rooms {
		if _, ok := rm.channels[oldChannel]; !ok {
			continue
		}
		moved = rm.take(oldChannel)
		if rm.empty() {
			delete(r.rooms, id)
		}
		break
	}

	target, ok := r.rooms[res.RoomID]
	if !ok {
		target = newRoom(res.RoomID)
		r.rooms[res.RoomID] = target
	}
	for _, o := range moved {
		target.add(res.Channel, o)
	}

	delete(r.replay, oldChannel)
	r.replay[res.Channel] = payload
	r.publishStatsLocked()

	r.logger.Info("subscription moved",
		"old_channel", oldChannel,
		"room_id", res.RoomID,
		"channel", res.Channel,
		"observers", len(moved),
	)
}

// Stats returns a snapshot of rooms, channels and observers.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{Rooms: make([]RoomInfo, 0, len(r.rooms))}
	for _, rm := range r.rooms {
		info := rm.info()
		stats.Rooms = append(stats.Rooms, info)
		stats.Channels += len(info.PerChannel)
		stats.Observers += info.Total
	}
	return stats
}

// ReplayChannels returns the channels currently recorded for replay.
func (r *Registry) ReplayChannels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	channels := make([]string, 0, len(r.replay))
	for channel := range r.replay {
		channels = append(channels, channel)
	}
	return channels
}

func (r *Registry) publishStatsLocked() {
	total := 0
	for _, rm := range r.rooms {
		total += rm.total()
	}
	metrics.SetSubscriptions(len(r.rooms), total)
}
