package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/kuzzle-realtime/internal/metrics"
	"github.com/rickgao/kuzzle-realtime/internal/protocol"
)

// Router turns subscription callbacks into journal records.
//
// Handlers run on the session event loop, so they only encode and enqueue.
// When the buffer is full the record is dropped and counted rather than
// delaying notification delivery.
type Router struct {
	cfg    RouterConfig
	logger *slog.Logger
	buf    *GrowableBuffer[Record]
	now    func() time.Time

	routed      atomic.Int64
	dropped     atomic.Int64
	encodeFails atomic.Int64
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	Routed       int64
	Dropped      int64
	EncodeErrors int64
	Buffer       BufferStats
}

// NewRouter creates a router and its journal buffer.
func NewRouter(cfg RouterConfig, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultRouterConfig().BufferSize
	}
	return &Router{
		cfg:    cfg,
		logger: logger,
		buf:    NewBoundedBuffer[Record](cfg.BufferSize, cfg.MaxBufferSize),
		now:    time.Now,
	}
}

// DocumentHandler returns a callback for a document subscription on index/collection.
func (r *Router) DocumentHandler(index, collection string) func(protocol.DocumentNotification) {
	return func(n protocol.DocumentNotification) {
		payload, err := json.Marshal(documentBody{
			Source:        n.Payload.Source,
			UpdatedFields: n.Payload.UpdatedFields,
		})
		if err != nil {
			r.encodeFails.Add(1)
			r.logger.Warn("encode document notification", "index", index, "collection", collection, "error", err)
			return
		}
		r.enqueue(Record{
			ReceivedAt: r.now(),
			NotifiedAt: fromMillis(n.Timestamp),
			Index:      index,
			Collection: collection,
			Kind:       string(n.Kind()),
			Event:      n.Event,
			Scope:      n.Scope,
			DocumentID: n.Payload.ID,
			Payload:    payload,
		})
	}
}

// PresenceHandler returns a callback for a presence subscription on index/collection.
func (r *Router) PresenceHandler(index, collection string) func(protocol.PresenceNotification) {
	return func(n protocol.PresenceNotification) {
		payload, err := json.Marshal(presenceBody{Volatile: n.Volatile})
		if err != nil {
			r.encodeFails.Add(1)
			r.logger.Warn("encode presence notification", "index", index, "collection", collection, "error", err)
			return
		}
		r.enqueue(Record{
			ReceivedAt:  r.now(),
			NotifiedAt:  fromMillis(n.Timestamp),
			Index:       index,
			Collection:  collection,
			Kind:        string(protocol.KindPresence),
			Scope:       n.Scope,
			UsersInRoom: n.CurrentUsersInRoom,
			Payload:     payload,
		})
	}
}

func (r *Router) enqueue(rec Record) {
	err := r.buf.Send(rec)
	switch {
	case err == nil:
		r.routed.Add(1)
	case errors.Is(err, ErrBufferFull):
		r.dropped.Add(1)
		metrics.RecordJournal(metrics.JournalDropped, 1)
		r.logger.Warn("journal buffer full, dropping notification",
			"index", rec.Index, "collection", rec.Collection, "capacity", r.buf.Cap())
	default:
		// closed during shutdown
		r.dropped.Add(1)
	}
}

// Buffer returns the queue the journal writer consumes.
func (r *Router) Buffer() *GrowableBuffer[Record] {
	return r.buf
}

// Close stops accepting records. Queued records remain readable.
func (r *Router) Close() {
	r.buf.Close()
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		Routed:       r.routed.Load(),
		Dropped:      r.dropped.Load(),
		EncodeErrors: r.encodeFails.Load(),
		Buffer:       r.buf.Stats(),
	}
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
