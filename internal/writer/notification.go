package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/kuzzle-realtime/internal/metrics"
	"github.com/rickgao/kuzzle-realtime/internal/router"
)

const insertNotification = `
	INSERT INTO notifications
		(received_at, notified_at, index_name, collection, kind, event, scope, document_id, users_in_room, payload)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// finalFlushTimeout bounds the flush performed by Stop.
const finalFlushTimeout = 5 * time.Second

// NotificationWriter consumes journal records and writes them to the notifications table.
type NotificationWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *router.GrowableBuffer[router.Record]
	db    BatchSender

	batch       []notificationRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewNotificationWriter creates a writer. db is usually a *pgxpool.Pool.
func NewNotificationWriter(
	cfg WriterConfig,
	input *router.GrowableBuffer[router.Record],
	db BatchSender,
	logger *slog.Logger,
) *NotificationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &NotificationWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]notificationRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *NotificationWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("notification writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down. Records still queued in the input buffer are
// drained and written in a final flush.
func (w *NotificationWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping notification writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("notification writer stop timed out")
		return ctx.Err()
	}

	for _, rec := range w.input.DrainTo(0) {
		w.appendRow(w.transform(rec))
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	w.flush(flushCtx)

	w.logger.Info("notification writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *NotificationWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *NotificationWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		rec, ok := w.input.TryReceive()
		if !ok {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		if w.appendRow(w.transform(rec)) {
			w.flush(w.ctx)
		}
	}
}

func (w *NotificationWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// appendRow adds a row and reports whether the batch is full.
func (w *NotificationWriter) appendRow(row notificationRow) bool {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

func (w *NotificationWriter) transform(rec router.Record) notificationRow {
	row := notificationRow{
		ReceivedAt: rec.ReceivedAt,
		Index:      rec.Index,
		Collection: rec.Collection,
		Kind:       rec.Kind,
		Scope:      rec.Scope,
		Payload:    rec.Payload,
	}
	if !rec.NotifiedAt.IsZero() {
		at := rec.NotifiedAt
		row.NotifiedAt = &at
	}
	if rec.Event != "" {
		event := rec.Event
		row.Event = &event
	}
	if rec.DocumentID != "" {
		id := rec.DocumentID
		row.DocumentID = &id
	}
	if rec.Kind == "presence" {
		users := rec.UsersInRoom
		row.UsersInRoom = &users
	}
	if len(row.Payload) == 0 {
		row.Payload = []byte("{}")
	}
	return row
}

// flush writes the current batch. A failed batch is logged and discarded.
func (w *NotificationWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}
	batch := w.batch
	w.batch = make([]notificationRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.metrics.Failed += int64(len(batch))
		w.batchMu.Unlock()
		metrics.RecordJournal(metrics.JournalFailed, len(batch))
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.batchMu.Unlock()
	metrics.RecordJournal(metrics.JournalInserted, len(batch))

	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

func (w *NotificationWriter) batchInsert(ctx context.Context, rows []notificationRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertNotification,
			r.ReceivedAt, r.NotifiedAt, r.Index, r.Collection, r.Kind,
			r.Event, r.Scope, r.DocumentID, r.UsersInRoom, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
