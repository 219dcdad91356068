package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig controls batching.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultWriterConfig returns default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Inserts int64
	Errors  int64 // failed batches
	Failed  int64 // rows in failed batches
	Flushes int64
}

// BatchSender is the subset of *pgxpool.Pool the writer uses.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// notificationRow is one row of the notifications table.
type notificationRow struct {
	ReceivedAt  time.Time
	NotifiedAt  *time.Time
	Index       string
	Collection  string
	Kind        string
	Event       *string
	Scope       string
	DocumentID  *string
	UsersInRoom *int
	Payload     []byte
}
