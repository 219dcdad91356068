// Package writer persists journal records to PostgreSQL.
//
// NotificationWriter drains the router buffer, accumulates rows and inserts
// them with pgx.Batch either when a batch fills up or on a flush interval.
// The journal is append-only.
package writer
