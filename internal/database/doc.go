// Package database manages the PostgreSQL pool backing the notification journal.
//
// The journal is a single append-only table, notifications, created on
// startup by EnsureSchema.
package database
