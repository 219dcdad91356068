// Package router turns realtime notifications into journal records.
//
// Subscription callbacks produced by Router encode each notification into a
// Record and enqueue it on a GrowableBuffer. The journal writer drains that
// buffer in batches. Enqueueing never blocks the caller.
package router
