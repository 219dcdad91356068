// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Request outcomes and latency (ok, error, timeout)
//   - Notification delivery, self-filtering and drops
//   - Rooms and observers currently registered
//   - WebSocket connection state and reconnects
//   - Notification journal inserts and failures
package metrics
