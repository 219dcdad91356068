// Package connection implements the transport adapter.
//
// The transport adapter:
//   - Owns a single WebSocket connection at a time (gorilla/websocket)
//   - Answers WebSocket control pings and flags stale connections
//   - Reconnects with exponential backoff after a failure
//   - Publishes lifecycle events (opened, closed, errored, message) in order
//
// It knows nothing about the protocol carried on top of the socket.
package connection
