// Package protocol defines the JSON envelopes exchanged with the server.
//
// One envelope shape serves as request, response and notification:
//   - Requests carry controller/action plus a requestId, volatile data and an optional jwt
//   - Responses echo the requestId (and set room to the same value)
//   - Notifications set room to a channel ID of the form "{roomId}-{hash}"
//   - Heartbeats are the bare frames {"p":1} (ping) and {"p":2} (pong)
package protocol
