// Package session implements the protocol core multiplexed over one connection.
//
// Inbound frames are offered, in order, to:
//  1. Keepalive: claims bare {"p":n} frames and answers server pings
//  2. Authentication cleanup: clears the bearer token on invalidation, never claims
//  3. Request correlation: claims replies to pending requests
//  4. Subscription registry: fans notifications out to room/channel observers
//
// All outbound traffic goes through the Engine. The Registry records every
// subscribe payload so the Session can replay them after each reconnect.
package session
