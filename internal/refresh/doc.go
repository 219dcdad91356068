// Package refresh keeps a session's bearer token from expiring.
//
// The Refresher inspects the token's expiry on an interval and calls
// auth:refreshToken once the remaining lifetime drops under a margin. When
// the token is gone (the server invalidated it) or already expired, it falls
// back to an optional login function.
package refresh
