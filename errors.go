package asyncmc

import "errors"

var (
	// ErrConnectionClosed is delivered to callers whose connection went away.
	// For requests that were already sent the outcome is indeterminate: the
	// server may or may not have processed them.
	ErrConnectionClosed = errors.New("asyncmc: connection closed")

	// ErrReplyKindMismatch is reported when a decoded reply does not carry
	// the kind the awaiting request expects. It signals protocol corruption;
	// the delivery is rejected and the caller is left to time out.
	ErrReplyKindMismatch = errors.New("asyncmc: reply kind does not match the awaiting request")

	// ErrNoOpNotCorrelatable is returned when an mn request is issued on a
	// connection that matches replies by opaque token: MN replies carry no
	// flags, so they could never be matched back. Use an ordered connection,
	// or Ping for liveness checks.
	ErrNoOpNotCorrelatable = errors.New("asyncmc: mn replies cannot be correlated by opaque token")

	// ErrCacheMiss is returned by Querier operations when the key is absent.
	ErrCacheMiss = errors.New("asyncmc: cache miss")

	// ErrNotStored is returned when a conditional store was not applied,
	// e.g. Add on an existing key.
	ErrNotStored = errors.New("asyncmc: item not stored")

	// ErrNoServers is returned when the client has no server to route to.
	ErrNoServers = errors.New("asyncmc: no servers available")
)
