package core

import "errors"

var (
	// ErrAuthExpired marks a rejected or expired credential, from either a
	// REST 401/403 or a realtime handshake rejection. It is terminal for
	// the session: the one error class that crosses component boundaries,
	// always ending in a logout.
	ErrAuthExpired = errors.New("session credential rejected")

	// ErrConnectTimeout is returned when a connection attempt does not
	// settle within the configured bound.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrNotConnected is returned by publish operations that require a
	// live connection.
	ErrNotConnected = errors.New("not connected")
)
