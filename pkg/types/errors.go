package types

import "errors"

// Error taxonomy shared by the session components. Providers and sessions wrap
// these with fmt.Errorf("...: %w", ...) so callers can test with errors.Is.
var (
	// ErrConfiguration reports a missing or invalid credential or setting.
	// It is fatal to the operation and never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrPermission reports that an audio device could not be acquired.
	ErrPermission = errors.New("permission denied")

	// ErrConnection reports a handshake or network failure of a remote channel.
	// The affected session is torn down.
	ErrConnection = errors.New("connection error")

	// ErrTransient marks a send failure that is expected to succeed after the
	// channel is re-established.
	ErrTransient = errors.New("transient transport error")

	// ErrDecode reports a malformed audio payload.
	ErrDecode = errors.New("decode error")

	// ErrSessionNotInitialized is returned when a text session is used before
	// any system prompt was ever supplied.
	ErrSessionNotInitialized = errors.New("session not initialized")
)
