package manager

import (
	"errors"

	"github.com/1ureka/phonelink/internal/channel"
	"github.com/1ureka/phonelink/internal/cryptobox"
	"github.com/1ureka/phonelink/internal/iceconfig"
)

// Failure taxonomy reported through Handlers. Classify with errors.Is.
var (
	// ErrConfigFetchFailed is reported via OnWarning; the fallback list is used.
	ErrConfigFetchFailed = iceconfig.ErrFetchFailed
	// ErrTransport wraps relay/transport failures. Dial errors the socket is
	// still retrying arrive via OnWarning; a socket that gave up or closed
	// costs one manager attempt.
	ErrTransport = errors.New("manager: transport failure")
	// ErrConnectTimeout means the remote party did not prove itself in time.
	ErrConnectTimeout = errors.New("manager: remote did not answer in time")
	// ErrMaxAttemptsExceeded is terminal until Retry is called.
	ErrMaxAttemptsExceeded = errors.New("manager: max reconnect attempts exceeded")
	// ErrDecryptionFailed is per envelope and reported via OnWarning.
	ErrDecryptionFailed = cryptobox.ErrDecryptionFailed
	// ErrInvalidRemoteSerialization is terminal for the connection it came from.
	ErrInvalidRemoteSerialization = channel.ErrInvalidRemoteSerialization
	// ErrCryptoUnavailable means no randomness source; nothing can be built.
	ErrCryptoUnavailable = cryptobox.ErrCryptoUnavailable

	ErrNotConnected = channel.ErrNotConnected
	ErrStopped      = errors.New("manager: stopped")
)

// Fatal reports whether err ends a connection for good, leaving the next
// step to the caller.
func Fatal(err error) bool {
	return errors.Is(err, ErrMaxAttemptsExceeded) ||
		errors.Is(err, ErrInvalidRemoteSerialization) ||
		errors.Is(err, ErrCryptoUnavailable)
}
