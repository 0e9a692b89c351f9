// Package apperr defines the sentinel errors shared across notely packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation marks input rejected before any I/O happens.
	ErrValidation = errors.New("validation failed")

	ErrEncryptionUnavailable = errors.New("secure encryption is not available on this machine")
	ErrDecryptionFailed      = errors.New("stored credential could not be decrypted")
	ErrTokenRequired         = errors.New("a personal access token is required")

	ErrGitCommandFailed  = errors.New("git command failed")
	ErrNotAGitRepository = errors.New("not a git repository")
	ErrDivergentHistory  = errors.New("remote and local histories are unrelated")
	ErrVaultMismatch     = errors.New("sync is configured for a different vault")
)

// ReconnectRequired reports whether err means the stored credential is
// unusable and the user has to connect again.
func ReconnectRequired(err error) bool {
	return errors.Is(err, ErrEncryptionUnavailable) ||
		errors.Is(err, ErrDecryptionFailed) ||
		errors.Is(err, ErrTokenRequired)
}
