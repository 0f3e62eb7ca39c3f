// Package errs implements the error taxonomy of spec.md §7: a small set of
// attributable error kinds shared by every component, following the
// teacher's fmt.Errorf("component: %w", err) wrapping idiom rather than
// introducing a third-party error-stacking library.
package errs

import (
	"errors"
	"fmt"

	"github.com/stars-labs/mpc-wallet-core/pkg/party"
)

// Kind enumerates the taxonomy of spec.md §7.
type Kind int

const (
	// Invalid marks malformed input: bad encoding, out-of-range index, zero
	// threshold. Local and non-recoverable for the offending call, but safe
	// to retry with corrected input.
	Invalid Kind = iota + 1
	// Conflict marks an idempotence violation: the same (sender, round)
	// delivered with different content. Attributed to the sender; the
	// session transitions to Failed.
	Conflict
	// Blame marks a cryptographic verification failure attributable to a
	// specific participant.
	Blame
	// BadPassword marks an authentication-tag mismatch on keystore load.
	BadPassword
	// Corrupt marks a structural error in persisted or imported data.
	Corrupt
	// NotFound marks an absent wallet or session.
	NotFound
	// Cancelled marks cooperative cancellation.
	Cancelled
	// Internal marks an invariant violation. Callers should treat this as
	// fatal to the process, not merely to the current operation.
	Internal
	// Exists marks an attempt to create a record that already exists
	// without requesting overwrite.
	Exists
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "Invalid"
	case Conflict:
		return "Conflict"
	case Blame:
		return "Blame"
	case BadPassword:
		return "BadPassword"
	case Corrupt:
		return "Corrupt"
	case NotFound:
		return "NotFound"
	case Cancelled:
		return "Cancelled"
	case Internal:
		return "Internal"
	case Exists:
		return "Exists"
	default:
		return "Unknown"
	}
}

// Error is the core's uniform error type. Culprit is set only for Blame and
// Conflict. pkg/session sets it to the offending device ID; pkg/ciphersuite
// and pkg/engine set it to an "index:<n>" label naming the participant
// index, and pkg/orchestrator passes that label on without mapping it to a
// device ID.
type Error struct {
	Kind    Kind
	Culprit party.ID
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	if e.Culprit != "" {
		return fmt.Sprintf("%s: %s (culprit: %s)", e.Kind, e.Reason, e.Culprit)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a plain Error with no culprit.
func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// Wrap builds an Error wrapping an underlying cause.
func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// WithCulprit builds an attributable Error (Blame or Conflict).
func WithCulprit(kind Kind, culprit party.ID, reason string) *Error {
	return &Error{Kind: kind, Culprit: culprit, Reason: reason}
}

// Is reports whether err carries the given Kind, unwrapping as needed.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// CulpritOf extracts the attributed device, if any.
func CulpritOf(err error) (party.ID, bool) {
	var e *Error
	if errors.As(err, &e) && e.Culprit != "" {
		return e.Culprit, true
	}
	return "", false
}
