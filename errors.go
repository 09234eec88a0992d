package canopy

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the taxonomy described in spec §7. Wrap with
// fmt.Errorf("...: %w", ErrX) at call sites so errors.Is keeps working
// across package boundaries.
var (
	// ErrHandleNotFound is returned when a handle id was never indexed, or
	// was evicted by a reindex of its file.
	ErrHandleNotFound = errors.New("canopy: handle not found")

	// ErrStaleGeneration is returned by the service's expand endpoint when
	// the caller's generation is older than the shard's current generation.
	ErrStaleGeneration = errors.New("canopy: stale generation")

	// ErrStaleIndex marks a handle or query result derived from a file that
	// has since changed on disk.
	ErrStaleIndex = errors.New("canopy: stale index")

	// ErrQueryParse covers malformed query DSL or a missing required
	// parameter (e.g. no search term at all).
	ErrQueryParse = errors.New("canopy: query parse error")

	// ErrGlobPattern covers glob syntax canopy cannot compile.
	ErrGlobPattern = errors.New("canopy: invalid glob pattern")

	// ErrNotRepo is returned by service repo registration when the given
	// path is not a VCS root.
	ErrNotRepo = errors.New("canopy: not a repository root")

	// ErrAlreadyIndexing is informational: a reindex request coalesced with
	// one already in flight for the same repo.
	ErrAlreadyIndexing = errors.New("canopy: already indexing")

	// ErrSchemaMismatch is returned when the on-disk store's schema version
	// does not match what this binary expects; the caller should rebuild.
	ErrSchemaMismatch = errors.New("canopy: schema version mismatch")
)

// CodedError is a structured error carrying the service's error envelope
// shape: {code, message, hint}. Query and expand paths that need to surface
// a machine-readable code (rather than just an error string) return one of
// these, wrapping one of the sentinels above.
type CodedError struct {
	Code    string
	Message string
	Hint    string
	Err     error
}

func (e *CodedError) Error() string {
	if e.Hint != "" {
		return e.Message + " (" + e.Hint + ")"
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.Err }

func newCodedError(code, message, hint string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Hint: hint, Err: err}
}

// StaleGenerationError builds the canonical envelope for a rejected expand.
func StaleGenerationError(expected, found uint64) *CodedError {
	return newCodedError(
		"stale_generation",
		fmt.Sprintf("expected generation %d, found %d", expected, found),
		"reindex and re-query before expanding",
		ErrStaleGeneration,
	)
}

// NotFoundError builds the canonical envelope for an unknown repo or handle.
func NotFoundError(message string) *CodedError {
	return newCodedError("not_found", message, "", ErrHandleNotFound)
}

// InternalError wraps an unexpected failure in the service envelope shape.
func InternalError(err error) *CodedError {
	return newCodedError("internal_error", err.Error(), "check service logs for details", err)
}
