package dataset

import "errors"

// Error taxonomy shared by every layer of the registry. All failures surfaced
// to callers wrap exactly one of these sentinels so the HTTP edge can map them
// with errors.Is.
var (
	// ErrNotFound: the referenced dataset (or chain predecessor) is unknown.
	ErrNotFound = errors.New("dataset not found")
	// ErrForbidden: the permission check failed for the requested operation.
	ErrForbidden = errors.New("operation forbidden")
	// ErrImmutable: mutation attempted on a completed or invalidated dataset
	// outside the allowed transitions.
	ErrImmutable = errors.New("dataset is immutable")
	// ErrIntegrity: claimed hash does not match the computed content digest.
	ErrIntegrity = errors.New("content digest mismatch")
	// ErrChainConflict: version-link invariant violated (predecessor already
	// replaced, or link would form a cycle).
	ErrChainConflict = errors.New("version chain conflict")
	// ErrValidation: malformed or incomplete metadata at upload start.
	ErrValidation = errors.New("invalid dataset metadata")
)
