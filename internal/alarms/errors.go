package alarms

import "errors"

var (
	// Stream and decoding faults, handled inside the ingestion worker.
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrDecodeDesync      = errors.New("decode desync")

	// Ingestion faults, surfaced to the caller of Ingest.
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrEvidencePersistFailure = errors.New("evidence persist failure")

	// Lifecycle outcomes. These are expected results, not system errors.
	ErrNotFound         = errors.New("alarm not found")
	ErrAlreadyProcessed = errors.New("alarm already processed")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidFilter    = errors.New("invalid filter")

	// Credential boundary.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredToken      = errors.New("expired token")
)

// IsUserFacing reports whether err is an expected lifecycle outcome that
// should not be logged as a system error.
func IsUserFacing(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrExpiredToken)
}
