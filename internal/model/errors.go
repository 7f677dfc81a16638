package model

import "errors"

// Sentinel errors forming the design-level failure taxonomy. Per-item
// failures are wrapped around these with fmt.Errorf("...: %w", err) so
// callers can classify with errors.Is while still seeing the offending path.
var (
	ErrConfiguration         = errors.New("configuration error")
	ErrStorageOpen           = errors.New("storage open error")
	ErrStorageIntegrity      = errors.New("storage integrity error")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrPathTooLong           = errors.New("path too long")
	ErrFileNotFound          = errors.New("file not found")
	ErrIO                    = errors.New("i/o error")
	ErrHashAlgorithmUnavailable = errors.New("hash algorithm unavailable")
	ErrVerificationMismatch  = errors.New("verification mismatch")
	ErrCancelled             = errors.New("cancelled")
)
