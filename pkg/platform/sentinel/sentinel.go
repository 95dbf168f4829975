package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrConflict: concurrent writers collided (serialization failure, retryable)
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrConflict = errors.New("conflict")
)
