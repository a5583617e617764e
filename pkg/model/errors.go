package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrTagProviderUnavailable is set when the embedding provider is missing or failed
	ErrTagProviderUnavailable = goerr.NewTag("provider_unavailable")
	// ErrTagNotFound is set for unknown memory IDs and collections
	ErrTagNotFound = goerr.NewTag("not_found")
	// ErrTagConflict is set for duplicated collections and attempts to delete the default one
	ErrTagConflict = goerr.NewTag("conflict")
	// ErrTagPersistence is set when saving or loading state failed
	ErrTagPersistence = goerr.NewTag("persistence")
	// ErrTagDimensionMismatch is set when a vector length differs from the index dimension
	ErrTagDimensionMismatch = goerr.NewTag("dimension_mismatch")
	// ErrTagInvalidInput is set when a caller passes malformed arguments
	ErrTagInvalidInput = goerr.NewTag("invalid_input")
	// ErrTagRejected is set when the admission policy denied a memory
	ErrTagRejected = goerr.NewTag("rejected")
)
