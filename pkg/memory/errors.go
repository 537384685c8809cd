package memory

import "errors"

var (
	// ErrExtraction indicates the language model extraction path failed
	// (service error, timeout, or unparseable output). Recovered locally
	// via the rule-based fallback and never surfaced to callers.
	ErrExtraction = errors.New("language model extraction failed")

	// ErrMalformedResponse indicates the model replied but the response
	// did not match the required candidate schema.
	ErrMalformedResponse = errors.New("malformed extraction response")

	// ErrInvalidCandidate indicates importance or confidence outside
	// allowed ranges. Such candidates are dropped, never clamped.
	ErrInvalidCandidate = errors.New("candidate outside allowed ranges")

	// ErrNotFound indicates no record matched the lookup.
	ErrNotFound = errors.New("memory record not found")

	// ErrBadTransition indicates a disallowed lifecycle state change.
	ErrBadTransition = errors.New("invalid memory state transition")
)
