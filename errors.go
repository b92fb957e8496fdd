package tarindex

import "errors"

var (
	// ErrFetch is returned when a batch could not be fetched: the retry
	// budget was exhausted or the server answered with an unexpected
	// status. The scan is aborted and no manifest is produced.
	ErrFetch = errors.New("tarindex: fetch failed")

	// ErrInvalidManifest is returned when a manifest document fails validation.
	ErrInvalidManifest = errors.New("tarindex: invalid manifest")
)
