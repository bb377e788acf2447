package radar

import "errors"

var (
	// ErrNotFound is returned when an entity or run does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when creating an entity whose URL is already stored.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAnalysis marks a failed analysis; the candidate is dropped for this cycle.
	ErrAnalysis = errors.New("analysis failed")
	// ErrIngestInProgress is returned when an ingestion run is already active.
	ErrIngestInProgress = errors.New("ingest already in progress")
	// ErrInvalidLimit is returned for non-positive ingestion limits.
	ErrInvalidLimit = errors.New("limit must be > 0")
)
