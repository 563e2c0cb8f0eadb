package registry

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when no archive with the given ID was discovered.
	ErrNotFound = errors.New("registry: archive not found")

	// ErrBroken is returned for an archive whose indexing failed. It stays
	// broken until the next Scan.
	ErrBroken = errors.New("registry: archive is broken")

	// ErrClosed is returned once the registry has been closed.
	ErrClosed = errors.New("registry: closed")
)
