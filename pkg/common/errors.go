package common

import "errors"

// Sentinel errors shared across packages. Callers match them with errors.Is;
// producers wrap them with context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrGeometryDegenerate marks a site whose Voronoi cell could not be built.
	// It is recoverable: the site is skipped and processing continues.
	ErrGeometryDegenerate = errors.New("crystalvol: degenerate site geometry")

	// ErrNoNeighbors means no bonded neighbor could be established.
	ErrNoNeighbors = errors.New("crystalvol: no neighbors found")

	// ErrInvalidStructure rejects inputs that break a predictor's preconditions
	// (disordered sites, malformed files, singular lattices).
	ErrInvalidStructure = errors.New("crystalvol: invalid structure")

	// ErrUnknownElement is returned when an element has no atomic radius.
	ErrUnknownElement = errors.New("crystalvol: unknown element")

	// ErrLengthMismatch is returned when parallel input slices disagree in length.
	ErrLengthMismatch = errors.New("crystalvol: length mismatch")

	// ErrEmptyTable is returned when a journal replay yields no bond types or
	// an empty table is requested for export.
	ErrEmptyTable = errors.New("crystalvol: bond length table is empty")

	// ErrBadTable is returned when a persisted table cannot be decoded.
	ErrBadTable = errors.New("crystalvol: corrupted bond length table")
)
