package common

import (
	"fmt"
	"strings"
)

// BondType identifies an unordered element pair, canonically "A-B" with A <= B.
type BondType string

// NewBondType builds the canonical key for the pair; the order of a and b does not matter.
func NewBondType(a, b string) BondType {
	if b < a {
		a, b = b, a
	}
	return BondType(a + "-" + b)
}

// Elements splits the key back into its two labels.
func (bt BondType) Elements() (string, string) {
	a, b, _ := strings.Cut(string(bt), "-")
	return a, b
}

// BondMinimum is the shortest contact of one bond type within a structure and
// how many neighbor contacts of that type were seen.
type BondMinimum struct {
	MinDistance float64
	Count       int
}

// BondObservation is one structure's contribution to a bond type average.
type BondObservation struct {
	MinDistance   float64
	NeighborCount int
	SourceID      string
}

func (o BondObservation) String() string {
	return fmt.Sprintf("Observation{Min: %.4f, N: %d, Src: %s}", o.MinDistance, o.NeighborCount, o.SourceID)
}

// ResultRow is one line of a batch prediction report.
type ResultRow struct {
	TaskID          string
	ReducedFormula  string
	StartingVolume  float64
	PredictedVolume float64
}

// PercentChange reports the predicted volume change relative to the start.
func (r ResultRow) PercentChange() float64 {
	if r.StartingVolume == 0 {
		return 0
	}
	return (r.PredictedVolume - r.StartingVolume) / r.StartingVolume * 100
}
