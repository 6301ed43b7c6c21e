// Package model holds the volume predictors: a statistical predictor that
// learns average minimum bond lengths from reference structures, and a
// radius-ratio predictor driven by tabulated elemental radii.
package model

import (
	"crystalvol/pkg/crystal"
)

// Predictor returns a copy of s rescaled to its predicted equilibrium volume.
// Implementations never modify s.
type Predictor interface {
	PredictStructure(s *crystal.Structure) (*crystal.Structure, error)
}

var (
	_ Predictor = (*StatisticalPredictor)(nil)
	_ Predictor = (*RadiusRatioPredictor)(nil)
)
