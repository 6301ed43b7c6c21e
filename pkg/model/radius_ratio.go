package model

import (
	"fmt"
	"math"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/elements"
	"crystalvol/pkg/neighbors"
)

// RadiusRatioPredictor rescales a structure so its most compressed neighbor
// pair, relative to the sum of the elemental radii, exactly touches.
type RadiusRatioPredictor struct {
	Cutoff    float64
	MaxCutoff float64
	// IonicMix weights the average ionic radius against the atomic radius
	// for elements that have one.
	IonicMix float64
	Lookup   elements.Lookup
}

func NewRadiusRatioPredictor() *RadiusRatioPredictor {
	return &RadiusRatioPredictor{Cutoff: 8, MaxCutoff: 32, IonicMix: 0.2, Lookup: elements.Default()}
}

// Radius is the touching radius used for symbol.
func (p *RadiusRatioPredictor) Radius(symbol string) (float64, error) {
	atomic, ok := p.Lookup.AtomicRadius(symbol)
	if !ok {
		return 0, fmt.Errorf("atomic radius of %q: %w", symbol, common.ErrUnknownElement)
	}
	if ionic, ok := p.Lookup.AverageIonicRadius(symbol); ok {
		return p.IonicMix*ionic + (1-p.IonicMix)*atomic, nil
	}
	return atomic, nil
}

// MinRatio is the smallest distance / touching distance over every site and
// each of its neighbors. Each site grows its own search radius.
func (p *RadiusRatioPredictor) MinRatio(s *crystal.Structure) (float64, error) {
	if !s.IsOrdered() {
		return 0, fmt.Errorf("radius ratio needs an ordered structure: %w", common.ErrInvalidStructure)
	}

	radii := make(map[string]float64)
	radius := func(sym string) (float64, error) {
		if r, ok := radii[sym]; ok {
			return r, nil
		}
		r, err := p.Radius(sym)
		if err == nil {
			radii[sym] = r
		}
		return r, err
	}

	minRatio := math.Inf(1)
	for i, site := range s.Sites {
		nbrs, err := neighbors.Escalate(s, i, p.Cutoff, p.MaxCutoff)
		if err != nil {
			return 0, err
		}
		if len(nbrs) == 0 {
			continue
		}
		ri, err := radius(site.Species[0].Element)
		if err != nil {
			return 0, err
		}
		for _, n := range nbrs {
			rj, err := radius(s.Sites[n.Index].Species[0].Element)
			if err != nil {
				return 0, err
			}
			minRatio = math.Min(minRatio, n.Distance/(ri+rj))
		}
	}
	if math.IsInf(minRatio, 1) {
		return 0, fmt.Errorf("no neighbor within %.1f Å of any site: %w", p.MaxCutoff, common.ErrNoNeighbors)
	}
	return minRatio, nil
}

// Predict returns a copy of s scaled by (1/minRatio)³ in volume.
func (p *RadiusRatioPredictor) Predict(s *crystal.Structure) (*crystal.Structure, error) {
	ratio, err := p.MinRatio(s)
	if err != nil {
		return nil, err
	}
	return s.Scaled(s.Volume() * math.Pow(1/ratio, 3))
}

func (p *RadiusRatioPredictor) PredictStructure(s *crystal.Structure) (*crystal.Structure, error) {
	return p.Predict(s)
}
