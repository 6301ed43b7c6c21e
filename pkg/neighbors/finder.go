// Package neighbors finds bonded neighbors of sites in periodic structures,
// either from the site's Voronoi cell or by a radius search with adaptive
// cutoff growth.
package neighbors

import (
	"fmt"
	"math"
	"sort"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
)

// selfTol separates a site's own image from genuine neighbors.
const selfTol = 1e-8

// Neighbor is one periodic image of a site near a center site.
type Neighbor struct {
	Index    int
	Image    [3]int
	Coords   common.Vec3
	Distance float64
	Label    string
}

// Finder returns the neighbors considered bonded to site.
type Finder interface {
	Neighbors(s *crystal.Structure, site int) ([]Neighbor, error)
}

// Within returns every image of every site within r of site, excluding the
// site itself, sorted by distance.
func Within(s *crystal.Structure, site int, r float64) ([]Neighbor, error) {
	all, err := sphere(s, s.Cart(site), r)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, n := range all {
		if n.Distance < selfTol {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// sphere collects every periodic image within r of center, including
// zero-distance ones.
func sphere(s *crystal.Structure, center common.Vec3, r float64) ([]Neighbor, error) {
	inv, err := s.Lattice.Inverse()
	if err != nil {
		return nil, fmt.Errorf("neighbor search: %w", common.ErrInvalidStructure)
	}
	fc := inv.MulVec(center)
	// extent of the sphere along each fractional axis
	var reach common.Vec3
	for i := 0; i < 3; i++ {
		reach[i] = r * inv.Column(i).Norm()
	}

	var out []Neighbor
	for idx, site := range s.Sites {
		var lo, hi [3]int
		for i := 0; i < 3; i++ {
			lo[i] = int(math.Ceil(fc[i] - reach[i] - site.Frac[i]))
			hi[i] = int(math.Floor(fc[i] + reach[i] - site.Frac[i]))
		}
		label := s.Label(idx)
		for a := lo[0]; a <= hi[0]; a++ {
			for b := lo[1]; b <= hi[1]; b++ {
				for c := lo[2]; c <= hi[2]; c++ {
					f := site.Frac.Add(common.Vec3{float64(a), float64(b), float64(c)})
					coords := s.Lattice.MulVec(f)
					d := coords.Sub(center).Norm()
					if d > r {
						continue
					}
					out = append(out, Neighbor{
						Index:    idx,
						Image:    [3]int{a, b, c},
						Coords:   coords,
						Distance: d,
						Label:    label,
					})
				}
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out, nil
}

// CutoffFinder treats every site within a radius as bonded. When nothing is
// found the radius doubles until MaxCutoff is exceeded.
type CutoffFinder struct {
	Cutoff    float64
	MaxCutoff float64
}

// NewCutoffFinder returns a finder with the default 8 Å start and 32 Å ceiling.
func NewCutoffFinder() *CutoffFinder {
	return &CutoffFinder{Cutoff: 8, MaxCutoff: 32}
}

func (f *CutoffFinder) Neighbors(s *crystal.Structure, site int) ([]Neighbor, error) {
	nbrs, err := Escalate(s, site, f.Cutoff, f.MaxCutoff)
	if err != nil {
		return nil, err
	}
	if len(nbrs) == 0 {
		return nil, fmt.Errorf("site %d within %.1f Å: %w", site, f.MaxCutoff, common.ErrNoNeighbors)
	}
	return nbrs, nil
}

// Escalate searches at cutoff, doubling while the result is empty and the
// radius has not passed maxCutoff. An empty result is not an error here.
func Escalate(s *crystal.Structure, site int, cutoff, maxCutoff float64) ([]Neighbor, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("cutoff %v must be positive", cutoff)
	}
	var nbrs []Neighbor
	for r := cutoff; len(nbrs) == 0 && r <= maxCutoff; r *= 2 {
		var err error
		if nbrs, err = Within(s, site, r); err != nil {
			return nil, err
		}
	}
	return nbrs, nil
}
