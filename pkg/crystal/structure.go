// Package crystal models periodic crystal structures: a lattice of three basis
// vectors and sites carrying species at fractional coordinates.
package crystal

import (
	"fmt"
	"math"
	"strings"

	"crystalvol/pkg/common"
)

const occupancyTol = 1e-8

// Specie is one chemical species occupying a site.
type Specie struct {
	Element   string
	Oxidation float64
	Occupancy float64
}

// Site is a lattice site. Ordered sites hold a single species with occupancy 1.
type Site struct {
	Species []Specie
	Frac    common.Vec3
}

// Structure is a periodic arrangement of sites. The lattice holds one basis
// vector per row, so Cartesian coordinates are frac·Lattice.
type Structure struct {
	Lattice common.Mat3
	Sites   []Site
}

// New validates the lattice and returns a structure owning a copy of sites.
func New(lattice common.Mat3, sites []Site) (*Structure, error) {
	det := lattice.Det()
	if det == 0 || math.IsNaN(det) || math.IsInf(det, 0) {
		return nil, fmt.Errorf("lattice volume %v: %w", det, common.ErrInvalidStructure)
	}
	for i, site := range sites {
		if len(site.Species) == 0 {
			return nil, fmt.Errorf("site %d has no species: %w", i, common.ErrInvalidStructure)
		}
	}
	s := &Structure{Lattice: lattice}
	s.Sites = copySites(sites)
	return s, nil
}

// NewOrdered is a convenience constructor for fully occupied sites given
// element symbols and fractional coordinates.
func NewOrdered(lattice common.Mat3, elements []string, fracs []common.Vec3) (*Structure, error) {
	if len(elements) != len(fracs) {
		return nil, fmt.Errorf("%d elements, %d coordinates: %w", len(elements), len(fracs), common.ErrLengthMismatch)
	}
	sites := make([]Site, len(elements))
	for i, el := range elements {
		sites[i] = Site{Species: []Specie{{Element: el, Occupancy: 1}}, Frac: fracs[i]}
	}
	return New(lattice, sites)
}

// Cubic returns a cubic lattice with edge a.
func Cubic(a float64) common.Mat3 {
	return common.Mat3{{a, 0, 0}, {0, a, 0}, {0, 0, a}}
}

func copySites(sites []Site) []Site {
	out := make([]Site, len(sites))
	for i, site := range sites {
		out[i] = Site{
			Species: append([]Specie(nil), site.Species...),
			Frac:    site.Frac,
		}
	}
	return out
}

func (s *Structure) Len() int { return len(s.Sites) }

func (s *Structure) Volume() float64 { return math.Abs(s.Lattice.Det()) }

// Copy returns a deep copy.
func (s *Structure) Copy() *Structure {
	return &Structure{Lattice: s.Lattice, Sites: copySites(s.Sites)}
}

// ScaleVolume rescales the lattice in place so the cell volume becomes v.
// Each basis vector is multiplied by (v/V)^(1/3); fractional coordinates stay.
func (s *Structure) ScaleVolume(v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("target volume %v: %w", v, common.ErrInvalidStructure)
	}
	cur := s.Volume()
	if cur == 0 {
		return fmt.Errorf("zero volume lattice: %w", common.ErrInvalidStructure)
	}
	s.Lattice = s.Lattice.Scale(math.Cbrt(v / cur))
	return nil
}

// Scaled returns a copy with volume v; the receiver is untouched.
func (s *Structure) Scaled(v float64) (*Structure, error) {
	c := s.Copy()
	if err := c.ScaleVolume(v); err != nil {
		return nil, err
	}
	return c, nil
}

// Cart returns the Cartesian position of site i inside the home cell.
func (s *Structure) Cart(i int) common.Vec3 {
	return s.Lattice.MulVec(s.Sites[i].Frac)
}

// IsOrdered reports whether every site holds exactly one fully occupied species.
func (s *Structure) IsOrdered() bool {
	for _, site := range s.Sites {
		if len(site.Species) != 1 || math.Abs(site.Species[0].Occupancy-1) > occupancyTol {
			return false
		}
	}
	return true
}

// Label is the site's species string stripped of oxidation decorations,
// e.g. "Fe" for Fe2+ and "FeNi" for a mixed Fe/Ni site.
func (s *Structure) Label(i int) string {
	species := s.Sites[i].Species
	if len(species) == 1 {
		return species[0].Element
	}
	var b strings.Builder
	for _, sp := range species {
		b.WriteString(sp.Element)
	}
	return b.String()
}

// Composition sums the occupancies per element.
func (s *Structure) Composition() map[string]float64 {
	comp := make(map[string]float64)
	for _, site := range s.Sites {
		for _, sp := range site.Species {
			comp[sp.Element] += sp.Occupancy
		}
	}
	return comp
}

func (s *Structure) String() string {
	return fmt.Sprintf("Structure{Formula: %s, Sites: %d, Volume: %.3f}", s.ReducedFormula(), len(s.Sites), s.Volume())
}
