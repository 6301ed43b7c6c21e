package crystal

import (
	"encoding/json"
	"fmt"

	"crystalvol/pkg/common"
)

// The JSON layout follows the pymatgen Structure dict so that corpora exported
// from materials databases load directly:
//
//	{"lattice": {"matrix": [[..],[..],[..]]},
//	 "sites": [{"species": [{"element": "Na", "occu": 1}], "abc": [0, 0, 0]}]}

type jsonSpecie struct {
	Element   string   `json:"element"`
	Occu      *float64 `json:"occu,omitempty"`
	Oxidation float64  `json:"oxidation_state,omitempty"`
}

type jsonSite struct {
	Species []jsonSpecie `json:"species"`
	ABC     common.Vec3  `json:"abc"`
	Label   string       `json:"label,omitempty"`
}

type jsonLattice struct {
	Matrix common.Mat3 `json:"matrix"`
}

type jsonStructure struct {
	Lattice jsonLattice `json:"lattice"`
	Sites   []jsonSite  `json:"sites"`
}

func (s *Structure) MarshalJSON() ([]byte, error) {
	doc := jsonStructure{
		Lattice: jsonLattice{Matrix: s.Lattice},
		Sites:   make([]jsonSite, len(s.Sites)),
	}
	for i, site := range s.Sites {
		js := jsonSite{ABC: site.Frac, Label: s.Label(i)}
		for _, sp := range site.Species {
			occ := sp.Occupancy
			js.Species = append(js.Species, jsonSpecie{Element: sp.Element, Occu: &occ, Oxidation: sp.Oxidation})
		}
		doc.Sites[i] = js
	}
	return json.Marshal(doc)
}

func (s *Structure) UnmarshalJSON(data []byte) error {
	var doc jsonStructure
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	sites := make([]Site, len(doc.Sites))
	for i, js := range doc.Sites {
		for _, sp := range js.Species {
			if sp.Element == "" {
				return fmt.Errorf("site %d: species without element: %w", i, common.ErrInvalidStructure)
			}
			occ := 1.0
			if sp.Occu != nil {
				occ = *sp.Occu
			}
			sites[i].Species = append(sites[i].Species, Specie{Element: sp.Element, Oxidation: sp.Oxidation, Occupancy: occ})
		}
		sites[i].Frac = js.ABC
	}
	parsed, err := New(doc.Lattice.Matrix, sites)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// FromJSON decodes a structure document.
func FromJSON(data []byte) (*Structure, error) {
	var s Structure
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode structure: %w", err)
	}
	return &s, nil
}
