// Package elements provides per-element radii and electronegativities used by
// the volume predictors. The default table is embedded; callers can supply
// their own Lookup.
package elements

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/elements.yaml
var defaultTableYAML []byte

// Lookup answers elemental property queries. A false second return value
// means the property is unknown for that symbol.
type Lookup interface {
	AtomicRadius(symbol string) (float64, bool)
	AverageIonicRadius(symbol string) (float64, bool)
}

// Element holds the tabulated properties of one element. Nil pointers mean no data.
type Element struct {
	Z                  int      `yaml:"z"`
	AtomicRadius       *float64 `yaml:"atomic_radius"`
	AverageIonicRadius *float64 `yaml:"average_ionic_radius"`
	Electronegativity  *float64 `yaml:"electronegativity"`
}

// Table is an in-memory element table keyed by symbol.
type Table struct {
	elements map[string]Element
}

// Parse builds a Table from YAML with a top-level "elements" mapping.
func Parse(data []byte) (*Table, error) {
	var doc struct {
		Elements map[string]Element `yaml:"elements"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("elements: parse table: %w", err)
	}
	if len(doc.Elements) == 0 {
		return nil, fmt.Errorf("elements: table has no entries")
	}
	return &Table{elements: doc.Elements}, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the embedded table. It panics if the embedded data is broken,
// which can only happen through a bad build.
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Parse(defaultTableYAML)
		if err != nil {
			panic(err)
		}
		defaultTable = t
	})
	return defaultTable
}

func (t *Table) Get(symbol string) (Element, bool) {
	e, ok := t.elements[symbol]
	return e, ok
}

func (t *Table) AtomicRadius(symbol string) (float64, bool) {
	e, ok := t.elements[symbol]
	if !ok || e.AtomicRadius == nil {
		return 0, false
	}
	return *e.AtomicRadius, true
}

func (t *Table) AverageIonicRadius(symbol string) (float64, bool) {
	e, ok := t.elements[symbol]
	if !ok || e.AverageIonicRadius == nil {
		return 0, false
	}
	return *e.AverageIonicRadius, true
}

// Electronegativity returns the Pauling electronegativity, used to order formulas.
func (t *Table) Electronegativity(symbol string) (float64, bool) {
	e, ok := t.elements[symbol]
	if !ok || e.Electronegativity == nil {
		return 0, false
	}
	return *e.Electronegativity, true
}

// Static is a Lookup backed by plain maps, handy for tests and custom radius sets.
type Static struct {
	Atomic map[string]float64
	Ionic  map[string]float64
}

func (s Static) AtomicRadius(symbol string) (float64, bool) {
	r, ok := s.Atomic[symbol]
	return r, ok
}

func (s Static) AverageIonicRadius(symbol string) (float64, bool) {
	r, ok := s.Ionic[symbol]
	return r, ok
}
