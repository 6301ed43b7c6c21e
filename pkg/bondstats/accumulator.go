package bondstats

import (
	"errors"
	"io"

	"github.com/google/btree"

	"crystalvol/pkg/common"
)

// ObservationSink receives every observation as it is accumulated.
type ObservationSink interface {
	Append(bt common.BondType, obs common.BondObservation) error
}

// ObservationSource replays observations; Next returns io.EOF when exhausted.
type ObservationSource interface {
	Next() (common.BondType, common.BondObservation, error)
}

type bondItem struct {
	Bond common.BondType
	Obs  []common.BondObservation
}

func (i bondItem) Less(than btree.Item) bool {
	return i.Bond < than.(bondItem).Bond
}

// Accumulator collects observations per bond type, ordered by bond type.
// It is not safe for concurrent use.
type Accumulator struct {
	tree *btree.BTree
	sink ObservationSink
}

func NewAccumulator(degree int) *Accumulator {
	return &Accumulator{tree: btree.New(degree)}
}

// WithSink mirrors every later observation to sink.
func (a *Accumulator) WithSink(sink ObservationSink) *Accumulator {
	a.sink = sink
	return a
}

// Add appends one observation per bond type of a structure.
func (a *Accumulator) Add(structureID string, minima Minima) error {
	for _, bt := range minima.Keys() {
		m := minima[bt]
		obs := common.BondObservation{MinDistance: m.MinDistance, NeighborCount: m.Count, SourceID: structureID}
		a.insert(bt, obs)
		if a.sink != nil {
			if err := a.sink.Append(bt, obs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *Accumulator) insert(bt common.BondType, obs common.BondObservation) {
	item := bondItem{Bond: bt}
	if got := a.tree.Get(item); got != nil {
		item = got.(bondItem)
	}
	item.Obs = append(item.Obs, obs)
	a.tree.ReplaceOrInsert(item)
}

// Replay feeds observations from src until io.EOF.
func (a *Accumulator) Replay(src ObservationSource) (int, error) {
	n := 0
	for {
		bt, obs, err := src.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		a.insert(bt, obs)
		n++
	}
}

// Len is the number of distinct bond types seen.
func (a *Accumulator) Len() int {
	return a.tree.Len()
}

// Observations returns the observations recorded for bt.
func (a *Accumulator) Observations(bt common.BondType) []common.BondObservation {
	got := a.tree.Get(bondItem{Bond: bt})
	if got == nil {
		return nil
	}
	return append([]common.BondObservation(nil), got.(bondItem).Obs...)
}

// Ascend visits bond types in order.
func (a *Accumulator) Ascend(fn func(bt common.BondType, obs []common.BondObservation) bool) {
	a.tree.Ascend(func(i btree.Item) bool {
		item := i.(bondItem)
		return fn(item.Bond, item.Obs)
	})
}

// Averages returns the arithmetic mean of the recorded minima per bond type.
func (a *Accumulator) Averages() Table {
	t := make(Table, a.tree.Len())
	a.Ascend(func(bt common.BondType, obs []common.BondObservation) bool {
		total := 0.0
		for _, o := range obs {
			total += o.MinDistance
		}
		t[bt] = total / float64(len(obs))
		return true
	})
	return t
}

// Reset drops all observations.
func (a *Accumulator) Reset() {
	a.tree.Clear(false)
}
