// Package bondstats turns neighbor geometry into bond-length statistics:
// per-structure minimum bond lengths, their accumulation across a corpus, and
// the resulting table of average minimum bond lengths.
package bondstats

import (
	"errors"
	"fmt"
	"sort"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/monitor"
	"crystalvol/pkg/neighbors"
)

// Minima maps each bond type in a structure to its shortest contact.
type Minima map[common.BondType]common.BondMinimum

// Keys returns the bond types in sorted order.
func (m Minima) Keys() []common.BondType {
	keys := make([]common.BondType, 0, len(m))
	for bt := range m {
		keys = append(keys, bt)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Recorder measures minimum bond lengths with a neighbor finder.
type Recorder struct {
	Finder neighbors.Finder
	// Stats, when set, counts sites skipped for degenerate geometry.
	Stats *monitor.PredictionStats
}

func NewRecorder(finder neighbors.Finder) *Recorder {
	return &Recorder{Finder: finder}
}

// MinimumBondLengths groups every site's neighbor distances by bond type and
// keeps the minimum and the number of contacts per type. Sites whose
// geometry is degenerate are logged and skipped.
func (r *Recorder) MinimumBondLengths(s *crystal.Structure) (Minima, error) {
	minima := make(Minima)
	for i := range s.Sites {
		nbrs, err := r.Finder.Neighbors(s, i)
		if errors.Is(err, common.ErrGeometryDegenerate) {
			logging.Logger().Warn("skipping site", "site", i, "formula", s.ReducedFormula(), "err", err)
			if r.Stats != nil {
				r.Stats.RecordSkippedSite()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("site %d: %w", i, err)
		}

		label := s.Label(i)
		for _, n := range nbrs {
			bt := common.NewBondType(label, n.Label)
			cur, ok := minima[bt]
			if !ok || n.Distance < cur.MinDistance {
				cur.MinDistance = n.Distance
			}
			cur.Count++
			minima[bt] = cur
		}
	}
	return minima, nil
}
