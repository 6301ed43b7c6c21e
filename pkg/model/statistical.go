package model

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"crystalvol/pkg/bondstats"
	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/elements"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/monitor"
	"crystalvol/pkg/neighbors"
)

// Options configures a StatisticalPredictor. Start from DefaultOptions; nil
// collaborators and invalid bounds are replaced by their defaults.
type Options struct {
	Finder neighbors.Finder
	Lookup elements.Lookup

	// ScanMin and ScanMax bound the volume scan in integer percent.
	ScanMin, ScanMax int
	// A best percentage outside [RetryLow, RetryHigh] triggers another round
	// centred on that volume.
	RetryLow, RetryHigh int
	MaxRetries          int

	// Workers bounds parallel neighbor analysis during Fit.
	Workers int

	// Journal, when set, receives every observation recorded by Fit.
	Journal bondstats.ObservationSink
	Stats   *monitor.PredictionStats
}

func DefaultOptions() Options {
	return Options{
		Finder:     neighbors.NewVoronoiFinder(),
		Lookup:     elements.Default(),
		ScanMin:    80,
		ScanMax:    120,
		RetryLow:   85,
		RetryHigh:  115,
		MaxRetries: 5,
		Workers:    runtime.NumCPU(),
		Stats:      monitor.NewPredictionStats(),
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.Finder == nil {
		o.Finder = d.Finder
	}
	if o.Lookup == nil {
		o.Lookup = d.Lookup
	}
	if o.ScanMin <= 0 || o.ScanMax < o.ScanMin {
		o.ScanMin, o.ScanMax = d.ScanMin, d.ScanMax
	}
	if o.RetryLow <= 0 || o.RetryHigh < o.RetryLow {
		o.RetryLow, o.RetryHigh = d.RetryLow, d.RetryHigh
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Stats == nil {
		o.Stats = d.Stats
	}
}

// PredictionResult is the outcome of StatisticalPredictor.Predict.
type PredictionResult struct {
	Volume    float64
	Structure *crystal.Structure
	RMSE      float64
	// Factor is Volume relative to the input structure's volume.
	Factor float64
	// Attempts counts scan rounds; Converged reports whether the last round
	// settled inside the retry band.
	Attempts  int
	Converged bool
}

// StatisticalPredictor scans isotropic volume factors for the one whose bond
// lengths best match a table of average minimum bond lengths.
//
// Predict and the table accessors are safe for concurrent use. Fit must not
// run concurrently with another Fit on the same predictor.
type StatisticalPredictor struct {
	opts     Options
	recorder *bondstats.Recorder

	mu    sync.RWMutex
	table bondstats.Table
}

func NewStatisticalPredictor(opts Options) *StatisticalPredictor {
	opts.applyDefaults()
	return &StatisticalPredictor{
		opts:     opts,
		recorder: &bondstats.Recorder{Finder: opts.Finder, Stats: opts.Stats},
		table:    bondstats.Table{},
	}
}

func (p *StatisticalPredictor) Stats() *monitor.PredictionStats { return p.opts.Stats }

// Table returns a copy of the current table.
func (p *StatisticalPredictor) Table() bondstats.Table {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.table.Clone()
}

// SetTable replaces the table wholesale.
func (p *StatisticalPredictor) SetTable(t bondstats.Table) {
	if t == nil {
		t = bondstats.Table{}
	}
	p.mu.Lock()
	p.table = t
	p.mu.Unlock()
}

func (p *StatisticalPredictor) LoadTable(path string) error {
	t, err := bondstats.Load(path)
	if err != nil {
		return fmt.Errorf("load table %s: %w", path, err)
	}
	p.SetTable(t)
	logging.Logger().Info("bond table loaded", "path", path, "bonds", len(t))
	return nil
}

func (p *StatisticalPredictor) SaveTable(path string) error {
	if err := p.Table().Save(path); err != nil {
		return fmt.Errorf("save table %s: %w", path, err)
	}
	return nil
}

// MinimumBondLengths measures s with the predictor's neighbor finder.
func (p *StatisticalPredictor) MinimumBondLengths(s *crystal.Structure) (bondstats.Minima, error) {
	return p.recorder.MinimumBondLengths(s)
}

// Fit learns the table from reference structures. volumes, when non-nil,
// must match structures in length and is otherwise unused. When ids is nil
// every structure gets a random UUID.
func (p *StatisticalPredictor) Fit(ctx context.Context, structures []*crystal.Structure, volumes []float64, ids []string) error {
	n := len(structures)
	if volumes != nil && len(volumes) != n {
		return fmt.Errorf("%d structures, %d volumes: %w", n, len(volumes), common.ErrLengthMismatch)
	}
	if ids == nil {
		ids = make([]string, n)
		for i := range ids {
			ids[i] = uuid.NewString()
		}
	} else if len(ids) != n {
		return fmt.Errorf("%d structures, %d ids: %w", n, len(ids), common.ErrLengthMismatch)
	}

	minima := make([]bondstats.Minima, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range structures {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, err := p.recorder.MinimumBondLengths(structures[i])
			if err != nil {
				return fmt.Errorf("structure %s: %w", ids[i], err)
			}
			minima[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	acc := bondstats.NewAccumulator(32)
	if p.opts.Journal != nil {
		acc.WithSink(p.opts.Journal)
	}
	for i, m := range minima {
		if err := acc.Add(ids[i], m); err != nil {
			return fmt.Errorf("record observations for %s: %w", ids[i], err)
		}
	}
	table := acc.Averages()
	acc.Reset()

	p.SetTable(table)
	p.opts.Stats.RecordFit()
	logging.Logger().Info("fit complete", "structures", n, "bonds", len(table))
	return nil
}

// ScoreRMSE is the bond-count weighted RMS difference between the minima
// scaled to a volume change of factor and the table averages. Bond types
// missing from the table fall back to the sum of the atomic radii.
func (p *StatisticalPredictor) ScoreRMSE(minima bondstats.Minima, factor float64) (float64, error) {
	targets, err := p.targets(p.Table(), minima)
	if err != nil {
		return 0, err
	}
	return rmse(minima, targets, factor), nil
}

// targets resolves the reference distance for every bond type in minima.
func (p *StatisticalPredictor) targets(table bondstats.Table, minima bondstats.Minima) (map[common.BondType]float64, error) {
	if len(minima) == 0 {
		return nil, fmt.Errorf("no bonds to score: %w", common.ErrNoNeighbors)
	}
	out := make(map[common.BondType]float64, len(minima))
	for _, bt := range minima.Keys() {
		if avg, ok := table.Lookup(bt); ok {
			out[bt] = avg
			continue
		}

		a, b := bt.Elements()
		ra, ok := p.opts.Lookup.AtomicRadius(a)
		if !ok {
			return nil, fmt.Errorf("atomic radius of %q: %w", a, common.ErrUnknownElement)
		}
		rb, ok := p.opts.Lookup.AtomicRadius(b)
		if !ok {
			return nil, fmt.Errorf("atomic radius of %q: %w", b, common.ErrUnknownElement)
		}
		out[bt] = ra + rb
		p.opts.Stats.RecordMissingBond()
		logging.Logger().Warn("missing bond statistic, using atomic radii", "bond", string(bt), "fallback", ra+rb)
	}
	return out, nil
}

func rmse(minima bondstats.Minima, targets map[common.BondType]float64, factor float64) float64 {
	linear := math.Cbrt(factor)
	var sum float64
	var n int
	for _, bt := range minima.Keys() {
		m := minima[bt]
		d := m.MinDistance*linear - targets[bt]
		sum += float64(m.Count) * d * d
		n += m.Count
	}
	if n == 0 {
		return 0
	}
	return math.Sqrt(sum / float64(n))
}

// Predict scans volume factors from ScanMin to ScanMax percent. When the best
// factor lands outside the retry band, the scan repeats around the best
// volume found, at most MaxRetries times. s is left untouched.
func (p *StatisticalPredictor) Predict(s *crystal.Structure) (PredictionResult, error) {
	table := p.Table()
	start := s.Volume()
	log := logging.Logger().With("formula", s.ReducedFormula())

	work := s
	var res PredictionResult
	for attempt := 1; attempt <= 1+p.opts.MaxRetries; attempt++ {
		minima, err := p.recorder.MinimumBondLengths(work)
		if err != nil {
			p.opts.Stats.RecordFailure()
			return PredictionResult{}, err
		}
		targets, err := p.targets(table, minima)
		if err != nil {
			p.opts.Stats.RecordFailure()
			return PredictionResult{}, err
		}

		bestPct, best := 100, rmse(minima, targets, 1.0)
		for pct := p.opts.ScanMin; pct <= p.opts.ScanMax; pct++ {
			if r := rmse(minima, targets, float64(pct)/100); r < best {
				bestPct, best = pct, r
			}
		}

		volume := work.Volume() * float64(bestPct) / 100
		scaled, err := work.Scaled(volume)
		if err != nil {
			return PredictionResult{}, err
		}
		res = PredictionResult{
			Volume:    volume,
			Structure: scaled,
			RMSE:      best,
			Factor:    volume / start,
			Attempts:  attempt,
			Converged: bestPct >= p.opts.RetryLow && bestPct <= p.opts.RetryHigh,
		}
		if res.Converged {
			break
		}
		log.Debug("scan hit boundary", "attempt", attempt, "percent", bestPct, "rmse", best)
		if attempt <= p.opts.MaxRetries {
			p.opts.Stats.RecordRetry()
		}
		work = scaled
	}

	if !res.Converged {
		p.opts.Stats.RecordUnconverged()
		log.Warn("volume scan did not settle", "attempts", res.Attempts, "factor", res.Factor)
	}
	p.opts.Stats.RecordPrediction()
	return res, nil
}

func (p *StatisticalPredictor) PredictStructure(s *crystal.Structure) (*crystal.Structure, error) {
	res, err := p.Predict(s)
	if err != nil {
		return nil, err
	}
	return res.Structure, nil
}
