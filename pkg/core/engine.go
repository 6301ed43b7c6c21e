// Package core wires configuration, the reference corpus and the predictors
// into the operations exposed by the CLI and the HTTP server.
package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"crystalvol/pkg/bondstats"
	"crystalvol/pkg/common"
	"crystalvol/pkg/config"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/model"
	"crystalvol/pkg/monitor"
	"crystalvol/pkg/neighbors"
	"crystalvol/pkg/storage"
)

var (
	ErrNoCorpus    = errors.New("core: no reference corpus configured")
	ErrEmptyCorpus = errors.New("core: reference query matched nothing")
	ErrNoJournal   = errors.New("core: observation journal disabled")
	ErrUnknownMode = errors.New("core: unknown prediction mode")
)

type Mode string

const (
	ModeStatistical Mode = "statistical"
	ModeRadius      Mode = "radius"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeStatistical:
		return ModeStatistical, nil
	case ModeRadius:
		return ModeRadius, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrUnknownMode)
}

// Prediction is the engine-level outcome of one prediction in either mode.
type Prediction struct {
	Mode           Mode
	Formula        string
	StartingVolume float64
	Volume         float64
	Structure      *crystal.Structure
	RMSE           float64
	Factor         float64
	Attempts       int
	Converged      bool
}

func (p Prediction) PercentChange() float64 {
	return (p.Volume - p.StartingVolume) / p.StartingVolume * 100
}

type Engine struct {
	conf        *config.Config
	corpus      storage.Corpus
	journal     *storage.Journal
	stats       *monitor.PredictionStats
	statistical *model.StatisticalPredictor
	radius      *model.RadiusRatioPredictor
}

// NewEngine builds an engine around corpus, which may be nil when only
// predictions are needed. The corpus stays owned by the caller.
func NewEngine(cfg *config.Config, corpus storage.Corpus) (*Engine, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	e := &Engine{
		conf:   cfg,
		corpus: corpus,
		stats:  monitor.NewPredictionStats(),
		radius: &model.RadiusRatioPredictor{
			Cutoff:    cfg.RadiusRatio.Cutoff,
			MaxCutoff: cfg.RadiusRatio.MaxCutoff,
			IonicMix:  cfg.RadiusRatio.IonicMix,
			Lookup:    model.DefaultOptions().Lookup,
		},
	}

	opts := model.DefaultOptions()
	opts.Finder = newFinder(cfg.Predictor)
	opts.ScanMin, opts.ScanMax = cfg.Predictor.ScanMin, cfg.Predictor.ScanMax
	opts.RetryLow, opts.RetryHigh = cfg.Predictor.RetryLow, cfg.Predictor.RetryHigh
	opts.MaxRetries = cfg.Predictor.MaxRetries
	opts.Workers = cfg.Workers
	opts.Stats = e.stats

	if path := cfg.Storage.JournalPath(); path != "" {
		j, err := storage.OpenJournal(path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		e.journal = j
		opts.Journal = j
	}
	e.statistical = model.NewStatisticalPredictor(opts)

	if _, err := os.Stat(cfg.Storage.TablePath()); err == nil {
		if err := e.statistical.LoadTable(cfg.Storage.TablePath()); err != nil {
			e.Close()
			return nil, err
		}
	}
	return e, nil
}

func newFinder(pc config.PredictorConfig) neighbors.Finder {
	if pc.Finder == "cutoff" {
		return &neighbors.CutoffFinder{Cutoff: pc.Cutoff, MaxCutoff: pc.MaxCutoff}
	}
	return &neighbors.VoronoiFinder{Tolerance: pc.Tolerance, Cutoff: pc.VoronoiCutoff, MinDistance: pc.MinDistance}
}

func (e *Engine) Config() *config.Config { return e.conf }

func (e *Engine) Stats() *monitor.PredictionStats { return e.stats }

func (e *Engine) Table() bondstats.Table { return e.statistical.Table() }

// Fit learns the bond table from corpus entries matching the filter, then
// persists it. The journal, when enabled, is rewritten with the new
// observations.
func (e *Engine) Fit(ctx context.Context, maxElements int, eAboveHull float64) (int, error) {
	if e.corpus == nil {
		return 0, ErrNoCorpus
	}
	entries, err := e.corpus.Query(maxElements, eAboveHull)
	if err != nil {
		return 0, fmt.Errorf("query corpus: %w", err)
	}
	if len(entries) == 0 {
		return 0, ErrEmptyCorpus
	}

	structures := make([]*crystal.Structure, len(entries))
	volumes := make([]float64, len(entries))
	ids := make([]string, len(entries))
	for i, en := range entries {
		structures[i], volumes[i], ids[i] = en.Structure, en.Volume, en.ID
	}

	if e.journal != nil {
		if err := e.journal.Truncate(); err != nil {
			return 0, fmt.Errorf("reset journal: %w", err)
		}
	}
	if err := e.statistical.Fit(ctx, structures, volumes, ids); err != nil {
		return 0, err
	}
	if e.journal != nil {
		if err := e.journal.Sync(); err != nil {
			return 0, err
		}
	}
	if err := e.SaveTable(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (e *Engine) SaveTable() error {
	return e.statistical.SaveTable(e.conf.Storage.TablePath())
}

// ReloadTable replaces the in-memory table with the persisted one.
func (e *Engine) ReloadTable() error {
	return e.statistical.LoadTable(e.conf.Storage.TablePath())
}

// RebuildTable recomputes the averages from the journal and installs them.
func (e *Engine) RebuildTable() (int, error) {
	if e.journal == nil {
		return 0, ErrNoJournal
	}
	it, err := e.journal.NewIterator()
	if err != nil {
		return 0, err
	}
	defer it.Close()

	acc := bondstats.NewAccumulator(32)
	n, err := acc.Replay(it)
	if err != nil {
		return n, fmt.Errorf("replay journal: %w", err)
	}
	table := acc.Averages()
	if len(table) == 0 {
		return 0, common.ErrEmptyTable
	}
	e.statistical.SetTable(table)
	logging.Logger().Info("bond table rebuilt from journal", "observations", n, "bonds", len(table))
	return n, nil
}

func (e *Engine) Predict(s *crystal.Structure, mode Mode) (Prediction, error) {
	p := Prediction{Mode: mode, Formula: s.ReducedFormula(), StartingVolume: s.Volume()}

	switch mode {
	case ModeStatistical:
		res, err := e.statistical.Predict(s)
		if err != nil {
			return Prediction{}, err
		}
		p.Volume, p.Structure, p.RMSE = res.Volume, res.Structure, res.RMSE
		p.Factor, p.Attempts, p.Converged = res.Factor, res.Attempts, res.Converged

	case ModeRadius:
		out, err := e.radius.Predict(s)
		if err != nil {
			e.stats.RecordFailure()
			return Prediction{}, err
		}
		e.stats.RecordPrediction()
		p.Volume, p.Structure = out.Volume(), out
		p.Factor, p.Attempts, p.Converged = p.Volume/p.StartingVolume, 1, true

	default:
		return Prediction{}, fmt.Errorf("%q: %w", mode, ErrUnknownMode)
	}
	return p, nil
}

// PredictBatch predicts every entry with bounded parallelism and hands the
// rows, in input order, to sink when it is non-nil.
func (e *Engine) PredictBatch(ctx context.Context, entries []storage.ReferenceEntry, mode Mode, sink storage.ResultSink) ([]common.ResultRow, error) {
	rows := make([]common.ResultRow, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.conf.Workers)
	for i, en := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := e.Predict(en.Structure, mode)
			if err != nil {
				return fmt.Errorf("predict %s: %w", en.ID, err)
			}
			rows[i] = common.ResultRow{
				TaskID:          en.ID,
				ReducedFormula:  p.Formula,
				StartingVolume:  p.StartingVolume,
				PredictedVolume: p.Volume,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if sink != nil {
		if err := sink.WriteResults(rows); err != nil {
			return rows, fmt.Errorf("write results: %w", err)
		}
	}
	return rows, nil
}

// PredictCorpus runs PredictBatch over the corpus entries matching the filter.
func (e *Engine) PredictCorpus(ctx context.Context, maxElements int, eAboveHull float64, mode Mode, sink storage.ResultSink) ([]common.ResultRow, error) {
	if e.corpus == nil {
		return nil, ErrNoCorpus
	}
	entries, err := e.corpus.Query(maxElements, eAboveHull)
	if err != nil {
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	return e.PredictBatch(ctx, entries, mode, sink)
}

func (e *Engine) Close() error {
	if e.journal != nil {
		return e.journal.Close()
	}
	return nil
}
