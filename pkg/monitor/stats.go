package monitor

import (
	"sync/atomic"
)

// PredictionStats counts predictor activity. All methods are safe for
// concurrent use.
type PredictionStats struct {
	Predictions  uint64
	Retries      uint64
	Unconverged  uint64
	MissingBonds uint64
	SkippedSites uint64
	Fits         uint64
	Failures     uint64
}

func NewPredictionStats() *PredictionStats {
	return &PredictionStats{}
}

func (ps *PredictionStats) RecordPrediction() {
	atomic.AddUint64(&ps.Predictions, 1)
}

func (ps *PredictionStats) RecordRetry() {
	atomic.AddUint64(&ps.Retries, 1)
}

func (ps *PredictionStats) RecordUnconverged() {
	atomic.AddUint64(&ps.Unconverged, 1)
}

func (ps *PredictionStats) RecordMissingBond() {
	atomic.AddUint64(&ps.MissingBonds, 1)
}

func (ps *PredictionStats) RecordSkippedSite() {
	atomic.AddUint64(&ps.SkippedSites, 1)
}

func (ps *PredictionStats) RecordFit() {
	atomic.AddUint64(&ps.Fits, 1)
}

func (ps *PredictionStats) RecordFailure() {
	atomic.AddUint64(&ps.Failures, 1)
}

// RetryRate is the mean number of extra scan rounds per prediction.
func (ps *PredictionStats) RetryRate() float64 {
	preds := atomic.LoadUint64(&ps.Predictions)
	if preds == 0 {
		return 0.0
	}
	return float64(atomic.LoadUint64(&ps.Retries)) / float64(preds)
}

// Snapshot returns the current counters keyed by name.
func (ps *PredictionStats) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"predictions":   atomic.LoadUint64(&ps.Predictions),
		"retries":       atomic.LoadUint64(&ps.Retries),
		"unconverged":   atomic.LoadUint64(&ps.Unconverged),
		"missing_bonds": atomic.LoadUint64(&ps.MissingBonds),
		"skipped_sites": atomic.LoadUint64(&ps.SkippedSites),
		"fits":          atomic.LoadUint64(&ps.Fits),
		"failures":      atomic.LoadUint64(&ps.Failures),
	}
}
