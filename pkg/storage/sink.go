package storage

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"crystalvol/pkg/common"
)

// ResultHeader is the column layout of CSV result files.
var ResultHeader = []string{"task_id", "reduced_cell_formula", "starting_volume", "predicted_volume"}

// CSVSink writes result rows as CSV, emitting the header before the first batch.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
	header bool
}

func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// CreateCSVSink truncates path and writes results to it.
func CreateCSVSink(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := NewCSVSink(f)
	s.closer = f
	return s, nil
}

func (s *CSVSink) WriteResults(rows []common.ResultRow) error {
	if !s.header {
		if err := s.w.Write(ResultHeader); err != nil {
			return err
		}
		s.header = true
	}
	for _, r := range rows {
		rec := []string{
			r.TaskID,
			r.ReducedFormula,
			strconv.FormatFloat(r.StartingVolume, 'f', 4, 64),
			strconv.FormatFloat(r.PredictedVolume, 'f', 4, 64),
		}
		if err := s.w.Write(rec); err != nil {
			return err
		}
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	if s.closer != nil {
		return s.closer.Close()
	}
	return s.w.Error()
}

// MultiSink fans rows out to several sinks, stopping at the first error.
type MultiSink []ResultSink

func (m MultiSink) WriteResults(rows []common.ResultRow) error {
	for _, s := range m {
		if err := s.WriteResults(rows); err != nil {
			return err
		}
	}
	return nil
}
