package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/crystalvol.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	// Load with empty path uses default search (may use defaults if no config file)
	cfg, _ := Load("")
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr: got %s", cfg.Server.Addr)
	}
	if cfg.Predictor.Finder != "voronoi" {
		t.Errorf("default finder: got %s", cfg.Predictor.Finder)
	}
	if cfg.Predictor.VoronoiCutoff != 10 || cfg.Predictor.Cutoff != 8 || cfg.Predictor.MaxCutoff != 32 {
		t.Errorf("default cutoffs: got %v/%v/%v", cfg.Predictor.VoronoiCutoff, cfg.Predictor.Cutoff, cfg.Predictor.MaxCutoff)
	}
	if cfg.Predictor.MaxRetries != 5 {
		t.Errorf("default max_retries: got %d", cfg.Predictor.MaxRetries)
	}
	if cfg.RadiusRatio.IonicMix != 0.2 {
		t.Errorf("default ionic_mix: got %v", cfg.RadiusRatio.IonicMix)
	}
	if cfg.Corpus.MaxElements != 2 || cfg.Corpus.EAboveHull != 0.05 {
		t.Errorf("default corpus filter: got %d/%v", cfg.Corpus.MaxElements, cfg.Corpus.EAboveHull)
	}
	if cfg.Workers <= 0 {
		t.Errorf("default workers: got %d", cfg.Workers)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
server:
  addr: ":9000"
storage:
  dir: "test_data"
  journal_file: ""
predictor:
  finder: cutoff
  cutoff: 6
  max_retries: 2
  scan_min: 90
  scan_max: 80
radius_ratio:
  ionic_mix: 0.5
corpus:
  max_elements: 3
workers: 2
log:
  format: json
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr: got %s", cfg.Server.Addr)
	}
	if got := cfg.Storage.CorpusPath(); got != filepath.Join("test_data", "corpus.db") {
		t.Errorf("corpus path: got %s", got)
	}
	if cfg.Storage.JournalPath() != "" {
		t.Errorf("journal should be disabled, got %s", cfg.Storage.JournalPath())
	}
	if cfg.Predictor.Finder != "cutoff" || cfg.Predictor.Cutoff != 6 {
		t.Errorf("finder: got %s/%v", cfg.Predictor.Finder, cfg.Predictor.Cutoff)
	}
	if cfg.Predictor.VoronoiCutoff != 10 {
		t.Errorf("voronoi_cutoff should keep its default, got %v", cfg.Predictor.VoronoiCutoff)
	}
	if cfg.Predictor.MaxRetries != 2 {
		t.Errorf("max_retries: got %d", cfg.Predictor.MaxRetries)
	}
	if cfg.Predictor.ScanMin != 80 || cfg.Predictor.ScanMax != 120 {
		t.Errorf("inverted scan bounds should reset: got %d..%d", cfg.Predictor.ScanMin, cfg.Predictor.ScanMax)
	}
	if cfg.RadiusRatio.IonicMix != 0.5 || cfg.RadiusRatio.Cutoff != 8 {
		t.Errorf("radius_ratio: got %+v", cfg.RadiusRatio)
	}
	if cfg.Corpus.MaxElements != 3 || cfg.Corpus.EAboveHull != 0.05 {
		t.Errorf("corpus: got %+v", cfg.Corpus)
	}
	if cfg.Workers != 2 || cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("workers/log: got %d %+v", cfg.Workers, cfg.Log)
	}
}
