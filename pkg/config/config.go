package config

import (
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Predictor   PredictorConfig   `yaml:"predictor"`
	RadiusRatio RadiusRatioConfig `yaml:"radius_ratio"`
	Corpus      CorpusConfig      `yaml:"corpus"`
	Workers     int               `yaml:"workers"`
	Log         LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"` // HTTP Listen Address (e.g. :8080)
}

type StorageConfig struct {
	Dir         string `yaml:"dir"`
	CorpusDB    string `yaml:"corpus_db"`
	TableFile   string `yaml:"table_file"`
	JournalFile string `yaml:"journal_file"` // empty disables the observation journal
}

func (s StorageConfig) CorpusPath() string { return filepath.Join(s.Dir, s.CorpusDB) }
func (s StorageConfig) TablePath() string  { return filepath.Join(s.Dir, s.TableFile) }

func (s StorageConfig) JournalPath() string {
	if s.JournalFile == "" {
		return ""
	}
	return filepath.Join(s.Dir, s.JournalFile)
}

type PredictorConfig struct {
	Finder        string  `yaml:"finder"` // voronoi | cutoff
	Tolerance     float64 `yaml:"tolerance"`
	VoronoiCutoff float64 `yaml:"voronoi_cutoff"` // sphere radius for Voronoi candidates
	MinDistance   float64 `yaml:"min_distance"`
	Cutoff        float64 `yaml:"cutoff"`     // cutoff finder start radius
	MaxCutoff     float64 `yaml:"max_cutoff"` // cutoff finder only
	ScanMin       int     `yaml:"scan_min"`
	ScanMax       int     `yaml:"scan_max"`
	RetryLow      int     `yaml:"retry_low"`
	RetryHigh     int     `yaml:"retry_high"`
	MaxRetries    int     `yaml:"max_retries"`
}

type RadiusRatioConfig struct {
	Cutoff    float64 `yaml:"cutoff"`
	MaxCutoff float64 `yaml:"max_cutoff"`
	IonicMix  float64 `yaml:"ionic_mix"`
}

type CorpusConfig struct {
	MaxElements int     `yaml:"max_elements"`
	EAboveHull  float64 `yaml:"e_above_hull"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Storage: StorageConfig{
			Dir:         "crystalvol_data",
			CorpusDB:    "corpus.db",
			TableFile:   "bondlengths.tbl",
			JournalFile: "bonds.journal",
		},
		Predictor: PredictorConfig{
			Finder:        "voronoi",
			Tolerance:     0.5,
			VoronoiCutoff: 10,
			MinDistance:   0.1,
			Cutoff:        8,
			MaxCutoff:     32,
			ScanMin:       80,
			ScanMax:       120,
			RetryLow:      85,
			RetryHigh:     115,
			MaxRetries:    5,
		},
		RadiusRatio: RadiusRatioConfig{
			Cutoff:    8,
			MaxCutoff: 32,
			IonicMix:  0.2,
		},
		Corpus: CorpusConfig{
			MaxElements: 2,
			EAboveHull:  0.05,
		},
		Workers: runtime.NumCPU(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		for _, p := range []string{"configs/crystalvol.yaml", "crystalvol.yaml"} {
			data, err := os.ReadFile(p)
			if err == nil {
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return cfg, err
				}
				applyDefaults(cfg)
				return cfg, nil
			}
		}
		applyDefaults(cfg)
		return cfg, nil // no file found: use defaults
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = d.Storage.Dir
	}
	if cfg.Storage.CorpusDB == "" {
		cfg.Storage.CorpusDB = d.Storage.CorpusDB
	}
	if cfg.Storage.TableFile == "" {
		cfg.Storage.TableFile = d.Storage.TableFile
	}
	p := &cfg.Predictor
	if p.Finder != "voronoi" && p.Finder != "cutoff" {
		p.Finder = d.Predictor.Finder
	}
	if p.Tolerance <= 0 || p.Tolerance >= 1 {
		p.Tolerance = d.Predictor.Tolerance
	}
	if p.VoronoiCutoff <= 0 {
		p.VoronoiCutoff = d.Predictor.VoronoiCutoff
	}
	if p.Cutoff <= 0 {
		p.Cutoff = d.Predictor.Cutoff
	}
	if p.MinDistance < 0 {
		p.MinDistance = d.Predictor.MinDistance
	}
	if p.MaxCutoff < p.Cutoff {
		p.MaxCutoff = d.Predictor.MaxCutoff
	}
	if p.ScanMin <= 0 || p.ScanMax < p.ScanMin {
		p.ScanMin, p.ScanMax = d.Predictor.ScanMin, d.Predictor.ScanMax
	}
	if p.RetryLow <= 0 || p.RetryHigh < p.RetryLow {
		p.RetryLow, p.RetryHigh = d.Predictor.RetryLow, d.Predictor.RetryHigh
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	r := &cfg.RadiusRatio
	if r.Cutoff <= 0 {
		r.Cutoff = d.RadiusRatio.Cutoff
	}
	if r.MaxCutoff < r.Cutoff {
		r.MaxCutoff = d.RadiusRatio.MaxCutoff
	}
	if r.IonicMix < 0 || r.IonicMix > 1 {
		r.IonicMix = d.RadiusRatio.IonicMix
	}
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}
