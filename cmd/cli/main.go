package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crystalvol/pkg/config"
	"crystalvol/pkg/core"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "crystalvol",
	Short: "Predict crystal unit-cell volumes from bond-length statistics",
	Long: `
crystalvol learns average minimum bond lengths from a reference corpus of
crystal structures and uses them to predict the equilibrium volume of new
structures. A radius-ratio predictor based on tabulated elemental radii is
available as a table-free alternative.

Examples:
  # Import reference structures and fit the bond table
  crystalvol corpus import --e-above-hull 0 mp-22862.json mp-2657.json
  crystalvol fit --max-elements 2 --e-above-hull 0.05

  # Predict one structure
  crystalvol predict POSCAR
  crystalvol predict --mode radius structure.json
  crystalvol predict --remote localhost:8080 POSCAR
`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		l, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return err
		}
		logging.SetLogger(l)
		conf = cfg
		return nil
	},
}

// conf is set by the root pre-run hook.
var conf *config.Config

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: configs/crystalvol.yaml or crystalvol.yaml)")

	rootCmd.AddCommand(corpusCmd, fitCmd, predictCmd, batchCmd, tableCmd, serveCmd, statsCmd)
}

// openCorpus opens the SQLite corpus named by the config.
func openCorpus() (*storage.SQLiteCorpus, error) {
	if err := os.MkdirAll(conf.Storage.Dir, 0755); err != nil {
		return nil, err
	}
	return storage.OpenSQLiteCorpus(conf.Storage.CorpusPath())
}

// openEngine builds an engine backed by the configured corpus. The returned
// func releases both.
func openEngine() (*core.Engine, *storage.SQLiteCorpus, func(), error) {
	corpus, err := openCorpus()
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := core.NewEngine(conf, corpus)
	if err != nil {
		corpus.Close()
		return nil, nil, nil, err
	}
	return engine, corpus, func() {
		engine.Close()
		corpus.Close()
	}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
