package main

import (
	"flag"
	"log"
	"os"

	"crystalvol/pkg/api"
	"crystalvol/pkg/config"
	"crystalvol/pkg/core"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/storage"
)

func main() {
	configPath := flag.String("config", "", "config file (default: configs/crystalvol.yaml or crystalvol.yaml)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	l, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	logging.SetLogger(l)

	if err := os.MkdirAll(cfg.Storage.Dir, 0755); err != nil {
		log.Fatalf("Failed to create data dir: %v", err)
	}
	corpus, err := storage.OpenSQLiteCorpus(cfg.Storage.CorpusPath())
	if err != nil {
		log.Fatalf("Failed to open corpus: %v", err)
	}
	defer corpus.Close()

	engine, err := core.NewEngine(cfg, corpus)
	if err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}
	defer engine.Close()

	if n, err := corpus.Count(); err == nil {
		l.Info("corpus ready", "structures", n, "bond_types", len(engine.Table()))
	}

	if err := api.NewServer(engine).Start(cfg.Server.Addr); err != nil {
		l.Error("server stopped", "err", err)
	}
}
