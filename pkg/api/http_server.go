package api

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crystalvol/pkg/common"
	"crystalvol/pkg/core"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/logging"
)

// maxBodyBytes bounds uploaded structure documents.
const maxBodyBytes = 8 << 20

type Server struct {
	engine   *core.Engine
	registry *prometheus.Registry
}

func NewServer(engine *core.Engine) *Server {
	s := &Server{engine: engine, registry: prometheus.NewRegistry()}
	s.registerMetrics()
	return s
}

// counterHelp lists the exported prediction counters, keyed by snapshot name.
var counterHelp = []struct{ name, help string }{
	{"predictions", "Successful volume predictions."},
	{"retries", "Extra scan rounds started after a boundary hit."},
	{"unconverged", "Predictions returned without settling in the retry band."},
	{"missing_bonds", "Bond types resolved from atomic radii instead of the table."},
	{"skipped_sites", "Sites skipped for degenerate Voronoi geometry."},
	{"fits", "Completed table fits."},
	{"failures", "Predictions that returned an error."},
}

func (s *Server) registerMetrics() {
	stats := s.engine.Stats()
	for _, c := range counterHelp {
		name := c.name
		s.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "crystalvol",
			Name:      name + "_total",
			Help:      c.help,
		}, func() float64 { return float64(stats.Snapshot()[name]) }))
	}
	s.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "crystalvol",
		Name:      "bond_types",
		Help:      "Bond types in the current table.",
	}, func() float64 { return float64(len(s.engine.Table())) }))
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/predict", s.handlePredict)
	mux.HandleFunc("/api/fit", s.handleFit)
	mux.HandleFunc("/api/table", s.handleTable)
	mux.HandleFunc("/api/table/reload", s.handleReload)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Logger().Info("api server listening", "addr", addr)
	return srv.ListenAndServe()
}

// PredictResponse is the body returned by /api/predict.
type PredictResponse struct {
	Mode           string             `json:"mode"`
	Formula        string             `json:"formula"`
	StartingVolume float64            `json:"starting_volume"`
	Volume         float64            `json:"volume"`
	PercentChange  float64            `json:"percent_change"`
	RMSE           float64            `json:"rmse"`
	Factor         float64            `json:"factor"`
	Attempts       int                `json:"attempts"`
	Converged      bool               `json:"converged"`
	Structure      *crystal.Structure `json:"structure"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mode, err := core.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}
	st, err := crystal.FromJSON(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p, err := s.engine.Predict(st, mode)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, PredictResponse{
		Mode:           string(p.Mode),
		Formula:        p.Formula,
		StartingVolume: p.StartingVolume,
		Volume:         p.Volume,
		PercentChange:  p.PercentChange(),
		RMSE:           p.RMSE,
		Factor:         p.Factor,
		Attempts:       p.Attempts,
		Converged:      p.Converged,
		Structure:      p.Structure,
	})
}

func (s *Server) handleFit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defaults := s.engine.Config().Corpus
	req := struct {
		MaxElements int     `json:"max_elements"`
		EAboveHull  float64 `json:"e_above_hull"`
	}{defaults.MaxElements, defaults.EAboveHull}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	n, err := s.engine.Fit(r.Context(), req.MaxElements, req.EAboveHull)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, map[string]interface{}{
		"structures": n,
		"bond_types": len(s.engine.Table()),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	table := s.engine.Table()
	if len(table) == 0 {
		http.Error(w, common.ErrEmptyTable.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename=bondlengths.csv")
	if err := table.WriteCSV(w); err != nil {
		logging.Logger().Error("export table", "err", err)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.engine.ReloadTable(); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, map[string]interface{}{"bond_types": len(s.engine.Table())})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")

	stats := s.engine.Stats()
	writeJSON(w, map[string]interface{}{
		"counters":   stats.Snapshot(),
		"retry_rate": stats.RetryRate(),
		"bond_types": len(s.engine.Table()),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Logger().Error("encode response", "err", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownMode):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidStructure),
		errors.Is(err, common.ErrNoNeighbors),
		errors.Is(err, common.ErrUnknownElement):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrNoCorpus), errors.Is(err, core.ErrEmptyCorpus):
		return http.StatusConflict
	case errors.Is(err, common.ErrBadTable), errors.Is(err, common.ErrEmptyTable):
		return http.StatusConflict
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
