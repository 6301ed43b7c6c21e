package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crystalvol/pkg/common"
	"crystalvol/pkg/config"
	"crystalvol/pkg/core"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/storage"
)

type memCorpus []storage.ReferenceEntry

func (m memCorpus) Query(maxElements int, eAboveHull float64) ([]storage.ReferenceEntry, error) {
	var out []storage.ReferenceEntry
	for _, e := range m {
		if e.NElements <= maxElements && e.EAboveHull < eAboveHull {
			out = append(out, e)
		}
	}
	return out, nil
}

func rockSalt(t *testing.T, a float64) *crystal.Structure {
	t.Helper()
	s, err := crystal.NewOrdered(crystal.Cubic(a),
		[]string{"Na", "Na", "Na", "Na", "Cl", "Cl", "Cl", "Cl"},
		[]common.Vec3{
			{0, 0, 0}, {0.5, 0.5, 0}, {0.5, 0, 0.5}, {0, 0.5, 0.5},
			{0.5, 0, 0}, {0, 0.5, 0}, {0, 0, 0.5}, {0.5, 0.5, 0.5},
		})
	if err != nil {
		t.Fatalf("build rock salt: %v", err)
	}
	return s
}

func newTestServer(t *testing.T) (*Server, *core.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Workers = 2
	corpus := memCorpus{
		{ID: "s1", Structure: rockSalt(t, 5.0), NElements: 2},
		{ID: "s2", Structure: rockSalt(t, 6.0), NElements: 2},
	}
	engine, err := core.NewEngine(cfg, corpus)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return NewServer(engine), engine
}

func fit(t *testing.T, s *Server) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/fit", strings.NewReader(`{"max_elements": 2, "e_above_hull": 0.05}`))
	rec := httptest.NewRecorder()
	s.handleFit(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleFitAndTableExport(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleTable(rec, httptest.NewRequest(http.MethodGet, "/api/table", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before fit, got %d", rec.Code)
	}

	fit(t, s)

	rec = httptest.NewRecorder()
	s.handleTable(rec, httptest.NewRequest(http.MethodGet, "/api/table", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	want := "bond_type,avg_min_distance\nCl-Na,2.750000\n"
	if rec.Body.String() != want {
		t.Fatalf("unexpected table export %q", rec.Body.String())
	}
}

func TestHandleFitRejectsGet(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handleFit(rec, httptest.NewRequest(http.MethodGet, "/api/fit", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleFitEmptySelection(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/fit", strings.NewReader(`{"max_elements": 1, "e_above_hull": 0.05}`))
	rec := httptest.NewRecorder()
	s.handleFit(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandlePredict(t *testing.T) {
	s, _ := newTestServer(t)
	fit(t, s)

	body, err := json.Marshal(rockSalt(t, 5.5))
	if err != nil {
		t.Fatalf("marshal structure: %v", err)
	}

	for _, mode := range []string{"statistical", "radius"} {
		req := httptest.NewRequest(http.MethodPost, "/api/predict?mode="+mode, bytes.NewReader(body))
		rec := httptest.NewRecorder()
		s.handlePredict(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", mode, rec.Code, rec.Body.String())
		}

		var resp struct {
			Mode           string          `json:"mode"`
			Formula        string          `json:"formula"`
			StartingVolume float64         `json:"starting_volume"`
			Volume         float64         `json:"volume"`
			Structure      json.RawMessage `json:"structure"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode response: %v", mode, err)
		}
		if resp.Mode != mode || resp.Formula != "NaCl" {
			t.Fatalf("%s: unexpected response %+v", mode, resp)
		}
		if resp.Volume <= 0 || len(resp.Structure) == 0 {
			t.Fatalf("%s: missing prediction in %s", mode, rec.Body.String())
		}
	}
}

func TestHandlePredictErrors(t *testing.T) {
	s, _ := newTestServer(t)

	cases := []struct {
		name   string
		method string
		url    string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, "/api/predict", "", http.StatusMethodNotAllowed},
		{"bad mode", http.MethodPost, "/api/predict?mode=dft", "{}", http.StatusBadRequest},
		{"bad json", http.MethodPost, "/api/predict", "{", http.StatusBadRequest},
		{"disordered radius", http.MethodPost, "/api/predict?mode=radius",
			`{"lattice":{"matrix":[[4,0,0],[0,4,0],[0,0,4]]},"sites":[{"species":[{"element":"Fe","occu":0.5},{"element":"Ni","occu":0.5}],"abc":[0,0,0]}]}`,
			http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.url, strings.NewReader(tc.body))
		rec := httptest.NewRecorder()
		s.handlePredict(rec, req)
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d: %s", tc.name, tc.code, rec.Code, rec.Body.String())
		}
	}
}

func TestHandleReload(t *testing.T) {
	s, engine := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleReload(rec, httptest.NewRequest(http.MethodPost, "/api/table/reload", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a saved table, got %d", rec.Code)
	}

	fit(t, s)
	engine.Table()["Cl-Na"] = 99 // local scribble, discarded by the reload

	rec = httptest.NewRecorder()
	s.handleReload(rec, httptest.NewRequest(http.MethodPost, "/api/table/reload", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := engine.Table()["Cl-Na"]; got != 2.75 {
		t.Fatalf("expected reloaded 2.75, got %v", got)
	}
}

func TestHandleStatsAndMetrics(t *testing.T) {
	s, _ := newTestServer(t)
	fit(t, s)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	var stats struct {
		Counters  map[string]uint64 `json:"counters"`
		BondTypes int               `json:"bond_types"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Counters["fits"] != 1 || stats.BondTypes != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, m := range []string{
		"# TYPE crystalvol_fits_total counter",
		"crystalvol_predictions_total 0",
		"crystalvol_fits_total 1",
		"# TYPE crystalvol_bond_types gauge",
		"crystalvol_bond_types 1",
	} {
		if !strings.Contains(body, m) {
			t.Fatalf("expected metrics output to contain %q, body=%s", m, body)
		}
	}
}

func TestRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
