package client

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"crystalvol/pkg/api"
	"crystalvol/pkg/common"
	"crystalvol/pkg/config"
	"crystalvol/pkg/core"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/storage"
)

type memCorpus []storage.ReferenceEntry

func (m memCorpus) Query(int, float64) ([]storage.ReferenceEntry, error) { return m, nil }

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

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Workers = 2
	engine, err := core.NewEngine(cfg, memCorpus{
		{ID: "s1", Structure: rockSalt(t, 5.0)},
		{ID: "s2", Structure: rockSalt(t, 6.0)},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	srv := httptest.NewServer(api.NewServer(engine).Handler())
	t.Cleanup(func() {
		srv.Close()
		engine.Close()
	})
	return srv
}

func TestDialInvalidAddr(t *testing.T) {
	_, err := Dial("invalid:invalid:invalid")
	if err == nil {
		t.Fatal("expected error for invalid address")
	}
}

func TestDialUnreachable(t *testing.T) {
	// Connect to non-routable IP (RFC 5737) - expect error
	_, err := Dial("192.0.2.1:9999")
	if err == nil {
		t.Skip("connection unexpectedly succeeded (e.g. in sandbox)")
	}
}

func TestClientRoundTrip(t *testing.T) {
	srv := startServer(t)
	c, err := Dial(srv.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	if _, err := c.Table(ctx); !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 before fit, got %v", err)
	}

	n, err := c.Fit(ctx, 2, 0.05)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 structures, got %d", n)
	}

	table, err := c.Table(ctx)
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if math.Abs(table["Cl-Na"]-2.75) > 1e-6 {
		t.Fatalf("unexpected table %v", table)
	}

	resp, err := c.Predict(ctx, rockSalt(t, 5.5), "statistical")
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if resp.Formula != "NaCl" || resp.Volume < 166 || resp.Volume > 167 {
		t.Fatalf("unexpected prediction %+v", resp)
	}
	if resp.Structure == nil || resp.Structure.Len() != 8 {
		t.Fatalf("prediction is missing its structure")
	}

	if _, err := c.Predict(ctx, rockSalt(t, 5.5), "dft"); !IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected 400 for unknown mode, got %v", err)
	}

	if err := c.ReloadTable(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["fits"] != 1 || stats["predictions"] != 1 {
		t.Fatalf("unexpected stats %v", stats)
	}
}
