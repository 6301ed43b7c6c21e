package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"crystalvol/pkg/common"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/model"
)

func rockSalt(a float64, cation, anion string) *crystal.Structure {
	s, err := crystal.NewOrdered(crystal.Cubic(a),
		[]string{cation, cation, cation, cation, anion, anion, anion, anion},
		[]common.Vec3{
			{0, 0, 0}, {0.5, 0.5, 0}, {0.5, 0, 0.5}, {0, 0.5, 0.5},
			{0.5, 0, 0}, {0, 0.5, 0}, {0, 0, 0.5}, {0.5, 0.5, 0.5},
		})
	if err != nil {
		log.Fatalf("build %s%s: %v", cation, anion, err)
	}
	return s
}

func main() {
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	// reference cells: NaCl at its experimental lattice constant, KCl and NaBr
	// at theirs, so the table learns Na-Cl, K-Cl and Br-Na contacts
	refs := []*crystal.Structure{
		rockSalt(5.64, "Na", "Cl"),
		rockSalt(6.29, "K", "Cl"),
		rockSalt(5.97, "Na", "Br"),
	}
	ids := []string{"NaCl-ref", "KCl-ref", "NaBr-ref"}

	p := model.NewStatisticalPredictor(model.DefaultOptions())
	if err := p.Fit(context.Background(), refs, nil, ids); err != nil {
		log.Fatalf("Fit failed: %v", err)
	}
	table := p.Table()
	for _, bt := range table.Keys() {
		fmt.Printf("%-6s %.4f Å\n", bt, table[bt])
	}

	// a strained NaCl cell
	strained := rockSalt(5.2, "Na", "Cl")
	fmt.Printf("Starting volume for %s = %.3f\n", strained.ReducedFormula(), strained.Volume())

	res, err := p.Predict(strained)
	if err != nil {
		log.Fatalf("Predict failed: %v", err)
	}
	change := (res.Volume - strained.Volume()) / strained.Volume() * 100
	fmt.Printf("Statistical: volume = %.3f, RMSE = %.4f, change = %.2f%%, rounds = %d\n", res.Volume, res.RMSE, change, res.Attempts)

	rr, err := model.NewRadiusRatioPredictor().Predict(strained)
	if err != nil {
		log.Fatalf("Radius-ratio predict failed: %v", err)
	}
	change = (rr.Volume() - strained.Volume()) / strained.Volume() * 100
	fmt.Printf("Radius ratio: volume = %.3f, change = %.2f%%\n", rr.Volume(), change)
}
