package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"crystalvol/pkg/client"
	"crystalvol/pkg/core"
	"crystalvol/pkg/crystal"
	"crystalvol/pkg/storage"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Learn the bond-length table from the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		maxElements, eAboveHull := filter(cmd)
		start := time.Now()
		n, err := engine.Fit(cmd.Context(), maxElements, eAboveHull)
		if err != nil {
			return err
		}
		fmt.Printf("Fitted %d bond types from %d structures in %v -> %s\n",
			len(engine.Table()), n, time.Since(start).Round(time.Millisecond), conf.Storage.TablePath())
		return nil
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <file>...",
	Short: "Predict the equilibrium volume of structures (JSON or POSCAR)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPredict,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Predict every corpus entry matching the filter and store the results",
	RunE:  runBatch,
}

var (
	predictMode string
	predictOut  string
	remoteAddr  string
	batchCSV    string
	batchNoDB   bool
)

func init() {
	addFilterFlags(fitCmd)

	predictCmd.Flags().StringVarP(&predictMode, "mode", "m", "statistical", "predictor: statistical or radius")
	predictCmd.Flags().StringVarP(&predictOut, "out", "o", "", "write the rescaled structure of the last input as JSON")
	predictCmd.Flags().StringVar(&remoteAddr, "remote", "", "send structures to a running server at this address")

	addFilterFlags(batchCmd)
	batchCmd.Flags().StringVarP(&predictMode, "mode", "m", "statistical", "predictor: statistical or radius")
	batchCmd.Flags().StringVar(&batchCSV, "csv", "", "also write results to this CSV file")
	batchCmd.Flags().BoolVar(&batchNoDB, "no-db", false, "do not store results in the predictions table")
}

func runPredict(cmd *cobra.Command, args []string) error {
	mode, err := core.ParseMode(predictMode)
	if err != nil {
		return err
	}
	predict, closeFn, err := predictor(cmd)
	if err != nil {
		return err
	}
	defer closeFn()

	var last *crystal.Structure
	for _, path := range args {
		s, err := crystal.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("Starting volume for %s = %.4f\n", s.ReducedFormula(), s.Volume())

		p, err := predict(s, mode)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Printf("Predicted volume = %.4f, with RMSE = %.4f and a volume change of %.2f%%", p.Volume, p.RMSE, p.PercentChange())
		if mode == core.ModeStatistical && !p.Converged {
			fmt.Printf(" (not converged after %d rounds)", p.Attempts)
		}
		fmt.Println()
		last = p.Structure
	}

	if predictOut != "" && last != nil {
		data, err := json.MarshalIndent(last, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(predictOut, data, 0644)
	}
	return nil
}

// predictor returns a local engine or, with --remote, a server client.
func predictor(cmd *cobra.Command) (func(*crystal.Structure, core.Mode) (core.Prediction, error), func(), error) {
	if remoteAddr == "" {
		engine, err := core.NewEngine(conf, nil)
		if err != nil {
			return nil, nil, err
		}
		return engine.Predict, func() { engine.Close() }, nil
	}

	c, err := client.Dial(remoteAddr)
	if err != nil {
		return nil, nil, err
	}
	predict := func(s *crystal.Structure, mode core.Mode) (core.Prediction, error) {
		r, err := c.Predict(cmd.Context(), s, string(mode))
		if err != nil {
			return core.Prediction{}, err
		}
		return core.Prediction{
			Mode:           core.Mode(r.Mode),
			Formula:        r.Formula,
			StartingVolume: r.StartingVolume,
			Volume:         r.Volume,
			Structure:      r.Structure,
			RMSE:           r.RMSE,
			Factor:         r.Factor,
			Attempts:       r.Attempts,
			Converged:      r.Converged,
		}, nil
	}
	return predict, func() { c.Close() }, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	mode, err := core.ParseMode(predictMode)
	if err != nil {
		return err
	}
	engine, corpus, release, err := openEngine()
	if err != nil {
		return err
	}
	defer release()

	var sinks storage.MultiSink
	if !batchNoDB {
		sinks = append(sinks, corpus)
	}
	if batchCSV != "" {
		csvSink, err := storage.CreateCSVSink(batchCSV)
		if err != nil {
			return err
		}
		defer csvSink.Close()
		sinks = append(sinks, csvSink)
	}

	maxElements, eAboveHull := filter(cmd)
	rows, err := engine.PredictCorpus(cmd.Context(), maxElements, eAboveHull, mode, sinks)
	if err != nil {
		return err
	}
	for _, r := range rows {
		fmt.Printf("%-16s %-12s %12.4f -> %12.4f (%+.2f%%)\n", r.TaskID, r.ReducedFormula, r.StartingVolume, r.PredictedVolume, r.PercentChange())
	}
	fmt.Printf("%d predictions\n", len(rows))
	return nil
}
