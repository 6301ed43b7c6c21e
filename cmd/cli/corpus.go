package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"crystalvol/pkg/crystal"
	"crystalvol/pkg/logging"
	"crystalvol/pkg/storage"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the reference structure corpus",
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Import structures (JSON or POSCAR) into the corpus",
	Long: `
Import reference structures. The task id of each entry is the file name
without its extension; all files in one call share --e-above-hull.
`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCorpusImport,
}

var corpusListCmd = &cobra.Command{
	Use:   "list",
	Short: "List corpus entries matching the reference filter",
	RunE:  runCorpusList,
}

var corpusClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every reference structure",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := openCorpus()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.Truncate()
	},
}

var (
	importEAboveHull float64

	filterMaxElements int
	filterEAboveHull  float64
)

func init() {
	corpusImportCmd.Flags().Float64Var(&importEAboveHull, "e-above-hull", 0, "energy above hull of the imported structures (eV/atom)")
	addFilterFlags(corpusListCmd)

	corpusCmd.AddCommand(corpusImportCmd, corpusListCmd, corpusClearCmd)
}

// addFilterFlags registers the reference filter; unset flags fall back to the config.
func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&filterMaxElements, "max-elements", 0, "maximum number of distinct elements (default from config)")
	cmd.Flags().Float64Var(&filterEAboveHull, "e-above-hull", 0, "energy above hull threshold, exclusive (default from config)")
}

func filter(cmd *cobra.Command) (int, float64) {
	maxElements, eAboveHull := conf.Corpus.MaxElements, conf.Corpus.EAboveHull
	if cmd.Flags().Changed("max-elements") {
		maxElements = filterMaxElements
	}
	if cmd.Flags().Changed("e-above-hull") {
		eAboveHull = filterEAboveHull
	}
	return maxElements, eAboveHull
}

func runCorpusImport(cmd *cobra.Command, args []string) error {
	entries := make([]storage.ReferenceEntry, 0, len(args))
	for _, path := range args {
		s, err := crystal.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		entries = append(entries, storage.ReferenceEntry{ID: id, Structure: s, EAboveHull: importEAboveHull})
	}

	c, err := openCorpus()
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.BatchPut(entries); err != nil {
		return err
	}
	n, err := c.Count()
	if err != nil {
		return err
	}
	logging.Logger().Info("corpus import", "imported", len(entries), "total", n)
	fmt.Printf("Imported %d structures (%d in corpus)\n", len(entries), n)
	return nil
}

func runCorpusList(cmd *cobra.Command, args []string) error {
	c, err := openCorpus()
	if err != nil {
		return err
	}
	defer c.Close()

	maxElements, eAboveHull := filter(cmd)
	entries, err := c.Query(maxElements, eAboveHull)
	if err != nil {
		return err
	}
	fmt.Printf("%-16s %-12s %4s %10s %12s\n", "TASK_ID", "FORMULA", "NEL", "E_HULL", "VOLUME")
	for _, e := range entries {
		fmt.Printf("%-16s %-12s %4d %10.4f %12.4f\n", e.ID, e.Structure.ReducedFormula(), e.NElements, e.EAboveHull, e.Volume)
	}
	fmt.Printf("%d entries\n", len(entries))
	return nil
}
