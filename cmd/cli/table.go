package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crystalvol/pkg/api"
	"crystalvol/pkg/client"
	"crystalvol/pkg/core"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Inspect the learned bond-length table",
}

var tableShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the table",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := core.NewEngine(conf, nil)
		if err != nil {
			return err
		}
		defer engine.Close()

		table := engine.Table()
		for _, bt := range table.Keys() {
			fmt.Printf("%-10s %.4f\n", bt, table[bt])
		}
		fmt.Printf("%d bond types\n", len(table))
		return nil
	},
}

var tableExportCmd = &cobra.Command{
	Use:   "export [file]",
	Short: "Write the table as CSV to a file or stdout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := core.NewEngine(conf, nil)
		if err != nil {
			return err
		}
		defer engine.Close()

		if len(args) == 0 {
			return engine.Table().WriteCSV(os.Stdout)
		}
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		if err := engine.Table().WriteCSV(f); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	},
}

var tableRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute the table from the observation journal and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := core.NewEngine(conf, nil)
		if err != nil {
			return err
		}
		defer engine.Close()

		n, err := engine.RebuildTable()
		if err != nil {
			return err
		}
		if err := engine.SaveTable(); err != nil {
			return err
		}
		fmt.Printf("Rebuilt %d bond types from %d observations\n", len(engine.Table()), n)
		return nil
	},
}

var serveAddr string

var statsCmd = &cobra.Command{
	Use:   "stats <addr>",
	Short: "Print the prediction counters of a running server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.Dial(args[0])
		if err != nil {
			return err
		}
		defer c.Close()

		counters, err := c.Stats(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range []string{"predictions", "retries", "unconverged", "missing_bonds", "skipped_sites", "fits", "failures"} {
			fmt.Printf("%-14s %d\n", name, counters[name])
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, release, err := openEngine()
		if err != nil {
			return err
		}
		defer release()

		addr := conf.Server.Addr
		if serveAddr != "" {
			addr = serveAddr
		}
		return api.NewServer(engine).Start(addr)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	tableCmd.AddCommand(tableShowCmd, tableExportCmd, tableRebuildCmd)
}
