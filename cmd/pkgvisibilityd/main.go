// Command pkgvisibilityd wires the Relation Store, Decision Cache, Decision
// Engine and Incremental Maintainer together behind a small CLI, in the
// same cobra-root-plus-subcommands shape as the teacher's own daemon
// entrypoint (cmd/pulse/main.go).
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	version = "dev"

	dataDir    string
	sqlitePath string
)

var rootCmd = &cobra.Command{
	Use:     "pkgvisibilityd",
	Short:   "Package query visibility filter daemon",
	Long:    "pkgvisibilityd evaluates and serves cross-package query visibility decisions over a directory- or sqlite-backed package table.",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory of per-package JSON records backing the State Provider")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite", "", "sqlite database path backing the State Provider instead of --data-dir")
	rootCmd.AddCommand(serveCmd, queryCmd, dumpCmd)
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log.Logger = log.Output(os.Stderr)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
