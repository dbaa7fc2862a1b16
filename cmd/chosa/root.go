package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/chosa"
)

var rootFlags struct {
	playbook    string
	sqlitePath  string
	databaseURL string
	noPersist   bool
}

var rootCmd = &cobra.Command{
	Use:           "chosa",
	Short:         "Analyze due-diligence documents with an LLM review program",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.playbook, "playbook", "", "Playbook YAML path (default: $CHOSA_PLAYBOOK or built-in)")
	pf.StringVar(&rootFlags.sqlitePath, "sqlite", "", "SQLite database path (default: $CHOSA_SQLITE_PATH)")
	pf.StringVar(&rootFlags.databaseURL, "database-url", "", "Postgres DSN (default: $DATABASE_URL)")
	pf.BoolVar(&rootFlags.noPersist, "no-persist", false, "Do not write a durable snapshot")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
}

// engineOptions translates shared flags into engine options.
func engineOptions() []chosa.Option {
	opts := []chosa.Option{chosa.WithVersion(version)}
	if rootFlags.playbook != "" {
		opts = append(opts, chosa.WithPlaybookPath(rootFlags.playbook))
	}
	if rootFlags.sqlitePath != "" {
		opts = append(opts, chosa.WithSQLitePath(rootFlags.sqlitePath))
	}
	if rootFlags.databaseURL != "" {
		opts = append(opts, chosa.WithDatabaseURL(rootFlags.databaseURL))
	}
	if rootFlags.noPersist {
		opts = append(opts, chosa.WithoutPersistence())
	}
	return opts
}

// writeReport writes the report as indented JSON to path, or stdout when
// path is empty.
func writeReport(report *chosa.Report, path string) error {
	out := os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
