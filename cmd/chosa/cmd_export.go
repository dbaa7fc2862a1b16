package main

import (
	"github.com/spf13/cobra"

	"github.com/ashita-ai/chosa"
)

var exportFlags struct {
	output string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the persisted record set as a JSON report",
	Long: `Export rebuilds a report from the persistence backend without running
any analysis: facts, gaps, findings, and the current generation of
inferred records.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "Report output path (default: stdout)")
}

func runExport(cmd *cobra.Command, _ []string) error {
	engine, err := chosa.New(engineOptions()...)
	if err != nil {
		return err
	}
	defer engine.Close(cmd.Context())

	report, err := engine.LoadReport(cmd.Context())
	if err != nil {
		return err
	}
	return writeReport(report, exportFlags.output)
}
