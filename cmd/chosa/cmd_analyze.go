package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/chosa"
)

var analyzeFlags struct {
	output string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <document>...",
	Short: "Run the review program over document text files",
	Long: `Analyze runs the full review over the given documents: extraction of
facts and gaps per playbook domain, findings synthesis over the merged
record set, and gap analysis producing inferred estimates.

Documents are plain text files; the file name becomes the source
citation on every fact extracted from it. The report is written as JSON
to --output or stdout.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFlags.output, "output", "o", "", "Report output path (default: stdout)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	docs := make([]chosa.Document, 0, len(args))
	for _, path := range args {
		text, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		docs = append(docs, chosa.Document{
			Name: filepath.Base(path),
			Text: string(text),
		})
	}

	engine, err := chosa.New(engineOptions()...)
	if err != nil {
		return err
	}
	defer engine.Close(cmd.Context())

	report, err := engine.Analyze(cmd.Context(), docs)
	if err != nil {
		return err
	}
	return writeReport(report, analyzeFlags.output)
}
