package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "planctl",
		Short: "Work with accreditation remediation plans from the command line",
		Long: `planctl groups an audit spreadsheet into chapters, standards and
criteria, drafts missing fields with Gemini and writes the result back
out as a workbook. Nothing is stored; every run starts from the file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log progress as JSON to stderr")
	rootCmd.PersistentFlags().String("aliases", "", "YAML file overriding the column aliases")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		level := slog.LevelWarn
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}

	parseCmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Group a spreadsheet and print the resulting tree",
		Args:  cobra.ExactArgs(1),
		RunE:  runParse,
	}
	parseCmd.Flags().Bool("json", false, "Print the tree as JSON")

	generateCmd := &cobra.Command{
		Use:   "generate <file>",
		Short: "Draft missing fields for every item and write a workbook",
		Args:  cobra.ExactArgs(1),
		RunE:  runGenerate,
	}
	generateCmd.Flags().String("kind", "remediation", "What to draft: remediation|evidence_title")
	generateCmd.Flags().Bool("overwrite", false, "Regenerate fields that already have a value")
	generateCmd.Flags().Bool("summary", false, "Also draft the plan summary")
	generateCmd.Flags().String("api-key", "", "Gemini API key (default $GEMINI_API_KEY)")
	generateCmd.Flags().String("model", "", "Gemini model")
	generateCmd.Flags().Int("concurrency", 1, "Items drafted in parallel")
	generateCmd.Flags().Int("rpm", 30, "Requests per minute across all workers")
	generateCmd.Flags().StringP("out", "o", "", "Output workbook (default <file>-rencana-perbaikan.xlsx)")

	rootCmd.AddCommand(parseCmd, generateCmd)
	return rootCmd
}
