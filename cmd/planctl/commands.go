package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/Lllllllleong/accreditationplan/internal/hierarchy"
	"github.com/Lllllllleong/accreditationplan/internal/models"
	"github.com/Lllllllleong/accreditationplan/internal/session"
	"github.com/Lllllllleong/accreditationplan/internal/store"
	"github.com/Lllllllleong/accreditationplan/internal/textgen"
	"github.com/spf13/cobra"
)

func loadAliases(cmd *cobra.Command) (hierarchy.Aliases, error) {
	path, _ := cmd.Flags().GetString("aliases")
	if path == "" {
		return nil, nil
	}
	aliases, err := hierarchy.LoadAliases(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load column aliases: %w", err)
	}
	return aliases, nil
}

func runParse(cmd *cobra.Command, args []string) error {
	aliases, err := loadAliases(cmd)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	tree, report, err := hierarchy.NewBuilder(aliases, slog.Default()).BuildSheet(data, filepath.Base(args[0]))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	}
	printTree(out, tree)
	fmt.Fprintf(out, "\n%d rows, %d items, %d skipped\n", report.Rows, report.Accepted, len(report.Skipped))
	for _, sk := range report.Skipped {
		fmt.Fprintf(out, "  row %d (%q): %s\n", sk.Row, sk.Code, sk.Reason)
	}
	return nil
}

func printTree(w io.Writer, tree *models.Tree) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	fmt.Fprintln(tw, "BAB\tSTANDAR\tKRITERIA\tITEM")
	for _, chKey := range tree.Order {
		ch := tree.Chapters[chKey]
		for _, stKey := range ch.Order {
			st := ch.Standards[stKey]
			for _, crKey := range st.Order {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", chKey, stKey, crKey, len(st.Criteria[crKey].Items))
			}
		}
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	flags := cmd.Flags()

	kindFlag, _ := flags.GetString("kind")
	kind, err := textgen.ParseKind(kindFlag)
	if err != nil {
		return err
	}
	if _, ok := kind.Target(); !ok {
		return fmt.Errorf("kind %q does not apply to items", kind)
	}
	apiKey, _ := flags.GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return errors.New("an API key is required: pass --api-key or set GEMINI_API_KEY")
	}
	aliases, err := loadAliases(cmd)
	if err != nil {
		return err
	}
	model, _ := flags.GetString("model")
	concurrency, _ := flags.GetInt("concurrency")
	rpm, _ := flags.GetInt("rpm")
	overwrite, _ := flags.GetBool("overwrite")
	withSummary, _ := flags.GetBool("summary")
	outPath, _ := flags.GetString("out")

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		Namespace: "planctl",
		UserID:    "local",
		Aliases:   aliases,
		Batch:     textgen.BatchOptions{Concurrency: concurrency, RequestsPerMinute: rpm},
	}, session.Deps{
		Store:     store.NewMemoryStore(),
		Generator: textgen.New(textgen.NewGeminiBackend(textgen.GeminiConfig{Model: model}), slog.Default()),
	})
	defer sess.Close(ctx)
	sess.SetAPIKey(apiKey)

	errOut := cmd.ErrOrStderr()
	up, err := sess.Upload(ctx, filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "%d items loaded from %s\n", up.ItemCount, filepath.Base(args[0]))

	res, err := sess.GenerateAll(ctx, kind, overwrite, func(p textgen.Progress) {
		fmt.Fprintf(errOut, "[%d/%d] %s\n", p.Current, p.Total, p.Message)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(errOut, "generated %d, skipped %d, failed %d\n", res.Generated, res.Skipped, res.Failed)
	for _, e := range res.Errors {
		fmt.Fprintln(errOut, "  ", e)
	}

	if withSummary {
		if _, err := sess.GenerateSummary(ctx); err != nil {
			return err
		}
	}

	workbook, name, err := sess.Export(ctx)
	if err != nil {
		return err
	}
	if outPath == "" {
		outPath = filepath.Join(filepath.Dir(args[0]), name)
	}
	if err := os.WriteFile(outPath, workbook, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), outPath)
	return nil
}
