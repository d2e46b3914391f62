package cmd

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/index"
	"github.com/Aman-CERP/recall/internal/output"
)

// statusReport is the JSON form of status.
type statusReport struct {
	index.Status
	Check *checkReport `json:"check,omitempty"`
}

type checkReport struct {
	Checked        int `json:"checked"`
	OrphanVectors  int `json:"orphan_vectors"`
	MissingVectors int `json:"missing_vectors"`
}

func newStatusCmd() *cobra.Command {
	var (
		format string
		check  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the index:
  - Number of documents, terms and vectors
  - Vector backend and embedder (model, availability)
  - Last indexing time
  - Whether a rebuild is pending, and why

With --check the lexical index and the vector store are compared as well.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, format, check)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&check, "check", false, "Check consistency between the lexical index and the vector store")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, format string, check bool) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	report := statusReport{Status: svc.Status(ctx)}
	if check {
		res, err := svc.Check(ctx)
		if err != nil {
			return err
		}
		report.Check = &checkReport{
			Checked:        res.Checked,
			OrphanVectors:  res.Count(index.InconsistencyOrphanVector),
			MissingVectors: res.Count(index.InconsistencyMissingVector),
		}
	}

	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		return out.JSON(report)
	}
	printStatus(out, report)
	return nil
}

func printStatus(out *output.Writer, r statusReport) {
	const width = 10

	out.Header("Index")
	out.Field("Location", width, r.DataDir)
	out.Field("Documents", width, r.Documents)
	out.Field("Terms", width, r.Terms)
	out.Field("Vectors", width, r.Vectors)
	out.Field("Updated", width, output.FormatTime(r.LastIndexedAt))
	out.Newline()

	out.Header("Embeddings")
	out.Field("Model", width, r.EmbedderModel)
	out.Field("Dimensions", width, r.Dimensions)
	out.Field("Backend", width, r.Backend)
	if r.EmbedderAvailable {
		out.Field("Embedder", width, out.Styles().Success.Render("available"))
	} else {
		out.Field("Embedder", width, out.Styles().Warning.Render("unavailable (keyword search only)"))
	}

	if r.Check != nil {
		out.Newline()
		out.Header("Consistency")
		out.Field("Checked", width, r.Check.Checked)
		out.Field("Orphans", width, r.Check.OrphanVectors)
		out.Field("Missing", width, r.Check.MissingVectors)
		if r.Check.OrphanVectors+r.Check.MissingVectors > 0 {
			out.Newline()
			out.Warning("Run 'recall repair' to fix the inconsistencies")
		}
	}

	if r.NeedsRebuild {
		out.Newline()
		out.Warningf("Rebuild pending: %s", strings.Join(r.RebuildReasons, "; "))
		out.Status("", "Run 'recall rebuild'")
	}
}
