package cmd

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/embed"
	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/preflight"
)

// doctorReport is the JSON form of doctor.
type doctorReport struct {
	Status   string                  `json:"status"`
	Checks   []preflight.CheckResult `json:"checks"`
	Warnings []string                `json:"warnings,omitempty"`
	Errors   []string                `json:"errors,omitempty"`
}

func newDoctorReport(results []preflight.CheckResult) doctorReport {
	report := doctorReport{Status: preflight.SummaryStatus(results), Checks: results}
	for _, r := range results {
		switch {
		case r.IsCritical():
			report.Errors = append(report.Errors, r.Name+": "+r.Message)
		case r.Status != preflight.StatusPass:
			report.Warnings = append(report.Warnings, r.Name+": "+r.Message)
		}
	}
	return report
}

func newDoctorCmd() *cobra.Command {
	var (
		format  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that this machine can run recall",
		Long: `Run system checks without opening the index:
  - Free disk space and write access in the data directory
  - Open file limit, which bounds how many directories can be watched
  - Whether the configured embedder answers
  - Whether pdftotext and tesseract are installed

Only failed required checks make the command fail.`,
		Example: `  # Run diagnostics
  recall doctor

  # JSON output for scripting
  recall doctor --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, format, verbose)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show details for passing checks too")

	return cmd
}

func runDoctor(cmd *cobra.Command, format string, verbose bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	embedder, err := embed.New(cfg.Embeddings, slog.Default())
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	checker := preflight.New(
		preflight.WithEmbedder(embedder),
		preflight.WithExtractTools(cfg.Extract),
	)
	results := checker.RunAll(cmd.Context(), cfg.DataDir)

	out := output.New(cmd.OutOrStdout())
	if format == "json" {
		if err := out.JSON(newDoctorReport(results)); err != nil {
			return err
		}
	} else {
		printDoctor(out, results, verbose)
	}

	if preflight.HasCriticalFailures(results) {
		return rerrors.New(rerrors.ErrCodeInternal, "system check failed", nil).
			WithSuggestion("Fix the failed checks and run 'recall doctor' again")
	}
	return nil
}

func printDoctor(out *output.Writer, results []preflight.CheckResult, verbose bool) {
	out.Header("System check")
	for _, r := range results {
		switch r.Status {
		case preflight.StatusPass:
			out.Successf("%s: %s", r.Name, r.Message)
		case preflight.StatusWarn:
			out.Warningf("%s: %s", r.Name, r.Message)
		default:
			out.Errorf("%s: %s", r.Name, r.Message)
		}
		if r.Details != "" && (verbose || r.Status != preflight.StatusPass) {
			out.Status("", r.Details)
		}
	}
	out.Newline()
	out.Field("Status", 6, strings.ToUpper(preflight.SummaryStatus(results)))
}
