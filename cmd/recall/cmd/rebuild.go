package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/output"
)

func newRebuildCmd() *cobra.Command {
	var skipRoots bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Re-analyze and re-embed every document",
		Long: `Rebuild refreshes every document in the index: messages are re-analyzed
and re-embedded from their retained text, files are extracted again from
disk and files that no longer exist are removed. New files under the
configured watch roots are indexed as well.

Run it after changing the embedding model. An interrupted rebuild is
resumed by the next rebuild or index run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRebuild(ctx, cmd, skipRoots)
		},
	}

	cmd.Flags().BoolVar(&skipRoots, "skip-roots", false, "Do not scan watch roots for new files")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, skipRoots bool) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var roots []config.RootConfig
	if !skipRoots && len(cfg.Watch.Roots) > 0 {
		if roots, err = resolveRoots(cfg, nil, ""); err != nil {
			return err
		}
	}

	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	return rebuildIndex(ctx, output.New(cmd.OutOrStdout()), svc, roots)
}
