package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/index"
	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/update"
)

// oneShotDebounce is the debounce of controllers that only run the
// initial scan.
const oneShotDebounce = time.Millisecond

func newIndexCmd() *cobra.Command {
	var session string

	cmd := &cobra.Command{
		Use:   "index [dir...]",
		Short: "Index the files of directories",
		Long: `Index every supported file under the given directories, or under the
configured watch roots when none are given.

Files already indexed are refreshed and indexed files that no longer exist
are removed. When the index was written by a different embedder or
analyzer it is rebuilt first.`,
		Example: `  recall index ~/Documents/notes
  recall index ~/work/specs --session specs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, args, session)
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "", "Session id for the files (default: directory name)")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, args []string, session string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := resolveRoots(cfg, args, session)
	if err != nil {
		return err
	}

	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	out := output.New(cmd.OutOrStdout())
	if svc.NeedsRebuild() {
		out.Warningf("Index needs a rebuild: %s", strings.Join(svc.RebuildReasons(), "; "))
		return rebuildIndex(ctx, out, svc, roots)
	}
	return scanRoots(ctx, out, svc, cfg, roots)
}

// scanRoots reconciles each root with the index through one-shot update
// controllers.
func scanRoots(ctx context.Context, out *output.Writer, svc *index.Service, cfg *config.Config, roots []config.RootConfig) error {
	mgr := update.NewManager(update.ManagerConfig{
		Debounce:  oneShotDebounce,
		Exclude:   cfg.Watch.Exclude,
		Processor: svc,
		Logger:    slog.Default(),
	})
	defer func() { _ = mgr.Close() }()

	sessions := make(map[string]string, len(roots))
	for _, r := range roots {
		sessions[r.Path] = svc.AddRoot(r)
		if _, err := mgr.Add(r.Path); err != nil {
			return err
		}
	}

	start := time.Now()
	mgr.RequestRebuildAll()
	if err := mgr.WaitIdle(ctx); err != nil {
		return err
	}

	for _, root := range mgr.Roots() {
		c, _ := mgr.Controller(root)
		st := c.Stats()
		msg := sessions[root] + ": " + root
		if st.Failed > 0 {
			out.Warningf("%s (%d indexed, %d removed, %d failed)", msg, st.Indexed, st.Removed, st.Failed)
			continue
		}
		out.Successf("%s (%d indexed, %d removed)", msg, st.Indexed, st.Removed)
	}
	out.Dim("Done in " + time.Since(start).Round(time.Millisecond).String())
	return nil
}

func rebuildIndex(ctx context.Context, out *output.Writer, svc *index.Service, roots []config.RootConfig) error {
	stats, err := svc.Rebuild(ctx, roots)
	if err != nil {
		return err
	}
	out.Successf("Rebuilt index: %d reindexed, %d new, %d removed", stats.Reindexed, stats.Scanned, stats.Removed)
	if stats.Failed > 0 {
		out.Warningf("%d documents failed, run with --debug for details", stats.Failed)
	}
	out.Dim("Done in " + stats.Took.Round(time.Millisecond).String())
	return nil
}
