package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/config"
	"github.com/Aman-CERP/recall/internal/output"
	"github.com/Aman-CERP/recall/internal/update"
)

type watchOptions struct {
	session       string
	poll          bool
	skipInitScan  bool
	repairPending bool
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions

	cmd := &cobra.Command{
		Use:   "watch [dir...]",
		Short: "Keep the index up to date while files change",
		Long: `Watch directories (or the configured watch roots) and index changes as
they happen. Bursts of changes are debounced into a single pass
(watch.debounce) and a pass that is running when new changes arrive is
followed by another one.

On start the roots are reconciled with the index, so changes made while
recall was not running are picked up. Stop with Ctrl+C; a file being
indexed at that moment is finished first.`,
		Example: `  recall watch
  recall watch ~/Documents/notes --session notes
  recall watch --poll   # network drives without file events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.session, "session", "s", "", "Session id for the files (default: directory name)")
	cmd.Flags().BoolVar(&opts.poll, "poll", false, "Poll for changes instead of using file system events")
	cmd.Flags().BoolVar(&opts.skipInitScan, "no-initial-scan", false, "Do not reconcile the roots on start")
	cmd.Flags().BoolVar(&opts.repairPending, "repair", false, "Embed documents left without a vector before watching")

	return cmd
}

func runWatch(ctx context.Context, cmd *cobra.Command, args []string, opts watchOptions) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	roots, err := resolveRoots(cfg, args, opts.session)
	if err != nil {
		return err
	}

	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	out := output.New(cmd.OutOrStdout())
	mgr := update.NewManager(update.ManagerConfig{
		Debounce:     config.Duration(cfg.Watch.Debounce, update.DefaultDebounce),
		PollInterval: config.Duration(cfg.Watch.PollInterval, 5*time.Second),
		ForcePolling: opts.poll,
		Exclude:      cfg.Watch.Exclude,
		Processor:    svc,
		Logger:       slog.Default(),
	})
	for _, r := range roots {
		svc.AddRoot(r)
		if _, err := mgr.Add(r.Path); err != nil {
			_ = mgr.Close()
			return err
		}
	}

	switch {
	case svc.NeedsRebuild():
		out.Warningf("Index needs a rebuild: %s", strings.Join(svc.RebuildReasons(), "; "))
		if err := rebuildIndex(ctx, out, svc, roots); err != nil {
			_ = mgr.Close()
			return err
		}
	case !opts.skipInitScan:
		mgr.RequestRebuildAll()
	}

	if opts.repairPending {
		res, err := svc.Repair(ctx)
		if err != nil {
			_ = mgr.Close()
			return err
		}
		if res.Reembedded+res.OrphansRemoved > 0 {
			out.Successf("Repaired index: %d re-embedded, %d orphan vectors removed", res.Reembedded, res.OrphansRemoved)
		}
	}

	out.Successf("Watching %d %s, press Ctrl+C to stop", len(roots), pluralize(len(roots), "directory", "directories"))
	for _, r := range roots {
		out.Dim("  " + r.Path)
	}

	err = mgr.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err == nil {
		out.Success("Stopped watching")
	}
	return err
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
