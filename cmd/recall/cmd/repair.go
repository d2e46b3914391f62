package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/recall/internal/output"
)

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Fix inconsistencies between the lexical index and the vector store",
		Long: `Remove vectors whose document no longer exists and embed documents that
were indexed while the embedder was unavailable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRepair(ctx, cmd)
		},
	}
}

func runRepair(ctx context.Context, cmd *cobra.Command) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := openIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeIndex(svc, &err)

	out := output.New(cmd.OutOrStdout())
	res, err := svc.Repair(ctx)
	if err != nil {
		return err
	}
	if res.OrphansRemoved+res.Reembedded+res.Failed == 0 {
		out.Success("Index is consistent")
		return nil
	}
	out.Successf("Removed %d orphan vectors, re-embedded %d documents", res.OrphansRemoved, res.Reembedded)
	if res.Failed > 0 {
		out.Warningf("%d documents could not be repaired, is the embedder running?", res.Failed)
	}
	return nil
}
