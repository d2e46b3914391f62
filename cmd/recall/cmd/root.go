// Package cmd provides the CLI commands for recall.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/internal/logging"
	"github.com/Aman-CERP/recall/internal/profiling"
	"github.com/Aman-CERP/recall/pkg/version"
)

// Global flags
var (
	debugMode   bool
	configDir   string
	dataDirFlag string
	profileOpts profiling.Options
)

// Per-run state set up by the persistent hooks.
var (
	profileSession *profiling.Session
	loggingCleanup func()
)

// NewRootCmd creates the root command for the recall CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Local hybrid search over conversations and files",
		Long: `recall indexes chat messages and the files of watched directories
and answers queries by combining BM25 keyword ranking with embedding
similarity.

Everything stays on this machine: the index lives in ~/.recall/data and
embeddings come from a local Ollama server or the built-in static embedder.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("recall version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.recall/logs/")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding .recall.yaml (default: current directory)")
	cmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "Index directory (overrides data_dir)")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRepairCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging installs the default logger and starts any
// requested profiles.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	level := ""
	if cfg, err := loadConfig(); err == nil {
		level = cfg.Logging.Level
	}
	cleanup, err := logging.SetupDefault(debugMode, level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup

	if profileOpts.Enabled() {
		profileSession, err = profiling.Start(profileOpts)
		if err != nil {
			return err
		}
	}
	return nil
}

// stopProfilingAndLogging flushes profiles and closes the log file.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	var err error
	if profileSession != nil {
		err = profileSession.Stop()
		profileSession = nil
	}

	if loggingCleanup != nil {
		slog.Debug("logging_stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Execute runs the root command and prints a failure the way users
// should see it.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		// PersistentPostRunE does not run when the command fails
		_ = stopProfilingAndLogging(root, nil)
		_, _ = fmt.Fprintln(root.ErrOrStderr(), rerrors.FormatForCLI(err, debugMode))
	}
	return err
}
