// Package cmd provides the CLI commands for amanrank.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amanrank/internal/config"
	"github.com/Aman-CERP/amanrank/internal/logging"
	"github.com/Aman-CERP/amanrank/internal/profiling"
	"github.com/Aman-CERP/amanrank/pkg/version"
)

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip_config"

// app carries state shared by one command tree invocation.
type app struct {
	dir     string
	debug   bool
	profile profiling.Config

	cfg            *config.Config
	session        *profiling.Session
	loggingCleanup func()
}

// NewRootCmd creates the root command for the amanrank CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "amanrank",
		Short: "Multi-stage document retrieval and ranking",
		Long: `amanrank ranks documents for a query in stages:

BM25 keyword retrieval and embedding similarity run in parallel,
their scores are fused, a cross-encoder reranks the head of the
list, and ranked lists are cached for repeated queries.

Index a JSON Lines corpus once, then search it:

  amanrank index corpus.jsonl
  amanrank search "cat on a mat"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate(version.Name + " version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&a.dir, "dir", "C", ".", "Project directory containing .amanrank.yaml")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.amanrank/logs/")
	cmd.PersistentFlags().StringVar(&a.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&a.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = a.start
	cmd.PersistentPostRunE = a.stop

	cmd.AddCommand(newIndexCmd(a))
	cmd.AddCommand(newSearchCmd(a))
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newConfigCmd(a))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// start loads configuration, then starts logging and profiling.
func (a *app) start(cmd *cobra.Command, _ []string) error {
	logCfg := logging.DefaultConfig()
	if cmd.Annotations[skipConfig] == "" {
		cfg, err := config.Load(a.dir)
		if err != nil {
			return err
		}
		a.cfg = cfg
		logCfg = cfg.Logging
	}
	if a.debug {
		logCfg = logging.DebugConfig()
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.loggingCleanup = cleanup
	if a.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}

	if a.profile.Enabled() {
		session, err := profiling.Start(a.profile)
		if err != nil {
			a.closeLogging()
			return err
		}
		a.session = session
	}
	return nil
}

// stop flushes profiles and closes the log file.
func (a *app) stop(_ *cobra.Command, _ []string) error {
	var errs []error
	if a.session != nil {
		if err := a.session.Stop(); err != nil {
			errs = append(errs, err)
		}
		a.session = nil
	}
	a.closeLogging()
	return errors.Join(errs...)
}

func (a *app) closeLogging() {
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
}

// config returns the loaded configuration.
func (a *app) config() *config.Config {
	if a.cfg == nil {
		a.cfg = config.NewConfig()
	}
	return a.cfg
}

// storePath resolves the document store path against the project directory.
func (a *app) storePath(override string) string {
	path := override
	if path == "" {
		path = a.config().Store.Path
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(a.dir, path)
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
