package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/engramd"
	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()

	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string // Only used by the serve command
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	clientFlags := &ClientFlags{}
	historyFlags := &HistoryFlags{}
	exportFlags := &ExportFlags{}
	resourcesFlags := &ResourcesFlags{}

	engramdCommand := command{}

	root := createRootCommand(globalFlags, clientFlags)

	// Add subcommands
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(engramdCommand, clientFlags),
		createStartCommand(engramdCommand, clientFlags),
		createStopCommand(engramdCommand, clientFlags),
		createRestartCommand(engramdCommand, clientFlags),
		createHealthCommand(engramdCommand, clientFlags),
		createHistoryCommand(engramdCommand, historyFlags, clientFlags),
		createExportCommand(engramdCommand, exportFlags, clientFlags),
		createResetDataCommand(engramdCommand, clientFlags),
		createResourcesCommand(engramdCommand, resourcesFlags, clientFlags),
	)

	return root
}

// createRootCommand creates the root command with persistent connection flags
func createRootCommand(globalFlags *GlobalFlags, clientFlags *ClientFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "engramd",
		Short: "Supervisor daemon for the Engram memory worker",
		Long: `Engramd keeps a single Engram worker process running: it spawns the worker,
watches its status endpoint, restarts it after crashes, and exposes a small
control API for status and lifecycle operations.

Examples:
  engramd serve --config=engramd.toml   # Run the daemon
  engramd status                        # Worker status from the local daemon
  engramd restart                       # Restart the worker
  engramd status --api-url=http://remote:4848/api  # Remote daemon status`,
	}

	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file (serve only)")
	root.PersistentFlags().StringVar(&clientFlags.APIUrl, "api-url", "", "daemon API URL (default http://127.0.0.1:4848/api)")
	root.PersistentFlags().StringVar(&clientFlags.APIToken, "api-token", "", "bearer token for the daemon API")
	root.PersistentFlags().DurationVar(&clientFlags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [engramd.toml]",
		Short: "Run the engramd daemon",
		Long: `Run the engramd daemon: spawn the Engram worker, supervise it, and serve
the control API. Without a config file the built-in defaults are used
(worker on port 3838, API on 127.0.0.1:4848).

Examples:
  engramd serve                         # Run with defaults
  engramd serve engramd.toml            # Run with a specific config file
  engramd serve --config=engramd.toml   # Same, via flag`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(globalFlags, args)
		},
	}

	return cmd
}

func runServe(globalFlags *GlobalFlags, args []string) error {
	configPath := globalFlags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg := engramd.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = engramd.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
	}

	log := cfg.Log.NewSlogger()
	slog.SetDefault(log)

	if err := engramd.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := engramd.ServeMetrics(cfg.Metrics.Listen); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	sup, err := engramd.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}
	go sup.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var collector *engramd.ResourceCollector
	if cfg.Resources.Enabled {
		collector = engramd.NewResourceCollector(cfg.Resources)
		if err := collector.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register resource metrics", "error", err)
		}
		if err := collector.Start(ctx, sup.PID); err != nil {
			log.Warn("failed to start resource collector", "error", err)
		}
	}

	// A failed first start is not fatal: the worker can be started later
	// through the API once the underlying problem is fixed.
	if err := sup.Start(); err != nil {
		log.Error("failed to start worker", "error", err)
	}

	server, err := engramd.NewHTTPServer(cfg.Server.Listen, sup, engramd.ServerOptions{
		BasePath:  cfg.Server.BasePath,
		APIToken:  cfg.Server.APIToken,
		Resources: collector,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	log.Info("engramd serving", "listen", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "worker_port", cfg.Worker.Port)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	if collector != nil {
		collector.Stop()
	}
	_ = server.Close()
	return sup.Shutdown()
}

// createStatusCommand creates the status subcommand
func createStatusCommand(engramdCommand command, clientFlags *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show worker status",
		Long: `Show the daemon's view of the worker merged with the worker's own
status report (memory count, uptime, version).

Examples:
  engramd status
  engramd status --api-url=http://remote:4848/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Status(*clientFlags)
		},
	}
}

// createStartCommand creates the start subcommand
func createStartCommand(engramdCommand command, clientFlags *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the worker",
		Long: `Ask the daemon to start the worker process. Starting an already
running worker is a no-op.

Example:
  engramd start`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Start(*clientFlags)
		},
	}
}

// createStopCommand creates the stop subcommand
func createStopCommand(engramdCommand command, clientFlags *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the worker",
		Long: `Ask the daemon to stop the worker process. The daemon keeps running
and the worker can be started again later.

Example:
  engramd stop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Stop(*clientFlags)
		},
	}
}

// createRestartCommand creates the restart subcommand
func createRestartCommand(engramdCommand command, clientFlags *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the worker",
		Long: `Stop the worker, wait briefly, and start it again.

Example:
  engramd restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Restart(*clientFlags)
		},
	}
}

// createHealthCommand creates the health subcommand
func createHealthCommand(engramdCommand command, clientFlags *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe worker health",
		Long: `Probe the worker's status endpoint through the daemon. Exits non-zero
when the worker does not answer.

Example:
  engramd health && echo worker is up`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Health(*clientFlags)
		},
	}
}

// createHistoryCommand creates the history subcommand
func createHistoryCommand(engramdCommand command, historyFlags *HistoryFlags, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent worker lifecycle events",
		Long: `Show the most recent worker lifecycle events (starts, crashes,
restarts) recorded by the daemon, newest last.

Examples:
  engramd history
  engramd history --limit=10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.History(HistoryFlags{
				ClientFlags: *clientFlags,
				Limit:       historyFlags.Limit,
			})
		},
	}

	cmd.Flags().IntVar(&historyFlags.Limit, "limit", 50, "maximum number of events to show")

	return cmd
}

// createExportCommand creates the export subcommand
func createExportCommand(engramdCommand command, exportFlags *ExportFlags, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memories from the worker",
		Long: `Pull every memory out of the running worker as a JSON array. Writes to
stdout unless --output is given. Fails when the worker is not running.

Examples:
  engramd export > memories.json
  engramd export --output=memories.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Export(ExportFlags{
				ClientFlags: *clientFlags,
				Output:      exportFlags.Output,
			})
		},
	}

	cmd.Flags().StringVar(&exportFlags.Output, "output", "", "write the export to a file instead of stdout")

	return cmd
}

// createResetDataCommand creates the reset-data subcommand
func createResetDataCommand(engramdCommand command, clientFlags *ClientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-data",
		Short: "Wipe the worker's memory store",
		Long: `Stop the worker, delete its memory database files, and start it again
with an empty store. This cannot be undone; export first if the data
matters.

Example:
  engramd export --output=backup.json && engramd reset-data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.ResetData(*clientFlags)
		},
	}
}

// createResourcesCommand creates the resources subcommand
func createResourcesCommand(engramdCommand command, resourcesFlags *ResourcesFlags, clientFlags *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Show worker resource usage",
		Long: `Show the latest CPU and memory sample for the worker process. Requires
resource sampling to be enabled in the daemon config.

Examples:
  engramd resources
  engramd resources --history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return engramdCommand.Resources(ResourcesFlags{
				ClientFlags: *clientFlags,
				History:     resourcesFlags.History,
			})
		},
	}

	cmd.Flags().BoolVar(&resourcesFlags.History, "history", false, "include the recent sample history")

	return cmd
}
