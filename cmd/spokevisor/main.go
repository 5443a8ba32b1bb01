package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and every subcommand writing to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := command{global: globalFlags, out: out}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(cmd),
		createStartCommand(cmd),
		createStopCommand(cmd),
		createRestartCommand(cmd),
		createLogsCommand(cmd),
		createStartAllCommand(cmd),
		createStopAllCommand(cmd),
		createAutoStartCommand(cmd),
	)
	return root
}

// createRootCommand creates the root command with the persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "spokevisor",
		Short: "Lifecycle supervisor for hub spoke services",
		Long: `Spokevisor starts, stops and watches the spoke services of a hub.
It launches services in dependency order, restarts crashed ones within a
restart budget and serves a management API.

Examples:
  spokevisor serve spokevisor.toml   # Start the supervisor
  spokevisor status                  # List every service
  spokevisor start api --wait=30s
  spokevisor status --api-url=http://remote:8090/api`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file; used to locate the daemon")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8090/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return root
}

// createServeCommand creates the serve subcommand
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the supervisor daemon",
		Long: `Run the supervisor daemon: adopt services that are already running,
start the auto-start set, watch health and serve the management API.
Services spawned by the daemon are stopped when it receives SIGINT or SIGTERM.

Examples:
  spokevisor serve spokevisor.toml
  spokevisor serve --config=spokevisor.toml --listen=0.0.0.0:8090`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(*serveFlags, args)
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override [server].listen")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "status [key]",
		Short: "Show service status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) > 0 {
				key = args[0]
			}
			return c.Status(cmd.Context(), key)
		},
	}
}

func createStartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "start <key>",
		Short: "Start a service",
		Long: `Start a service. Its dependencies must already be running.

Examples:
  spokevisor start indexer
  spokevisor start api --wait=30s   # block until healthy or failed`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Key = args[0]
			return c.Start(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "wait for the service to settle")
	return cmd
}

func createStopCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <key>",
		Short: "Stop a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(cmd.Context(), args[0])
		},
	}
}

func createRestartCommand(c command) *cobra.Command {
	f := &StartFlags{}
	cmd := &cobra.Command{
		Use:   "restart <key>",
		Short: "Stop and start a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Key = args[0]
			return c.Restart(cmd.Context(), *f)
		},
	}
	cmd.Flags().DurationVar(&f.Wait, "wait", 0, "wait for the service to settle")
	return cmd
}

func createLogsCommand(c command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "logs <key>",
		Short: "Print the tail of a service log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Key = args[0]
			return c.Logs(cmd.Context(), *f)
		},
	}
	cmd.Flags().IntVarP(&f.Lines, "lines", "n", 100, "number of lines")
	return cmd
}

func createStartAllCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "start-all",
		Short: "Start every service in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.StartAll(cmd.Context())
		},
	}
}

func createStopAllCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-all",
		Short: "Stop every service in reverse dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.StopAll(cmd.Context())
		},
	}
}

func createAutoStartCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "auto-start [key true|false]",
		Short: "Show or set which services start with the daemon",
		Long: `Without arguments, print the auto-start flag of every service.
With a key and a boolean, persist the flag first.

Examples:
  spokevisor auto-start
  spokevisor auto-start api true`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or <key> <true|false>")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			f := AutoStartFlags{}
			if len(args) == 2 {
				f.Key, f.Enabled = args[0], args[1]
			}
			return c.AutoStart(cmd.Context(), f)
		},
	}
}
