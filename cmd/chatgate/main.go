// ABOUTME: Entry point for the chatgate realtime chat gateway
// ABOUTME: Cobra root command, config path resolution and subcommand registration

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var version = "dev"

const banner = `
       _           _              _
   ___| |__   __ _| |_ __ _  __ _| |_ ___
  / __| '_ \ / _' | __/ _' |/ _' | __/ _ \
 | (__| | | | (_| | || (_| | (_| | ||  __/
  \___|_| |_|\__,_|\__\__, |\__,_|\__\___|
                      |___/
`

var configFlag string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatgate",
		Short:         "Realtime browser chat gateway in front of an LLM backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFlag, "config", "", "path to gateway config (yaml or toml)")
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the gateway server",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), getConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check gateway health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runHealth(cmd.Context(), cmd.OutOrStdout(), getConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "skills",
			Short: "List skills advertised by a running gateway",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runSkills(cmd.Context(), cmd.OutOrStdout(), getConfigPath(configFlag))
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

// getConfigPath returns the path to the gateway config file.
// Priority: --config flag > CHATGATE_CONFIG env var > XDG_CONFIG_HOME/chatgate/gateway.yaml > ~/.config/chatgate/gateway.yaml
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if envPath := os.Getenv("CHATGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "chatgate", "gateway.yaml")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
