// Package cmd implements the cagehost command-line surface: the gateway
// server, schema migrations, and a doctor diagnostic, grounded on the
// teacher's cmd/root.go cobra tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags, matching the teacher's
// convention; it defaults to "dev" for local builds.
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cagehost",
	Short: "A security-first execution host for autonomous language-model agents",
	Long: "cagehost spawns sandboxed agent processes, mediates their tool calls over\n" +
		"an IPC dispatcher, scans inbound/outbound content for prompt injection\n" +
		"and canary leaks, enforces a per-session taint budget, and exposes an\n" +
		"OpenAI-shaped completions gateway.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config.json5 (default: $CAGEHOST_CONFIG or ./config.json5)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(gatewayCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cagehost version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

// resolveConfigPath applies the --config flag, then CAGEHOST_CONFIG, then
// the default relative path, in that precedence order.
func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("CAGEHOST_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// Execute runs the root command; main's only job is to call this and set
// the process exit code.
func Execute() error {
	return rootCmd.Execute()
}
