// Package commands implements the songserver CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "songserver",
	Short: "Session-oriented song streaming server",
	Long: `songserver accepts newline-framed control connections, authenticates
users and streams songs over per-session data ports.

Use "songserver [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML); SONGSTREAM_* variables override it")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
