// Command fastbudget serves the Fast Budget web shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fastbudget/internal/cli"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "fastbudget",
	Short: "Fast Budget web shell",
	Long: `fastbudget serves the Fast Budget root view: session restore, the
dashboard sidebar with its panels and the theme toggle.

Configuration comes from the environment (see .env.example).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cli.LoadEnvFile(envFiles()...)
	},
	RunE: runServe,
}

func envFiles() []string {
	if envFile == "" {
		return nil
	}
	return []string{envFile}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment from this file (default: .env if present)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
