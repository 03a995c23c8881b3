package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "nest",
	Short:   "nest — parenting support client",
	Version: version,
	Long: `nest is the command-line client for the nest parenting-support service:
guided profile setup, family profile management, and local rendering of
guidance content.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(childrenCmd)
	rootCmd.AddCommand(contentCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devserverCmd)
	rootCmd.AddCommand(mcpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
