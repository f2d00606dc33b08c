package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "alchemist",
	Short: "alchemist — CIM expert agent over the message bus",
	Long: "alchemist is a long-running agent that answers commands, queries, and\n" +
		"dialog messages about the Composable Information Machine architecture.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.alchemist/config.json)")
}
