package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cimlabs/alchemist/internal/config"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize alchemist configuration",
	RunE:  runOnboard,
}

func init() {
	rootCmd.AddCommand(onboardCmd)
}

func runOnboard(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists at %s\n", path)
		return nil
	}

	if err := config.Save(config.DefaultConfig(), path); err != nil {
		return fmt.Errorf("creating config: %w", err)
	}
	fmt.Printf("✓ Created config at %s\n", path)
	fmt.Println("Edit it to point at your Redis bus and Ollama server, then run: alchemist serve")
	return nil
}
