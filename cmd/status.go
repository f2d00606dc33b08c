package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cimlabs/alchemist/internal/config"
	"github.com/cimlabs/alchemist/internal/providers"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local configuration and model connectivity",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("⚗️ alchemist Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", path)
	fmt.Printf("Agent: %s (v%s)\n", cfg.Identity.AgentID, cfg.Identity.Version)
	fmt.Printf("Bus: %s (prefix %s)\n", cfg.Bus.URL, cfg.Bus.SubjectPrefix)
	fmt.Printf("Model: %s at %s\n", cfg.Model.Model, cfg.Model.BaseURL)

	provider := providers.NewOllama(cfg.Model.BaseURL, cfg.Model.Model, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.HealthCheck(ctx); err != nil {
		fmt.Printf("Model provider: ✗ (%v)\n", err)
	} else {
		fmt.Println("Model provider: ✓")
	}

	return nil
}
