package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cimlabs/alchemist/internal/bus"
	"github.com/cimlabs/alchemist/internal/config"
	"github.com/cimlabs/alchemist/internal/providers"
	"github.com/cimlabs/alchemist/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent in the foreground",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	transport := &bus.RedisTransport{
		URL:      cfg.Bus.URL,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
	}
	provider := providers.NewOllama(
		cfg.Model.BaseURL,
		cfg.Model.Model,
		time.Duration(cfg.Model.TimeoutSec)*time.Second,
	)

	svc := service.New(cfg, transport, provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	fmt.Println("alchemist stopped")
	return nil
}
