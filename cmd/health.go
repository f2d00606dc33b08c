package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cimlabs/alchemist/internal/bus"
	"github.com/cimlabs/alchemist/internal/config"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query a running agent's health over the bus",
	RunE:  runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "how long to wait for a reply")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	subjects := bus.NewSubjects(cfg.Bus.SubjectPrefix, cfg.Bus.DialogPrefix)
	transport := &bus.RedisTransport{
		URL:      cfg.Bus.URL,
		Password: cfg.Bus.Password,
		DB:       cfg.Bus.DB,
	}
	gateway := bus.NewGateway(transport, bus.Config{Inbox: subjects.NewInbox()})

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	go gateway.Run(ctx)
	if err := waitConnected(ctx, gateway); err != nil {
		return fmt.Errorf("connecting to bus: %w", err)
	}

	env := bus.NewQuery("health", "alchemist-cli", nil)
	resp, err := gateway.Request(ctx, subjects.Health(), env, healthTimeout)
	if err != nil {
		return fmt.Errorf("health query: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("agent returned error: %s", resp.Error.Message)
	}

	out, err := json.MarshalIndent(resp.Result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func waitConnected(ctx context.Context, g *bus.Gateway) error {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if g.State() == bus.StateConnected {
				return nil
			}
		}
	}
}
