package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check database and cache connectivity",
	Long: `Checks the health of the pipeline's dependencies.

Example:
  go run ./cmd/valor status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	health, err := application.db.HealthCheck(context.Background())
	if err != nil {
		fmt.Printf("database: unhealthy (%s)\n", health.Error)
	} else {
		fmt.Printf("database: ok (%s)\n", health.ResponseTime)
		fmt.Printf("  total conns: %d, idle: %d\n", health.Stats.TotalConns, health.Stats.IdleConns)
	}

	if application.redis.Enabled() {
		fmt.Println("redis: enabled")
	} else {
		fmt.Println("redis: disabled")
	}

	if !health.Healthy {
		return fmt.Errorf("dependencies unhealthy")
	}
	return nil
}
