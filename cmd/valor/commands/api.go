package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekwalla/valor/internal/api"
	"github.com/ekwalla/valor/internal/api/handlers"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the REST API server.

Endpoints:
  GET    /health                      - Health check
  GET    /api/runs                    - List valuation runs
  POST   /api/runs                    - Create a run
  GET    /api/runs/{id}               - Run detail with execution log
  POST   /api/runs/{id}/execute       - Execute a pending run
  GET    /api/runs/{id}/results       - Per-position results
  GET    /api/runs/{id}/exposures     - Exposure breakdowns / concentrations
  POST   /api/runs/{id}/official      - Mark run official
  DELETE /api/runs/{id}/official      - Unmark run official
  GET    /api/canonical/{type}/{key}  - Canonical record lookup
  POST   /api/canonical/{type}        - Trigger canonicalization

Example:
  go run ./cmd/valor api
  go run ./cmd/valor api --port 8086`,
	RunE: runAPIServer,
}

var apiPort string

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port (overrides PORT)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	application, err := buildApp()
	if err != nil {
		return err
	}
	defer application.close()

	if apiPort != "" {
		application.cfg.Port = apiPort
	}

	log := application.log

	runHandler := handlers.NewRunHandler(application.manager, application.runRepo, application.exposureRepo, log)
	canonicalHandler := handlers.NewCanonicalHandler(application.engine, application.canonicalRepo, log)

	router := api.NewRouter(runHandler, canonicalHandler, log)
	server := api.New(application.cfg, log, router)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("Server running on http://localhost:%s\n", application.cfg.Port)
	fmt.Println("Press Ctrl+C to stop")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
