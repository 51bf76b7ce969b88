package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/config"
	"github.com/sells-group/healthmap/internal/monitoring"
)

var (
	cfg            *config.Config
	shutdownTraces monitoring.ShutdownFunc
)

var rootCmd = &cobra.Command{
	Use:   "healthmap",
	Short: "Mexico City borough health choropleth service",
	Long:  "Serves choropleth map data for Mexico City alcaldías, colored by tuberculosis, HIV and cancer case counts, and runs the disease-count API it reads from.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		shutdown, err := monitoring.InitTracing(cmd.Context(), cfg.Tracing, os.Stderr)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		shutdownTraces = shutdown

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		monitoring.ShutdownTracing(cmd.Context(), shutdownTraces)
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
