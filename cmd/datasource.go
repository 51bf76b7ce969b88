package main

import (
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/datasource"
	"github.com/sells-group/healthmap/internal/monitoring"
	"github.com/sells-group/healthmap/internal/registry"
	"github.com/sells-group/healthmap/internal/store"
)

var (
	datasourcePort int
	importPath     string
)

var datasourceCmd = &cobra.Command{
	Use:   "datasource",
	Short: "Run or load the disease-count API",
}

var datasourceServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve /api/datos, /api/bd and /api/casos from the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("datasource"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		s, err := store.Open(ctx, cfg.Datasource.Store, store.WithRegistry(registry.Default()))
		if err != nil {
			return eris.Wrap(err, "datasource: open store")
		}
		defer s.Close() //nolint:errcheck

		if err := s.Migrate(ctx); err != nil {
			return eris.Wrap(err, "datasource: migrate store")
		}

		metrics, err := monitoring.NewCollector(prometheus.DefaultRegisterer)
		if err != nil {
			return eris.Wrap(err, "datasource: init metrics")
		}

		var opts []datasource.HandlerOption
		if cfg.Datasource.CasesPath != "" {
			cases, err := datasource.LoadCases(ctx, cfg.Datasource.CasesPath)
			if err != nil {
				return eris.Wrap(err, "datasource: load cases")
			}
			opts = append(opts, datasource.WithCases(cases))
			zap.L().Info("case table loaded", zap.String("path", cfg.Datasource.CasesPath), zap.Int("cases", len(cases)))
		}

		zap.L().Info("datasource store ready", zap.String("driver", cfg.Datasource.Store.Driver))
		return startServer(ctx, datasource.NewHandler(s, opts...).Router(metrics), resolvePort(datasourcePort, cfg.Datasource.Port))
	},
}

var datasourceImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace the store contents with a JSON or CSV file",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("datasource"); err != nil {
			return err
		}
		ctx := cmd.Context()

		entries, err := datasource.ReadEntries(ctx, importPath, registry.Default())
		if err != nil {
			return eris.Wrap(err, "datasource: read import file")
		}

		s, err := store.Open(ctx, cfg.Datasource.Store)
		if err != nil {
			return eris.Wrap(err, "datasource: open store")
		}
		defer s.Close() //nolint:errcheck

		n, err := datasource.Import(ctx, s, entries)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.Int("entries", n),
			zap.String("file", importPath),
			zap.String("driver", cfg.Datasource.Store.Driver),
		)
		return nil
	},
}

func init() {
	datasourceServeCmd.Flags().IntVar(&datasourcePort, "port", 0, "server port (default from config)")
	datasourceImportCmd.Flags().StringVar(&importPath, "file", "", "path to a .json or .csv file (required)")
	_ = datasourceImportCmd.MarkFlagRequired("file")

	datasourceCmd.AddCommand(datasourceServeCmd, datasourceImportCmd)
	rootCmd.AddCommand(datasourceCmd)
}
