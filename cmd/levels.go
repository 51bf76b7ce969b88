package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/healthmap/internal/choropleth"
	"github.com/sells-group/healthmap/internal/model"
)

var (
	levelsFilters string
	levelsFormat  string
)

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "Fetch every borough and print its level and color",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("levels"); err != nil {
			return err
		}

		filters, err := parseFilters(levelsFilters)
		if err != nil {
			return err
		}

		env, err := initMapEnv(cfg, prometheus.NewRegistry())
		if err != nil {
			return err
		}

		sess, err := env.Sessions.Create(cmd.Context(), choropleth.ModePrefetch)
		if err != nil {
			return eris.Wrap(err, "levels: prefetch")
		}
		sess.SetFilters(filters)

		return printLevels(cmd.OutOrStdout(), sess.Snapshot(), levelsFormat)
	},
}

// parseFilters reads a comma-separated indicator list. "all" or empty
// activates every indicator and "none" activates none.
func parseFilters(s string) (model.FilterState, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "", "all":
		return model.DefaultFilters(), nil
	case "none":
		return model.FilterState{}, nil
	}

	var f model.FilterState
	for _, part := range strings.Split(s, ",") {
		i, err := model.ParseIndicator(part)
		if err != nil {
			return f, err
		}
		f = f.With(i, true)
	}
	return f, nil
}

func printLevels(out io.Writer, snap choropleth.Snapshot, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(snap), "levels: encode json")
	case "", "table":
	default:
		return eris.Errorf("levels: unknown format %q", format)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ALCALDIA\tCODIGO\tESTADO\tNIVEL\tCOLOR")
	_, _ = fmt.Fprintln(w, "--------\t------\t------\t-----\t-----")
	for _, r := range snap.Regions {
		code := "-"
		if r.Code != 0 {
			code = fmt.Sprintf("%d", r.Code)
		}
		level := "-"
		if r.Level != nil {
			level = fmt.Sprintf("%.2f", *r.Level)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Name, code, r.Status, level, r.Color)
	}
	return w.Flush()
}

func init() {
	levelsCmd.Flags().StringVar(&levelsFilters, "filters", "all", "active indicators: all, none, or a list of tuberculosis,vih,cancer")
	levelsCmd.Flags().StringVar(&levelsFormat, "format", "table", "output format: table or json")
	rootCmd.AddCommand(levelsCmd)
}
