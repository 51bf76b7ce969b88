package datasource

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/registry"
	"github.com/sells-group/healthmap/internal/store"
)

// CSV column names. Any column prefixed with cancerPrefix is one cancer
// subtype, labelled by the rest of the column name.
const (
	colName         = "NOM_MUN"
	colCode         = "codigo"
	colTuberculosis = "tuberculosis"
	colVIH          = "vih"
	cancerPrefix    = "cancer_"
)

// ReadEntries loads entries from a .json array or a .csv table. Missing codes
// are filled from reg when it is non-nil.
func ReadEntries(ctx context.Context, path string, reg *registry.Registry) ([]store.Entry, error) {
	var opts []store.Option
	if reg != nil {
		opts = append(opts, store.WithRegistry(reg))
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		s, err := store.OpenJSON(path, opts...)
		if err != nil {
			return nil, err
		}
		return s.List(ctx)
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "datasource: open %s", path)
		}
		defer f.Close() //nolint:errcheck

		entries, err := readCSV(ctx, f)
		if err != nil {
			return nil, eris.Wrapf(err, "datasource: read %s", path)
		}
		// Round-trip through the JSON store so codes are backfilled the same way.
		s, err := store.NewJSON([]byte("[]"), opts...)
		if err != nil {
			return nil, err
		}
		if _, err := s.Replace(ctx, entries); err != nil {
			return nil, err
		}
		return s.List(ctx)
	default:
		return nil, eris.Errorf("datasource: unsupported import format %q", filepath.Ext(path))
	}
}

func readCSV(ctx context.Context, f *os.File) ([]store.Entry, error) {
	headerCh, rowCh, errCh := streamCSV(ctx, f)

	header, ok := <-headerCh
	if !ok {
		return nil, <-errCh
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	nameIdx, ok := idx[colName]
	if !ok {
		// Drain so the reader goroutine exits.
		for range rowCh {
		}
		return nil, eris.Errorf("datasource: csv has no %s column", colName)
	}

	var entries []store.Entry
	line := 1
	for row := range rowCh {
		line++
		if nameIdx >= len(row) || row[nameIdx] == "" {
			continue
		}
		e, err := entryFromRow(header, idx, row)
		if err != nil {
			for range rowCh {
			}
			return nil, eris.Wrapf(err, "datasource: line %d", line)
		}
		entries = append(entries, e)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return entries, nil
}

func entryFromRow(header []string, idx map[string]int, row []string) (store.Entry, error) {
	cell := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	e := store.Entry{Name: cell(colName), Enfermedades: &model.DiseaseRecord{}}

	// A non-numeric code is kept as unknown rather than rejected.
	if code, err := strconv.Atoi(cell(colCode)); err == nil {
		e.Code = code
	}

	var err error
	if e.Enfermedades.Tuberculosis, err = parseCount(cell(colTuberculosis)); err != nil {
		return e, eris.Wrap(err, colTuberculosis)
	}
	if e.Enfermedades.VIH, err = parseCount(cell(colVIH)); err != nil {
		return e, eris.Wrap(err, colVIH)
	}

	for i, h := range header {
		label, ok := strings.CutPrefix(h, cancerPrefix)
		if !ok || label == "" || i >= len(row) || row[i] == "" {
			continue
		}
		n, err := parseCount(row[i])
		if err != nil {
			return e, eris.Wrap(err, h)
		}
		e.Enfermedades.Cancer = append(e.Enfermedades.Cancer, model.CancerCount{Label: label, Count: *n})
	}

	return e, e.Enfermedades.Validate()
}

// parseCount returns nil for an empty cell.
func parseCount(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid count %q", s)
	}
	return &n, nil
}

// Import migrates s and replaces its contents with entries.
func Import(ctx context.Context, s store.Store, entries []store.Entry) (int, error) {
	if err := s.Migrate(ctx); err != nil {
		return 0, err
	}
	n, err := s.Replace(ctx, entries)
	if err != nil {
		return 0, eris.Wrap(err, "datasource: import")
	}
	zap.L().Info("datasource: imported entries", zap.Int("count", n))
	return n, nil
}
