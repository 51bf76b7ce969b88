package datasource

import (
	"context"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// Case table columns the /api/casos filters match on.
const (
	colDisease = "enfermedad"
	colState   = "estado"
	colDate    = "fecha"
)

// Case is one row of the case table keyed by header name.
type Case map[string]string

// CaseFilter narrows a case listing. Empty fields match everything. Year
// matches the start of the fecha column.
type CaseFilter struct {
	Disease string
	State   string
	Year    string
}

// Match reports whether c passes every set field.
func (f CaseFilter) Match(c Case) bool {
	if f.Disease != "" && c[colDisease] != f.Disease {
		return false
	}
	if f.State != "" && c[colState] != f.State {
		return false
	}
	if f.Year != "" && !strings.HasPrefix(c[colDate], f.Year) {
		return false
	}
	return true
}

// FilterCases returns the cases f matches, in table order.
func FilterCases(cases []Case, f CaseFilter) []Case {
	out := make([]Case, 0, len(cases))
	for _, c := range cases {
		if f.Match(c) {
			out = append(out, c)
		}
	}
	return out
}

// LoadCases reads a case table CSV. Blank rows are skipped; short rows leave
// the trailing columns empty.
func LoadCases(ctx context.Context, path string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "datasource: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	headerCh, rowCh, errCh := streamCSV(ctx, f)
	header, ok := <-headerCh
	if !ok {
		return nil, eris.Wrapf(<-errCh, "datasource: read %s", path)
	}

	var cases []Case
	for row := range rowCh {
		if len(row) == 1 && row[0] == "" {
			continue
		}
		c := make(Case, len(header))
		for i, h := range header {
			if i < len(row) {
				c[h] = row[i]
			} else {
				c[h] = ""
			}
		}
		cases = append(cases, c)
	}
	if err := <-errCh; err != nil {
		return nil, eris.Wrapf(err, "datasource: read %s", path)
	}
	return cases, nil
}
