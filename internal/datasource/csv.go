package datasource

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// streamCSV reads r and sends each row after the header on the row channel.
// The header is returned on headerCh before any row. Both output channels
// close when reading stops; at most one error is sent.
func streamCSV(ctx context.Context, r io.Reader) (<-chan []string, <-chan []string, <-chan error) {
	headerCh := make(chan []string, 1)
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)
		defer close(headerCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.TrimLeadingSpace = true

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				if first {
					errCh <- eris.New("csv: missing header row")
				}
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			for i, field := range record {
				record[i] = strings.TrimSpace(field)
			}

			if first {
				first = false
				record[0] = strings.TrimPrefix(record[0], "\ufeff")
				headerCh <- record
				continue
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return headerCh, rowCh, errCh
}
