package indicator

import (
	"encoding/json"

	"github.com/sells-group/healthmap/internal/model"
)

// BreakdownKind distinguishes the empty states of a breakdown from a list.
type BreakdownKind int

const (
	// BreakdownEntries carries the active, reported indicators.
	BreakdownEntries BreakdownKind = iota
	// BreakdownNoData means the borough has no record.
	BreakdownNoData
	// BreakdownNothingSelected means every filter is off.
	BreakdownNothingSelected
)

func (k BreakdownKind) String() string {
	switch k {
	case BreakdownEntries:
		return "entries"
	case BreakdownNoData:
		return "no_data"
	case BreakdownNothingSelected:
		return "nothing_selected"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind by name.
func (k BreakdownKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Entry is one labelled count in the detail panel.
type Entry struct {
	Indicator model.Indicator `json:"indicator"`
	Label     string          `json:"label"`
	Value     int             `json:"value"`
}

// Breakdown is the detail-panel content for a borough.
type Breakdown struct {
	Kind    BreakdownKind `json:"kind"`
	Entries []Entry       `json:"entries,omitempty"`
}

// FormatBreakdown lists the active indicators present in rec. Cancer expands
// into one entry per subtype in the record's own order.
//
// An empty filter set yields BreakdownNothingSelected even when rec has data;
// otherwise a nil rec yields BreakdownNoData.
func FormatBreakdown(rec *model.DiseaseRecord, filters model.FilterState) Breakdown {
	active := filters.Active()
	if len(active) == 0 {
		return Breakdown{Kind: BreakdownNothingSelected}
	}
	if rec == nil {
		return Breakdown{Kind: BreakdownNoData}
	}

	var entries []Entry
	for _, i := range active {
		if i == model.IndicatorCancer {
			for _, c := range rec.Cancer {
				entries = append(entries, Entry{Indicator: i, Label: c.Label, Value: c.Count})
			}
			continue
		}
		if v, ok := rec.Value(i); ok {
			entries = append(entries, Entry{Indicator: i, Label: i.Label(), Value: v})
		}
	}

	return Breakdown{Kind: BreakdownEntries, Entries: entries}
}
