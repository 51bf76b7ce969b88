package choropleth

import (
	"encoding/json"

	"github.com/sells-group/healthmap/internal/boroughcache"
	"github.com/sells-group/healthmap/internal/indicator"
	"github.com/sells-group/healthmap/internal/model"
)

// Status is what a map region currently shows.
type Status int

const (
	// StatusCodeNotFound means the feature name is not in the registry. Such
	// regions are never fetched.
	StatusCodeNotFound Status = iota
	// StatusIdle means the borough has not been requested yet.
	StatusIdle
	// StatusLoading means a fetch is in flight.
	StatusLoading
	// StatusReady means a record was returned.
	StatusReady
	// StatusNoData means the fetch completed with no record.
	StatusNoData
	// StatusFailed means the fetch errored. No retry happens in this session.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusCodeNotFound:
		return "code_not_found"
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusNoData:
		return "no_data"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Region is the computed fill of one map feature.
type Region struct {
	Name   string   `json:"nombre"`
	Code   int      `json:"codigo,omitempty"`
	Status Status   `json:"estado"`
	Level  *float64 `json:"nivel"`
	Color  string   `json:"color"`
}

// statusOf maps a cache entry to a region status.
func statusOf(e boroughcache.Entry) Status {
	switch e.State {
	case boroughcache.Pending:
		return StatusLoading
	case boroughcache.Ready:
		if e.Record == nil {
			return StatusNoData
		}
		return StatusReady
	case boroughcache.Failed:
		return StatusFailed
	default:
		return StatusIdle
	}
}

// buildRegion colors a resolved borough. Unresolved regions keep a nil
// level and the no-data color; a failed fetch counts as an absent record.
func buildRegion(b model.Borough, e boroughcache.Entry, filters model.FilterState, scale indicator.Scale) Region {
	r := Region{Name: b.Name, Code: b.Code, Status: statusOf(e)}
	switch r.Status {
	case StatusReady, StatusNoData, StatusFailed:
		r.Level = indicator.ComputeLevel(e.Record, filters)
	}
	r.Color = scale.ColorFor(r.Level)
	return r
}

func notFoundRegion(name string, scale indicator.Scale) Region {
	return Region{Name: name, Status: StatusCodeNotFound, Color: scale.NoData}
}
