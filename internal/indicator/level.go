// Package indicator turns a borough's disease counts and the active filters
// into a map level, a fill color and a detail breakdown.
package indicator

import (
	"github.com/sells-group/healthmap/internal/model"
)

// ComputeLevel returns the mean contribution of the active indicators, or nil
// when no indicator is active.
//
// Cancer contributes the sum of its subtypes. A missing indicator, or a nil
// record, contributes 0 but still counts toward the denominator, so an absent
// record with active filters yields 0. Callers that need to show "no data"
// must check the record itself.
func ComputeLevel(rec *model.DiseaseRecord, filters model.FilterState) *float64 {
	active := filters.Active()
	if len(active) == 0 {
		return nil
	}

	sum := 0
	for _, i := range active {
		v, _ := rec.Value(i)
		sum += v
	}

	level := float64(sum) / float64(len(active))
	return &level
}
