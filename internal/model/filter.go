package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Indicator names one disease series that can drive the map color.
type Indicator string

const (
	IndicatorTuberculosis Indicator = "tuberculosis"
	IndicatorVIH          Indicator = "vih"
	IndicatorCancer       Indicator = "cancer"
)

// Indicators lists every indicator in display order.
var Indicators = []Indicator{IndicatorTuberculosis, IndicatorVIH, IndicatorCancer}

// ErrUnknownIndicator is returned by ParseIndicator for names outside Indicators.
var ErrUnknownIndicator = eris.New("model: unknown indicator")

// ParseIndicator maps a filter key to an Indicator. Matching ignores case.
func ParseIndicator(s string) (Indicator, error) {
	switch Indicator(strings.ToLower(strings.TrimSpace(s))) {
	case IndicatorTuberculosis:
		return IndicatorTuberculosis, nil
	case IndicatorVIH:
		return IndicatorVIH, nil
	case IndicatorCancer:
		return IndicatorCancer, nil
	}
	return "", eris.Wrapf(ErrUnknownIndicator, "%q", s)
}

// Label is the human-readable name shown in the detail panel.
func (i Indicator) Label() string {
	switch i {
	case IndicatorTuberculosis:
		return "Tuberculosis"
	case IndicatorVIH:
		return "VIH"
	case IndicatorCancer:
		return "Cáncer"
	default:
		return string(i)
	}
}

// FilterState records which indicators are active. The zero value has every
// indicator off; use DefaultFilters for the initial view.
type FilterState struct {
	Tuberculosis bool `json:"tuberculosis"`
	VIH          bool `json:"vih"`
	Cancer       bool `json:"cancer"`
}

// DefaultFilters returns the initial state with every indicator active.
func DefaultFilters() FilterState {
	return FilterState{Tuberculosis: true, VIH: true, Cancer: true}
}

// IsActive reports whether the indicator contributes to level and breakdown.
func (f FilterState) IsActive(i Indicator) bool {
	switch i {
	case IndicatorTuberculosis:
		return f.Tuberculosis
	case IndicatorVIH:
		return f.VIH
	case IndicatorCancer:
		return f.Cancer
	default:
		return false
	}
}

// Active returns the active indicators in display order.
func (f FilterState) Active() []Indicator {
	active := make([]Indicator, 0, len(Indicators))
	for _, i := range Indicators {
		if f.IsActive(i) {
			active = append(active, i)
		}
	}
	return active
}

// With returns a copy of f with the indicator set to on.
func (f FilterState) With(i Indicator, on bool) FilterState {
	switch i {
	case IndicatorTuberculosis:
		f.Tuberculosis = on
	case IndicatorVIH:
		f.VIH = on
	case IndicatorCancer:
		f.Cancer = on
	}
	return f
}

// Toggle returns a copy of f with the indicator flipped.
func (f FilterState) Toggle(i Indicator) FilterState {
	return f.With(i, !f.IsActive(i))
}
