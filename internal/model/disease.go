package model

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"
)

// DiseaseRecord holds the case counts reported for one borough. A nil
// *DiseaseRecord means the data source has no data for the borough.
type DiseaseRecord struct {
	Tuberculosis *int         `json:"tuberculosis,omitempty"`
	VIH          *int         `json:"vih,omitempty"`
	Cancer       CancerCounts `json:"cancer,omitempty"`
}

// Validate rejects negative counts.
func (r *DiseaseRecord) Validate() error {
	if r == nil {
		return nil
	}
	if r.Tuberculosis != nil && *r.Tuberculosis < 0 {
		return eris.Errorf("model: negative tuberculosis count %d", *r.Tuberculosis)
	}
	if r.VIH != nil && *r.VIH < 0 {
		return eris.Errorf("model: negative vih count %d", *r.VIH)
	}
	for _, c := range r.Cancer {
		if c.Count < 0 {
			return eris.Errorf("model: negative cancer count %d for %q", c.Count, c.Label)
		}
	}
	return nil
}

// Value returns the raw count for a scalar indicator and whether it was
// reported. Cancer is reported when at least the subtype object is present.
func (r *DiseaseRecord) Value(i Indicator) (int, bool) {
	if r == nil {
		return 0, false
	}
	switch i {
	case IndicatorTuberculosis:
		if r.Tuberculosis == nil {
			return 0, false
		}
		return *r.Tuberculosis, true
	case IndicatorVIH:
		if r.VIH == nil {
			return 0, false
		}
		return *r.VIH, true
	case IndicatorCancer:
		if r.Cancer == nil {
			return 0, false
		}
		return r.Cancer.Total(), true
	}
	return 0, false
}

// CancerCount is one cancer subtype and its case count.
type CancerCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// CancerCounts keeps cancer subtypes in the order the data source sent them.
// It decodes from and encodes to a JSON object, not an array.
type CancerCounts []CancerCount

// Total sums every subtype.
func (c CancerCounts) Total() int {
	total := 0
	for _, cc := range c {
		total += cc.Count
	}
	return total
}

// UnmarshalJSON decodes a JSON object of label → count, preserving key order.
func (c *CancerCounts) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "model: decode cancer counts")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return eris.New("model: cancer counts must be a JSON object")
	}

	out := CancerCounts{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return eris.Wrap(err, "model: decode cancer label")
		}
		label, ok := keyTok.(string)
		if !ok {
			return eris.New("model: cancer label is not a string")
		}

		var n json.Number
		if err := dec.Decode(&n); err != nil {
			return eris.Wrapf(err, "model: decode cancer count for %q", label)
		}
		count, err := n.Int64()
		if err != nil {
			return eris.Wrapf(err, "model: cancer count for %q is not an integer", label)
		}
		out = append(out, CancerCount{Label: label, Count: int(count)})
	}
	if _, err := dec.Token(); err != nil {
		return eris.Wrap(err, "model: decode cancer counts")
	}

	*c = out
	return nil
}

// MarshalJSON encodes the subtypes as a JSON object in slice order.
func (c CancerCounts) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, cc := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(cc.Label)
		if err != nil {
			return nil, eris.Wrap(err, "model: encode cancer label")
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(cc.Count))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IntPtr is a convenience for building records in code and tests.
func IntPtr(n int) *int {
	return &n
}
