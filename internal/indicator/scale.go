package indicator

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Bucket colors every level strictly greater than Threshold.
type Bucket struct {
	Threshold float64 `yaml:"threshold" json:"threshold"`
	Color     string  `yaml:"color" json:"color"`
}

// Scale is an ordered threshold color scale. Buckets are evaluated in order
// and must have strictly descending thresholds; the first bucket whose
// threshold the level exceeds wins. Levels that match no bucket get Floor,
// and a nil level gets NoData.
type Scale struct {
	Buckets []Bucket `yaml:"buckets" json:"buckets"`
	Floor   string   `yaml:"floor" json:"floor"`
	NoData  string   `yaml:"no_data" json:"no_data"`
}

// DefaultScale returns the five-bucket red scale used by the map.
func DefaultScale() Scale {
	return Scale{
		Buckets: []Bucket{
			{Threshold: 70, Color: "#800026"},
			{Threshold: 50, Color: "#BD0026"},
			{Threshold: 30, Color: "#E31A1C"},
			{Threshold: 10, Color: "#FC4E2A"},
		},
		Floor:  "#FFEDA0",
		NoData: "#CCCCCC",
	}
}

// Validate checks bucket ordering and that every color is set.
func (s Scale) Validate() error {
	if len(s.Buckets) == 0 {
		return eris.New("indicator: scale has no buckets")
	}
	for i, b := range s.Buckets {
		if b.Color == "" {
			return eris.Errorf("indicator: bucket %d has no color", i)
		}
		if i > 0 && b.Threshold >= s.Buckets[i-1].Threshold {
			return eris.Errorf("indicator: bucket %d threshold %v is not below %v",
				i, b.Threshold, s.Buckets[i-1].Threshold)
		}
	}
	if s.Floor == "" {
		return eris.New("indicator: scale has no floor color")
	}
	if s.NoData == "" {
		return eris.New("indicator: scale has no no-data color")
	}
	return nil
}

// bucketIndex returns the index of the matching bucket, len(Buckets) for the
// floor, and -1 for a nil level.
func (s Scale) bucketIndex(level *float64) int {
	if level == nil {
		return -1
	}
	for i, b := range s.Buckets {
		if *level > b.Threshold {
			return i
		}
	}
	return len(s.Buckets)
}

// ColorFor maps a level to its fill color.
func (s Scale) ColorFor(level *float64) string {
	idx := s.bucketIndex(level)
	switch {
	case idx < 0:
		return s.NoData
	case idx == len(s.Buckets):
		return s.Floor
	default:
		return s.Buckets[idx].Color
	}
}

// LoadScale reads a scale from a YAML file with a top-level "scale" key.
func LoadScale(path string) (Scale, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scale{}, eris.Wrapf(err, "indicator: read scale %s", path)
	}

	var wrapper struct {
		Scale Scale `yaml:"scale"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Scale{}, eris.Wrap(err, "indicator: parse scale")
	}

	if err := wrapper.Scale.Validate(); err != nil {
		return Scale{}, err
	}
	return wrapper.Scale, nil
}
