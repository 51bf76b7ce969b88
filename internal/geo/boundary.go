// Package geo loads borough boundary geometry and encodes enriched GeoJSON.
package geo

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// NameProperty is the feature property joined against the borough registry.
const NameProperty = "NOM_MUN"

// Feature is one boundary polygon and its source properties.
type Feature struct {
	Name       string
	Geometry   geom.T
	Properties map[string]any
}

// Collection is a loaded boundary file.
type Collection struct {
	Features []Feature
	bounds   *geom.Bounds
}

// newCollection computes the bounds of every feature geometry.
func newCollection(features []Feature) *Collection {
	bounds := geom.NewBounds(geom.XY)
	for _, f := range features {
		if f.Geometry != nil {
			bounds.Extend(f.Geometry)
		}
	}
	return &Collection{Features: features, bounds: bounds}
}

// Center returns the bounds midpoint as latitude, longitude. ok is false for
// an empty collection.
func (c *Collection) Center() (lat, lon float64, ok bool) {
	if c.bounds == nil || c.bounds.IsEmpty() {
		return 0, 0, false
	}
	lon = (c.bounds.Min(0) + c.bounds.Max(0)) / 2
	lat = (c.bounds.Min(1) + c.bounds.Max(1)) / 2
	return lat, lon, true
}

// Names returns every feature name in file order.
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.Features))
	for _, f := range c.Features {
		names = append(names, f.Name)
	}
	return names
}

// Load reads a boundary file, choosing the decoder from the extension:
// .shp for shapefiles, anything else as GeoJSON.
func Load(path string, opts ShapefileOptions) (*Collection, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return LoadShapefile(path, opts)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return DecodeGeoJSON(f)
}

// DecodeGeoJSON reads a FeatureCollection. Features without a string
// NOM_MUN property are kept with an empty name so callers can report them.
func DecodeGeoJSON(r io.Reader) (*Collection, error) {
	var fc geojson.FeatureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, eris.Wrap(err, "geo: decode geojson")
	}
	if len(fc.Features) == 0 {
		return nil, eris.New("geo: feature collection is empty")
	}

	features := make([]Feature, 0, len(fc.Features))
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		name, _ := f.Properties[NameProperty].(string)
		if name == "" {
			zap.L().Warn("geo: feature has no name property",
				zap.Int("index", i),
				zap.String("property", NameProperty),
			)
		}
		features = append(features, Feature{
			Name:       name,
			Geometry:   f.Geometry,
			Properties: f.Properties,
		})
	}

	return newCollection(features), nil
}

// EncodeGeoJSON writes features as a FeatureCollection. extra is merged over
// each feature's source properties, keyed by feature index.
func EncodeGeoJSON(w io.Writer, c *Collection, extra func(i int, f Feature) map[string]any) error {
	fc := geojson.FeatureCollection{
		Features: make([]*geojson.Feature, 0, len(c.Features)),
	}
	for i, f := range c.Features {
		props := make(map[string]any, len(f.Properties)+4)
		for k, v := range f.Properties {
			props[k] = v
		}
		if extra != nil {
			for k, v := range extra(i, f) {
				props[k] = v
			}
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   f.Geometry,
			Properties: props,
		})
	}

	if err := json.NewEncoder(w).Encode(&fc); err != nil {
		return eris.Wrap(err, "geo: encode geojson")
	}
	return nil
}
