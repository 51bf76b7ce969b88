package geo

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
)

// ShapefileOptions configures shapefile loading.
type ShapefileOptions struct {
	// Charset of the DBF attribute table. INEGI distributes its
	// Marco Geoestadístico in windows-1252. Empty means UTF-8.
	Charset string
}

// LoadShapefile reads polygons and their NOM_MUN attribute from a shapefile.
func LoadShapefile(path string, opts ShapefileOptions) (*Collection, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	decode := func(s string) (string, error) { return s, nil }
	if opts.Charset != "" && !strings.EqualFold(opts.Charset, "utf-8") {
		enc, err := htmlindex.Get(opts.Charset)
		if err != nil {
			return nil, eris.Wrapf(err, "geo: unsupported charset %q", opts.Charset)
		}
		dec := enc.NewDecoder()
		decode = dec.String
	}

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		fieldIdx[strings.TrimRight(f.String(), "\x00")] = i
	}
	if _, ok := fieldIdx[NameProperty]; !ok {
		return nil, eris.Errorf("geo: shapefile %s has no %s field", path, NameProperty)
	}

	var features []Feature
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		g := polygonToMultiPolygon(poly)
		if g == nil {
			skipped++
			continue
		}

		props := make(map[string]any, len(fieldIdx))
		for name, idx := range fieldIdx {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
			val, err := decode(raw)
			if err != nil {
				return nil, eris.Wrapf(err, "geo: decode attribute %s", name)
			}
			props[name] = val
		}
		name, _ := props[NameProperty].(string)

		features = append(features, Feature{Name: name, Geometry: g, Properties: props})
	}

	if skipped > 0 {
		zap.L().Debug("geo: skipped shapefile records", zap.String("path", path), zap.Int("skipped", skipped))
	}
	if len(features) == 0 {
		return nil, eris.Errorf("geo: shapefile %s has no polygons", path)
	}
	return newCollection(features), nil
}

// polygonToMultiPolygon converts shapefile rings into a MultiPolygon, one
// polygon per part.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || start >= end {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			zap.L().Debug("geo: skipping malformed polygon ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("geo: skipping malformed polygon part", zap.Int32("part", i), zap.Error(err))
			continue
		}
	}

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}
