package region

import (
	"math"
	"sort"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"
)

// DefaultCodeField is the attribute holding the balancing authority code in
// the HIFLD control areas shapefile.
const DefaultCodeField = "ID"

// Boundary is the service territory of one region read from a shapefile.
type Boundary struct {
	Code  string
	Shape *geom.MultiPolygon
}

// Centroid returns the area-weighted centroid as (lng, lat).
func (b Boundary) Centroid() geom.Coord {
	return xy.MultiPolygonCentroid(b.Shape)
}

// LoadBoundaries reads polygon records from a shapefile and keys them by the
// codeField attribute. Records for codes not in r, or with no usable rings,
// are skipped. Several records with one code are merged.
func (r *Registry) LoadBoundaries(shpPath, codeField string) ([]Boundary, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	idx := fieldIndex(reader, codeField)
	if idx < 0 {
		return nil, eris.Errorf("region: shapefile %s has no %q field", shpPath, codeField)
	}

	byCode := map[string]*geom.MultiPolygon{}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		code := strings.ToUpper(strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00")))
		if !r.Has(code) {
			skipped++
			continue
		}
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := byCode[code]
		if mp == nil {
			mp = geom.NewMultiPolygon(geom.XY).SetSRID(4326)
			byCode[code] = mp
		}
		if n := appendRings(mp, poly); n == 0 {
			skipped++
		}
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "region: read shapefile %s", shpPath)
	}
	if skipped > 0 {
		zap.L().Debug("region: skipped shapefile records",
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	codes := make([]string, 0, len(byCode))
	for code, mp := range byCode {
		if mp.NumPolygons() > 0 {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	out := make([]Boundary, 0, len(codes))
	for _, code := range codes {
		out = append(out, Boundary{Code: code, Shape: byCode[code]})
	}
	return out, nil
}

// appendRings pushes each part of p onto mp as its own polygon and returns
// how many were accepted.
func appendRings(mp *geom.MultiPolygon, p *shp.Polygon) int {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return 0
	}
	var added int
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if end-start < 4 {
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
			continue
		}
		if err := mp.Push(poly); err != nil {
			continue
		}
		added++
	}
	return added
}

func fieldIndex(reader *shp.Reader, name string) int {
	for i, f := range reader.Fields() {
		if strings.EqualFold(strings.TrimRight(f.String(), "\x00"), name) {
			return i
		}
	}
	return -1
}

// Drift compares a region's table centroid with its boundary centroid.
type Drift struct {
	Code     string
	Table    geom.Coord // lng, lat
	Boundary geom.Coord // lng, lat
	KM       float64
}

// Drift reports how far each boundary centroid lies from the registry's
// centroid for the same region, ordered by code.
func (r *Registry) Drift(boundaries []Boundary) []Drift {
	out := make([]Drift, 0, len(boundaries))
	for _, b := range boundaries {
		reg, err := r.Get(b.Code)
		if err != nil {
			continue
		}
		c := b.Centroid()
		out = append(out, Drift{
			Code:     reg.Code,
			Table:    geom.Coord{reg.Lng, reg.Lat},
			Boundary: c,
			KM:       haversineKM(reg.Lat, reg.Lng, c[1], c[0]),
		})
	}
	return out
}

const earthRadiusKM = 6371.0

func haversineKM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLng := (lng2 - lng1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}
