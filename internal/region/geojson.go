package region

import (
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// GeoJSON renders the registry as a FeatureCollection of region centroids,
// the index the map layer uses to place artifacts.
func (r *Registry) GeoJSON() ([]byte, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, r.Len())}
	for _, reg := range r.All() {
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       reg.Code,
			Geometry: reg.Centroid(),
			Properties: map[string]interface{}{
				"code":            reg.Code,
				"name":            reg.Name,
				"interconnection": string(reg.Interconnection),
			},
		})
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return nil, eris.Wrap(err, "region: encode geojson")
	}
	return data, nil
}
