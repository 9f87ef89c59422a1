// Package region holds the fixed table of balancing authorities the pipeline
// tracks. The table is embedded at build time and never changes at runtime.
package region

import (
	_ "embed"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"gopkg.in/yaml.v3"
)

//go:embed regions.yaml
var embeddedTable []byte

// ErrUnknownRegion is returned for codes that are not in the registry.
var ErrUnknownRegion = errors.New("region: unknown region")

// Interconnection is the North American grid a region belongs to.
type Interconnection string

// Interconnection values.
const (
	Eastern Interconnection = "eastern"
	Western Interconnection = "western"
	ERCOT   Interconnection = "ercot"
)

// Region is one balancing authority.
type Region struct {
	Code            string          `yaml:"code" json:"code"`
	Name            string          `yaml:"name" json:"name"`
	Lat             float64         `yaml:"lat" json:"lat"`
	Lng             float64         `yaml:"lng" json:"lng"`
	Interconnection Interconnection `yaml:"interconnection" json:"interconnection"`
}

// Centroid returns the region's representative point (SRID 4326).
func (r Region) Centroid() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{r.Lng, r.Lat}).SetSRID(4326)
}

// Registry is an immutable, code-indexed set of regions.
type Registry struct {
	regions map[string]Region
	order   []string // sorted by code for deterministic iteration
}

type table struct {
	Regions []Region `yaml:"regions"`
}

// Parse builds a registry from a YAML region table.
func Parse(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, eris.Wrap(err, "region: parse table")
	}
	if len(t.Regions) == 0 {
		return nil, eris.New("region: table is empty")
	}

	r := &Registry{regions: make(map[string]Region, len(t.Regions))}
	for _, reg := range t.Regions {
		if err := validate(reg); err != nil {
			return nil, err
		}
		if _, dup := r.regions[reg.Code]; dup {
			return nil, eris.Errorf("region: duplicate code %q", reg.Code)
		}
		r.regions[reg.Code] = reg
		r.order = append(r.order, reg.Code)
	}
	sort.Strings(r.order)
	return r, nil
}

func validate(reg Region) error {
	if reg.Code == "" || reg.Code != strings.ToUpper(reg.Code) {
		return eris.Errorf("region: invalid code %q", reg.Code)
	}
	if reg.Name == "" {
		return eris.Errorf("region: %s has no name", reg.Code)
	}
	if reg.Lat < -90 || reg.Lat > 90 || reg.Lng < -180 || reg.Lng > 180 {
		return eris.Errorf("region: %s has out-of-range coordinates (%v, %v)", reg.Code, reg.Lat, reg.Lng)
	}
	switch reg.Interconnection {
	case Eastern, Western, ERCOT:
	default:
		return eris.Errorf("region: %s has unknown interconnection %q", reg.Code, reg.Interconnection)
	}
	return nil
}

var loadDefault = sync.OnceValues(func() (*Registry, error) {
	return Parse(embeddedTable)
})

// Default returns the registry built from the embedded table. It is loaded
// once and shared.
func Default() *Registry {
	r, err := loadDefault()
	if err != nil {
		// The table is compiled in; a parse failure is a build defect.
		panic(err)
	}
	return r
}

// Get returns the region with the given code.
func (r *Registry) Get(code string) (Region, error) {
	reg, ok := r.regions[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return Region{}, eris.Wrapf(ErrUnknownRegion, "code %q", code)
	}
	return reg, nil
}

// Has reports whether code is a known region.
func (r *Registry) Has(code string) bool {
	_, err := r.Get(code)
	return err == nil
}

// Len returns the number of regions.
func (r *Registry) Len() int { return len(r.order) }

// All returns every region ordered by code.
func (r *Registry) All() []Region {
	out := make([]Region, 0, len(r.order))
	for _, code := range r.order {
		out = append(out, r.regions[code])
	}
	return out
}

// Codes returns every region code in sorted order.
func (r *Registry) Codes() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Select returns the named regions, or all regions when codes is empty.
// Duplicates are collapsed and the result keeps the caller's order.
func (r *Registry) Select(codes []string) ([]Region, error) {
	if len(codes) == 0 {
		return r.All(), nil
	}
	seen := make(map[string]bool, len(codes))
	out := make([]Region, 0, len(codes))
	for _, code := range codes {
		reg, err := r.Get(code)
		if err != nil {
			return nil, err
		}
		if seen[reg.Code] {
			continue
		}
		seen[reg.Code] = true
		out = append(out, reg)
	}
	return out, nil
}

// ByInterconnection returns the regions on one grid, ordered by code.
func (r *Registry) ByInterconnection(ic Interconnection) []Region {
	var out []Region
	for _, code := range r.order {
		if reg := r.regions[code]; reg.Interconnection == ic {
			out = append(out, reg)
		}
	}
	return out
}
