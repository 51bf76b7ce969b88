// Package registry maps borough names from the boundary file to the numeric
// codes the disease API is queried with.
package registry

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/healthmap/internal/model"
)

// Sentinel codes used by the data source for rows that are not a borough.
const (
	CodeWholeCity   = 998
	CodeUnspecified = 999
)

// cdmx lists the INEGI municipal codes for Mexico City. Names must match the
// NOM_MUN property of the boundary file byte for byte.
var cdmx = []model.Borough{
	{Name: "Azcapotzalco", Code: 2},
	{Name: "Coyoacán", Code: 3},
	{Name: "Cuajimalpa de Morelos", Code: 4},
	{Name: "Gustavo A. Madero", Code: 5},
	{Name: "Iztacalco", Code: 6},
	{Name: "Iztapalapa", Code: 7},
	{Name: "La Magdalena Contreras", Code: 8},
	{Name: "Milpa Alta", Code: 9},
	{Name: "Álvaro Obregón", Code: 10},
	{Name: "Tláhuac", Code: 11},
	{Name: "Tlalpan", Code: 12},
	{Name: "Xochimilco", Code: 13},
	{Name: "Benito Juárez", Code: 14},
	{Name: "Cuauhtémoc", Code: 15},
	{Name: "Miguel Hidalgo", Code: 16},
	{Name: "Venustiano Carranza", Code: 17},
	{Name: "Ciudad de México", Code: CodeWholeCity, Sentinel: true},
	{Name: "No especificado", Code: CodeUnspecified, Sentinel: true},
}

// Registry is an immutable name/code index. It is safe for concurrent use.
type Registry struct {
	all    []model.Borough
	byName map[string]model.Borough
	byCode map[int]model.Borough
}

// New builds a registry, rejecting empty names and duplicate names or codes.
func New(boroughs []model.Borough) (*Registry, error) {
	r := &Registry{
		all:    make([]model.Borough, 0, len(boroughs)),
		byName: make(map[string]model.Borough, len(boroughs)),
		byCode: make(map[int]model.Borough, len(boroughs)),
	}
	for _, b := range boroughs {
		if b.Name == "" {
			return nil, eris.Errorf("registry: empty name for code %d", b.Code)
		}
		if _, dup := r.byName[b.Name]; dup {
			return nil, eris.Errorf("registry: duplicate name %q", b.Name)
		}
		if prev, dup := r.byCode[b.Code]; dup {
			return nil, eris.Errorf("registry: code %d assigned to %q and %q", b.Code, prev.Name, b.Name)
		}
		r.all = append(r.all, b)
		r.byName[b.Name] = b
		r.byCode[b.Code] = b
	}
	return r, nil
}

// Default returns the Mexico City registry.
func Default() *Registry {
	r, err := New(cdmx)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup resolves an exact borough name. No case folding or accent stripping
// is applied.
func (r *Registry) Lookup(name string) (model.Borough, bool) {
	b, ok := r.byName[name]
	return b, ok
}

// ByCode resolves a numeric code.
func (r *Registry) ByCode(code int) (model.Borough, bool) {
	b, ok := r.byCode[code]
	return b, ok
}

// Boroughs returns the real boroughs in registry order, without sentinels.
func (r *Registry) Boroughs() []model.Borough {
	out := make([]model.Borough, 0, len(r.all))
	for _, b := range r.all {
		if !b.Sentinel {
			out = append(out, b)
		}
	}
	return out
}

// All returns every entry, sentinels included.
func (r *Registry) All() []model.Borough {
	out := make([]model.Borough, len(r.all))
	copy(out, r.all)
	return out
}
