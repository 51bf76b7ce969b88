package choropleth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/healthmap/internal/boroughcache"
	"github.com/sells-group/healthmap/internal/indicator"
	"github.com/sells-group/healthmap/internal/model"
)

// PanelKind enumerates every state the detail panel can be in.
type PanelKind int

const (
	PanelCodeNotFound PanelKind = iota
	PanelLoading
	PanelNoData
	PanelNothingSelected
	PanelBreakdown
	PanelError
)

func (k PanelKind) String() string {
	switch k {
	case PanelCodeNotFound:
		return "code_not_found"
	case PanelLoading:
		return "loading"
	case PanelNoData:
		return "no_data"
	case PanelNothingSelected:
		return "nothing_selected"
	case PanelBreakdown:
		return "breakdown"
	case PanelError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the kind by name.
func (k PanelKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Panel is the hover/click detail for one borough. Entries is set only for
// PanelBreakdown and Err only for PanelError.
type Panel struct {
	Kind    PanelKind         `json:"tipo"`
	Borough string            `json:"alcaldia"`
	Entries []indicator.Entry `json:"entradas,omitempty"`
	Err     string            `json:"error,omitempty"`
}

// Message renders the panel text. An unknown kind renders just the borough name.
func (p Panel) Message() string {
	switch p.Kind {
	case PanelCodeNotFound:
		return fmt.Sprintf("Código no encontrado para %s", p.Borough)
	case PanelLoading:
		return "Cargando..."
	case PanelNoData:
		return "Sin datos para esa alcaldía"
	case PanelNothingSelected:
		return "Selecciona al menos un indicador"
	case PanelBreakdown:
		lines := make([]string, 0, len(p.Entries)+1)
		lines = append(lines, p.Borough)
		for _, e := range p.Entries {
			lines = append(lines, fmt.Sprintf("%s: %d", e.Label, e.Value))
		}
		return strings.Join(lines, "\n")
	case PanelError:
		return fmt.Sprintf("Error al cargar datos de %s", p.Borough)
	}
	return p.Borough
}

// MarshalJSON adds the rendered message.
func (p Panel) MarshalJSON() ([]byte, error) {
	type plain Panel
	return json.Marshal(struct {
		plain
		Mensaje string `json:"mensaje"`
	}{plain(p), p.Message()})
}

// buildPanel derives the panel for a borough's cache entry.
func buildPanel(b model.Borough, e boroughcache.Entry, filters model.FilterState) Panel {
	p := Panel{Borough: b.Name}
	switch e.State {
	case boroughcache.NotRequested, boroughcache.Pending:
		p.Kind = PanelLoading
	case boroughcache.Failed:
		p.Kind = PanelError
		if e.Err != nil {
			p.Err = e.Err.Error()
		}
	case boroughcache.Ready:
		bd := indicator.FormatBreakdown(e.Record, filters)
		switch bd.Kind {
		case indicator.BreakdownNothingSelected:
			p.Kind = PanelNothingSelected
		case indicator.BreakdownNoData:
			p.Kind = PanelNoData
		case indicator.BreakdownEntries:
			p.Kind = PanelBreakdown
			p.Entries = bd.Entries
		}
	}
	return p
}
