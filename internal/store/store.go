// Package store persists the disease records served by the data-source API.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/healthmap/internal/model"
)

// Entry is one borough's row in the data source.
type Entry struct {
	Name         string               `json:"NOM_MUN"`
	Code         int                  `json:"codigo,omitempty"`
	Enfermedades *model.DiseaseRecord `json:"enfermedades"`
}

// Store looks up disease records. Find methods return nil, nil when no entry
// matches.
type Store interface {
	// FindByName matches names after NormalizeName on both sides.
	FindByName(ctx context.Context, name string) (*Entry, error)
	FindByCode(ctx context.Context, code int) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)

	// Replace drops every entry and loads entries in their place.
	Replace(ctx context.Context, entries []Entry) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// NormalizeName strips combining marks after NFD decomposition and lowercases,
// so "Coyoacán" and "COYOACAN" compare equal.
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	out, _, err := transform.String(t, name)
	if err != nil {
		out = name
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// Config selects a backend.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	JSONPath    string `yaml:"json_path" mapstructure:"json_path"`
}

// Open constructs the store named by cfg.Driver: "json", "sqlite" or "postgres".
func Open(ctx context.Context, cfg Config, opts ...Option) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "json":
		return OpenJSON(cfg.JSONPath, opts...)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func marshalRecord(rec *model.DiseaseRecord) (*string, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal record")
	}
	s := string(data)
	return &s, nil
}

func unmarshalRecord(raw *string) (*model.DiseaseRecord, error) {
	if raw == nil {
		return nil, nil
	}
	var rec model.DiseaseRecord
	if err := json.Unmarshal([]byte(*raw), &rec); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal record")
	}
	return &rec, nil
}
