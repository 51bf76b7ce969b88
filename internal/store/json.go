package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/healthmap/internal/model"
	"github.com/sells-group/healthmap/internal/registry"
)

// Option configures the JSON store.
type Option func(*JSONStore)

// WithRegistry fills missing codes by matching normalized names against reg.
func WithRegistry(reg *registry.Registry) Option {
	return func(s *JSONStore) {
		s.reg = reg
	}
}

// JSONStore serves entries from a JSON array held in memory. Replace writes
// the file back when the store was opened from a path.
type JSONStore struct {
	path string
	reg  *registry.Registry

	mu      sync.RWMutex
	entries []Entry
}

// rawEntry keeps enfermedades raw so a missing key can be told apart from
// null. codigo stays raw because exports sometimes carry it as text.
type rawEntry struct {
	Name         string          `json:"NOM_MUN"`
	Code         json.RawMessage `json:"codigo"`
	Enfermedades json.RawMessage `json:"enfermedades"`
}

// parseCode accepts a JSON integer or a string holding one. Anything else
// is reported as 0 so the registry can fill it in.
func parseCode(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	return 0
}

// OpenJSON loads the file at path.
func OpenJSON(path string, opts ...Option) (*JSONStore, error) {
	if path == "" {
		return nil, eris.New("store: json path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read %s", path)
	}
	s, err := NewJSON(data, opts...)
	if err != nil {
		return nil, err
	}
	s.path = path
	return s, nil
}

// NewJSON parses data as a JSON array of entries. An entry without an
// enfermedades key gets an empty record; an explicit null means no data.
func NewJSON(data []byte, opts ...Option) (*JSONStore, error) {
	s := &JSONStore{}
	for _, opt := range opts {
		opt(s)
	}

	var raws []rawEntry
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, eris.Wrap(err, "store: parse json entries")
	}

	entries := make([]Entry, 0, len(raws))
	for _, r := range raws {
		e := Entry{Name: r.Name, Code: parseCode(r.Code)}
		switch {
		case len(r.Enfermedades) == 0:
			e.Enfermedades = &model.DiseaseRecord{}
		case bytes.Equal(bytes.TrimSpace(r.Enfermedades), []byte("null")):
			e.Enfermedades = nil
		default:
			var rec model.DiseaseRecord
			if err := json.Unmarshal(r.Enfermedades, &rec); err != nil {
				return nil, eris.Wrapf(err, "store: parse enfermedades for %q", r.Name)
			}
			e.Enfermedades = &rec
		}
		entries = append(entries, e)
	}

	s.entries = s.withCodes(entries)
	return s, nil
}

func (s *JSONStore) withCodes(entries []Entry) []Entry {
	if s.reg == nil {
		return entries
	}
	byNorm := make(map[string]int)
	for _, b := range s.reg.All() {
		byNorm[NormalizeName(b.Name)] = b.Code
	}
	for i := range entries {
		if entries[i].Code == 0 {
			entries[i].Code = byNorm[NormalizeName(entries[i].Name)]
		}
	}
	return entries
}

func (s *JSONStore) FindByName(_ context.Context, name string) (*Entry, error) {
	want := NormalizeName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if NormalizeName(e.Name) == want {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *JSONStore) FindByCode(_ context.Context, code int) (*Entry, error) {
	if code == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.Code == code {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *JSONStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

func (s *JSONStore) Replace(_ context.Context, entries []Entry) (int, error) {
	entries = s.withCodes(append([]Entry(nil), entries...))

	if s.path != "" {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return 0, eris.Wrap(err, "store: marshal entries")
		}
		if err := os.WriteFile(s.path, data, 0o644); err != nil {
			return 0, eris.Wrapf(err, "store: write %s", s.path)
		}
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return len(entries), nil
}

func (s *JSONStore) Migrate(context.Context) error { return nil }

func (s *JSONStore) Close() error { return nil }
