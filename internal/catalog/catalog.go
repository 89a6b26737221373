package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/roach88/obscal/internal/ir"
)

//go:embed data/standards.yaml
var defaultCatalogYAML []byte

//go:embed data/catalog.schema.json
var catalogSchemaJSON string

const schemaURL = "obscal-catalog.schema.json"

// ErrDuplicateEntry is returned when a catalog lists the same id twice.
var ErrDuplicateEntry = errors.New("duplicate catalog entry")

// Entry is one catalog target.
type Entry struct {
	ID    string               `yaml:"id" json:"id"`
	Name  string               `yaml:"name" json:"name"`
	RA    float64              `yaml:"ra" json:"ra"`
	Dec   float64              `yaml:"dec" json:"dec"`
	VMag  float64              `yaml:"vmag,omitempty" json:"vmag,omitempty"`
	Roles []ir.CalibrationRole `yaml:"roles" json:"roles"`
}

// Position returns the entry's position in stored units.
func (e Entry) Position() ir.Coordinates {
	return ir.CoordinatesFromDegrees(e.RA, e.Dec)
}

// Serves reports whether the entry is applicable to role.
func (e Entry) Serves(role ir.CalibrationRole) bool {
	for _, r := range e.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type document struct {
	Entries []Entry `yaml:"entries"`
}

// Catalog is an immutable, ordered set of calibration targets.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// Default returns the embedded spectrophotometric standard catalog.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalogYAML))
}

// LoadFile reads and validates a catalog file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	c, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Load parses YAML catalog data, validates it against the catalog schema
// and returns the catalog with entries in file order.
func Load(r io.Reader) (*Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{
		entries: doc.Entries,
		byID:    make(map[string]int, len(doc.Entries)),
	}
	for i, e := range doc.Entries {
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateEntry, e.ID)
		}
		c.byID[e.ID] = i
	}
	return c, nil
}

// Validate checks YAML catalog data against the embedded schema.
func Validate(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse catalog yaml: %w", err)
	}
	// The validator expects encoding/json shapes (float64 numbers,
	// map[string]any objects), so normalize through a JSON round trip.
	js, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize catalog: %w", err)
	}
	var payload any
	if err := json.Unmarshal(js, &payload); err != nil {
		return fmt.Errorf("normalize catalog: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("catalog schema: %w", err)
	}
	return nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(catalogSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

// Entry looks up an entry by id.
func (c *Catalog) Entry(id string) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Entries returns a copy of all entries in catalog order.
func (c *Catalog) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Candidate is a ranked catalog entry at a given site and instant.
type Candidate struct {
	Entry Entry
	// Cost is the zenith distance in micro-degrees; lower is better.
	Cost int64
	// Altitude in degrees above the horizon.
	Altitude float64
	order    int
}

// Rank returns the entries serving role that stand at least minAltitude
// degrees above the horizon at (site, at), ordered by ascending cost with
// ties broken by catalog order.
func (c *Catalog) Rank(role ir.CalibrationRole, site ir.Site, at time.Time, minAltitude float64) []Candidate {
	st := SiderealTime(at)
	zra, zdec := Zenith(site.Latitude, site.Longitude, at)
	out := make([]Candidate, 0, len(c.entries))
	for i, e := range c.entries {
		if !e.Serves(role) {
			continue
		}
		alt := Altitude(site.Latitude, site.Longitude, e.RA, e.Dec, st)
		if alt < minAltitude {
			continue
		}
		out = append(out, Candidate{
			Entry:    e,
			Cost:     microDegrees(Separation(e.RA, e.Dec, zra, zdec)),
			Altitude: alt,
			order:    i,
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Cost != out[b].Cost {
			return out[a].Cost < out[b].Cost
		}
		return out[a].order < out[b].order
	})
	return out
}

// DefaultMinAltitude is the minimum altitude in degrees (airmass 2.0).
const DefaultMinAltitude = 30.0

// Set maps calibration roles to catalogs and ranks them with a shared
// altitude limit.
type Set struct {
	byRole      map[ir.CalibrationRole]*Catalog
	minAltitude float64
}

// NewSet creates an empty catalog set.
func NewSet(minAltitude float64) *Set {
	return &Set{byRole: make(map[ir.CalibrationRole]*Catalog), minAltitude: minAltitude}
}

// DefaultSet returns a set serving the spectrophotometric role from the
// embedded standard catalog.
func DefaultSet() (*Set, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	return NewSet(DefaultMinAltitude).With(ir.RoleSpectroPhotometric, c), nil
}

// With registers c for role and returns the set.
func (s *Set) With(role ir.CalibrationRole, c *Catalog) *Set {
	s.byRole[role] = c
	return s
}

// Catalog returns the catalog registered for role.
func (s *Set) Catalog(role ir.CalibrationRole) (*Catalog, bool) {
	c, ok := s.byRole[role]
	return c, ok
}

// Candidates ranks role's catalog at (site, at). Roles without a catalog
// have no candidates.
func (s *Set) Candidates(role ir.CalibrationRole, site ir.Site, at time.Time) []Candidate {
	c, ok := s.byRole[role]
	if !ok {
		return nil
	}
	return c.Rank(role, site, at, s.minAltitude)
}
