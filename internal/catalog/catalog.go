// Package catalog holds the registry of benchmark queries and their
// join-cardinality probes. A catalog is loaded once at startup and never
// mutated afterwards.
package catalog

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spaolacci/murmur3"
	"gopkg.in/yaml.v3"

	berrors "github.com/arkilian/rptbench/internal/errors"
)

//go:embed ssb.yaml
var ssbCatalog []byte

// Probe is a COUNT-producing statement measuring the cardinality of one
// intermediate join stage.
type Probe struct {
	Name string `yaml:"name"`
	SQL  string `yaml:"sql"`
}

// Query is a named benchmark query with an optional probe sequence.
// Probes are ordered by increasing join depth; the last one is the full join.
type Query struct {
	ID     string  `yaml:"id"`
	SQL    string  `yaml:"sql"`
	Probes []Probe `yaml:"probes,omitempty"`
}

// HasProbes reports whether the query defines a probe sequence.
func (q Query) HasProbes() bool {
	return len(q.Probes) > 0
}

// Catalog is an ordered, immutable set of queries.
type Catalog struct {
	name    string
	queries []Query
	index   map[string]int
}

type catalogFile struct {
	Name    string  `yaml:"name"`
	Queries []Query `yaml:"queries"`
}

// Default returns the built-in Star Schema Benchmark catalog.
func Default() *Catalog {
	c, err := Parse(ssbCatalog)
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog is invalid: %v", err))
	}
	return c
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, berrors.Wrap(berrors.ErrCategoryCatalog, berrors.CodeInvalidCatalog,
			fmt.Sprintf("failed to read catalog %s", path), err)
	}
	return Parse(data)
}

// Parse decodes a YAML catalog and validates it.
func Parse(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, berrors.Wrap(berrors.ErrCategoryCatalog, berrors.CodeInvalidCatalog,
			"failed to parse catalog", err)
	}
	return New(f.Name, f.Queries)
}

// New builds a catalog from queries in declaration order.
// Query ids must be non-empty and unique; SQL text is trimmed.
func New(name string, queries []Query) (*Catalog, error) {
	c := &Catalog{
		name:    name,
		queries: make([]Query, 0, len(queries)),
		index:   make(map[string]int, len(queries)),
	}

	for _, q := range queries {
		if q.ID == "" {
			return nil, berrors.NewCatalogError(berrors.CodeInvalidCatalog, "query with empty id")
		}
		if _, dup := c.index[q.ID]; dup {
			return nil, berrors.NewCatalogError(berrors.CodeDuplicateQuery,
				fmt.Sprintf("duplicate query id %q", q.ID))
		}
		q.SQL = strings.TrimSpace(q.SQL)
		if q.SQL == "" && !q.HasProbes() {
			return nil, berrors.NewCatalogError(berrors.CodeInvalidCatalog,
				fmt.Sprintf("query %q has neither sql nor probes", q.ID))
		}

		probes := make([]Probe, len(q.Probes))
		for i, p := range q.Probes {
			if p.Name == "" || strings.TrimSpace(p.SQL) == "" {
				return nil, berrors.NewCatalogError(berrors.CodeInvalidCatalog,
					fmt.Sprintf("query %q probe %d is missing name or sql", q.ID, i+1))
			}
			probes[i] = Probe{Name: p.Name, SQL: strings.TrimSpace(p.SQL)}
		}
		q.Probes = probes

		c.index[q.ID] = len(c.queries)
		c.queries = append(c.queries, q)
	}

	return c, nil
}

// Name returns the catalog name.
func (c *Catalog) Name() string {
	return c.name
}

// Len returns the number of queries.
func (c *Catalog) Len() int {
	return len(c.queries)
}

// Queries returns a copy of all queries in declaration order.
func (c *Catalog) Queries() []Query {
	out := make([]Query, len(c.queries))
	copy(out, c.queries)
	return out
}

// Get returns the query with the given id.
func (c *Catalog) Get(id string) (Query, bool) {
	i, ok := c.index[id]
	if !ok {
		return Query{}, false
	}
	return c.queries[i], true
}

// Select returns the queries named by ids in the order given, plus the ids
// that are not in the catalog. An empty ids list selects every query.
func (c *Catalog) Select(ids []string) (selected []Query, unknown []string) {
	if len(ids) == 0 {
		return c.Queries(), nil
	}
	for _, id := range ids {
		q, ok := c.Get(id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		selected = append(selected, q)
	}
	return selected, unknown
}

// WithProbes returns the queries that define a probe sequence.
func WithProbes(queries []Query) []Query {
	var out []Query
	for _, q := range queries {
		if q.HasProbes() {
			out = append(out, q)
		}
	}
	return out
}

// Fingerprint returns a stable hash of the catalog contents. Two runs with
// equal fingerprints executed identical SQL text.
func (c *Catalog) Fingerprint() string {
	h := murmur3.New128()
	for _, q := range c.queries {
		writeField(h, q.ID)
		writeField(h, q.SQL)
		for _, p := range q.Probes {
			writeField(h, p.Name)
			writeField(h, p.SQL)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes s followed by a NUL so adjacent fields cannot collide.
func writeField(w io.Writer, s string) {
	w.Write([]byte(s))
	w.Write([]byte{0})
}
