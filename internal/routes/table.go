package routes

import (
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Match is the result of resolving a path against a snapshot.
type Match struct {
	Route     Route
	Remainder string
}

// Snapshot is an immutable set of routes keyed by service name.
type Snapshot struct {
	routes   map[string]Route
	version  uint64
	loadedAt time.Time
}

// NewSnapshot indexes routes by service. Duplicate services are rejected.
func NewSnapshot(routes []Route) (*Snapshot, error) {
	s := &Snapshot{routes: make(map[string]Route, len(routes)), loadedAt: time.Now().UTC()}
	for _, r := range routes {
		if _, dup := s.routes[r.Service]; dup {
			return nil, fmt.Errorf("%w %q: duplicate service", ErrInvalidRoute, r.Service)
		}
		s.routes[r.Service] = r
	}
	return s, nil
}

// Version is the table generation the snapshot was installed as.
func (s *Snapshot) Version() uint64 { return s.version }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Routes lists the snapshot's routes ordered by service.
func (s *Snapshot) Routes() []Route {
	out := make([]Route, 0, len(s.routes))
	for _, r := range s.routes {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

// Match resolves a raw path (path and optional query). The first segment
// selects the service; the rest is returned untouched.
func (s *Snapshot) Match(path string) (Match, error) {
	service, remainder := splitService(path)
	if service == "" {
		return Match{}, ErrNotFound
	}
	route, ok := s.routes[service]
	if !ok {
		return Match{}, ErrNotFound
	}
	return Match{Route: route, Remainder: remainder}, nil
}

func splitService(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/")
	end := strings.IndexAny(trimmed, "/?")
	if end < 0 {
		return trimmed, ""
	}
	return trimmed[:end], trimmed[end:]
}

// Table publishes the current snapshot. Readers load it without locking and
// always observe one complete snapshot.
type Table struct {
	current atomic.Pointer[Snapshot]
	version atomic.Uint64
}

// NewTable constructs a table holding an empty snapshot.
func NewTable() *Table {
	t := &Table{}
	empty, _ := NewSnapshot(nil)
	t.current.Store(empty)
	return t
}

// Snapshot returns the current snapshot.
func (t *Table) Snapshot() *Snapshot {
	return t.current.Load()
}

// Match resolves path against the current snapshot.
func (t *Table) Match(path string) (Match, error) {
	return t.Snapshot().Match(path)
}

// Swap installs a new snapshot wholesale.
func (t *Table) Swap(s *Snapshot) {
	s.version = t.version.Add(1)
	t.current.Store(s)
}
