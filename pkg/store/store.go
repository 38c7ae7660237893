// Package store persists rules, groups and generation profiles in a single
// JSON document.
//
// Every operation reads the whole document and every mutation rewrites it
// through a temp file and rename, so a crash never leaves a torn file.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/tinyland-inc/wxclaw/pkg/logger"
	"github.com/tinyland-inc/wxclaw/pkg/providers"
	"github.com/tinyland-inc/wxclaw/pkg/rules"
	"github.com/tinyland-inc/wxclaw/pkg/utils"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record id already exists")
)

const documentName = "store.json"

// Document is the on-disk shape.
type Document struct {
	Rules     []rules.Rule          `json:"rules"`
	Scheduled []rules.ScheduledRule `json:"scheduled"`
	Groups    []rules.Group         `json:"groups"`
	Profiles  []providers.Profile   `json:"profiles"`
	Endpoints []providers.Endpoint  `json:"endpoints"`
}

type Store struct {
	path string
	mu   sync.Mutex
}

// Open returns a store rooted at dir, creating dir when needed. A missing
// document reads as empty.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s := &Store{path: filepath.Join(dir, documentName)}
	if _, err := s.read(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading store: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.path, err)
	}
	return &doc, nil
}

func (s *Store) write(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("setting store permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing store: %w", err)
	}
	return nil
}

// Snapshot returns the whole document as currently stored.
func (s *Store) Snapshot() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) view(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *Store) update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.write(doc)
}

// Collection is the CRUD surface of one record kind.
type Collection[T any] struct {
	store *Store
	kind  string
	slice func(*Document) *[]T
	id    func(*T) *string
}

func (s *Store) Rules() Collection[rules.Rule] {
	return Collection[rules.Rule]{
		store: s, kind: "rule",
		slice: func(d *Document) *[]rules.Rule { return &d.Rules },
		id:    func(r *rules.Rule) *string { return &r.ID },
	}
}

func (s *Store) Scheduled() Collection[rules.ScheduledRule] {
	return Collection[rules.ScheduledRule]{
		store: s, kind: "scheduled rule",
		slice: func(d *Document) *[]rules.ScheduledRule { return &d.Scheduled },
		id:    func(r *rules.ScheduledRule) *string { return &r.ID },
	}
}

func (s *Store) Groups() Collection[rules.Group] {
	return Collection[rules.Group]{
		store: s, kind: "group",
		slice: func(d *Document) *[]rules.Group { return &d.Groups },
		id:    func(g *rules.Group) *string { return &g.ID },
	}
}

func (s *Store) Profiles() Collection[providers.Profile] {
	return Collection[providers.Profile]{
		store: s, kind: "profile",
		slice: func(d *Document) *[]providers.Profile { return &d.Profiles },
		id:    func(p *providers.Profile) *string { return &p.ID },
	}
}

func (s *Store) Endpoints() Collection[providers.Endpoint] {
	return Collection[providers.Endpoint]{
		store: s, kind: "endpoint",
		slice: func(d *Document) *[]providers.Endpoint { return &d.Endpoints },
		id:    func(e *providers.Endpoint) *string { return &e.ID },
	}
}

// List returns the records in stored order.
func (c Collection[T]) List() ([]T, error) {
	var out []T
	err := c.store.view(func(d *Document) error {
		out = append([]T(nil), *c.slice(d)...)
		return nil
	})
	return out, err
}

func (c Collection[T]) Get(id string) (T, error) {
	var out T
	err := c.store.view(func(d *Document) error {
		i := c.index(d, id)
		if i < 0 {
			return fmt.Errorf("%s %q: %w", c.kind, id, ErrNotFound)
		}
		out = (*c.slice(d))[i]
		return nil
	})
	return out, err
}

// Create appends v. An empty id is replaced with a fresh UUID; the
// stored record is returned.
func (c Collection[T]) Create(v T) (T, error) {
	id := c.id(&v)
	if *id == "" {
		*id = uuid.NewString()
	}
	if err := utils.ValidateIdentifier(*id); err != nil {
		return v, fmt.Errorf("%s id %q: %w", c.kind, *id, err)
	}

	err := c.store.update(func(d *Document) error {
		if c.index(d, *id) >= 0 {
			return fmt.Errorf("%s %q: %w", c.kind, *id, ErrDuplicate)
		}
		items := c.slice(d)
		*items = append(*items, v)
		return nil
	})
	if err != nil {
		return v, err
	}
	logger.DebugCF("store", "Record created", map[string]any{"kind": c.kind, "id": *id})
	return v, nil
}

// Update replaces the record with v's id in place.
func (c Collection[T]) Update(v T) error {
	id := *c.id(&v)
	return c.store.update(func(d *Document) error {
		i := c.index(d, id)
		if i < 0 {
			return fmt.Errorf("%s %q: %w", c.kind, id, ErrNotFound)
		}
		(*c.slice(d))[i] = v
		return nil
	})
}

func (c Collection[T]) Delete(id string) error {
	return c.store.update(func(d *Document) error {
		i := c.index(d, id)
		if i < 0 {
			return fmt.Errorf("%s %q: %w", c.kind, id, ErrNotFound)
		}
		items := c.slice(d)
		*items = append((*items)[:i], (*items)[i+1:]...)
		return nil
	})
}

func (c Collection[T]) index(d *Document, id string) int {
	items := *c.slice(d)
	for i := range items {
		if *c.id(&items[i]) == id {
			return i
		}
	}
	return -1
}
