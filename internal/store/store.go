package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Store defines the CRUD operations over entity collections.
type Store interface {
	Bootstrap(ctx context.Context) error
	List(ctx context.Context, c Collection) ([]Entity, error)
	Get(ctx context.Context, c Collection, id string) (Entity, error)
	Create(ctx context.Context, c Collection, e Entity, guards ...Guard) (Entity, error)
	Update(ctx context.Context, c Collection, id string, fields Fields) (Entity, error)
	UpdateFunc(ctx context.Context, c Collection, id string, fn func(Entity) (Fields, error)) (Entity, error)
	Delete(ctx context.Context, c Collection, id string) (bool, error)
}

// Guard inspects the current collection before a create is committed. It
// runs under the collection lock.
type Guard func(existing []Entity, candidate Entity) error

// UniqueField rejects a create whose field equals the same field of an
// existing entity. Comparison is on the raw JSON value.
func UniqueField(name string, errDuplicate error) Guard {
	return func(existing []Entity, candidate Entity) error {
		want, ok := candidate.Fields[name]
		if !ok {
			return nil
		}
		for _, e := range existing {
			if got, ok := e.Fields[name]; ok && bytes.Equal(got, want) {
				return errDuplicate
			}
		}
		return nil
	}
}

// Option configures an EntityStore.
type Option func(*EntityStore)

// WithIDGenerator overrides how ids are assigned to entities created without one.
func WithIDGenerator(gen func() string) Option {
	return func(s *EntityStore) { s.newID = gen }
}

// WithCorruptionHook is called whenever a collection is found unparseable.
func WithCorruptionHook(fn func(Collection)) Option {
	return func(s *EntityStore) { s.onCorrupt = fn }
}

// EntityStore implements Store over a Backend. Every mutation rewrites the
// whole collection, and all writers to one collection are serialized by that
// collection's lock.
type EntityStore struct {
	backend   Backend
	locks     map[Collection]*sync.RWMutex
	newID     func() string
	onCorrupt func(Collection)
}

var _ Store = (*EntityStore)(nil)

// New creates an EntityStore for the standard collections.
func New(backend Backend, opts ...Option) *EntityStore {
	s := &EntityStore{
		backend: backend,
		locks:   make(map[Collection]*sync.RWMutex, len(Collections)),
		newID:   uuid.NewString,
	}
	for _, c := range Collections {
		s.locks[c] = &sync.RWMutex{}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *EntityStore) lock(c Collection) (*sync.RWMutex, error) {
	mu, ok := s.locks[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return mu, nil
}

// Bootstrap materializes every collection as an empty sequence if absent.
// It is idempotent and never truncates an existing collection.
func (s *EntityStore) Bootstrap(ctx context.Context) error {
	for _, c := range Collections {
		if err := s.backend.Init(ctx, c, []byte("[]")); err != nil {
			return fmt.Errorf("bootstrap %s: %w", c, err)
		}
	}
	return nil
}

// load reads and parses c. Unparseable content reads as empty. Only callers
// holding the write lock pass repair, which quarantines the bad content and
// resets the collection; if the quarantine fails the error wraps
// ErrStorageCorrupt and the caller must not overwrite it.
func (s *EntityStore) load(ctx context.Context, c Collection, repair bool) ([]Entity, error) {
	data, err := s.backend.Load(ctx, c)
	if errors.Is(err, ErrCollectionMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var entities []Entity
	parseErr := json.Unmarshal(data, &entities)
	if parseErr == nil {
		return entities, nil
	}
	if !repair {
		log.Printf("collection %s is corrupt, reading it as empty until the next write: %v", c, parseErr)
		return nil, nil
	}
	log.Printf("collection %s is corrupt, quarantining it: %v", c, parseErr)

	if s.onCorrupt != nil {
		s.onCorrupt(c)
	}
	if err := s.backend.Quarantine(ctx, c, data); err != nil {
		log.Printf("failed to quarantine corrupt collection %s, refusing writes: %v", c, err)
		return nil, fmt.Errorf("%w: %s", ErrStorageCorrupt, c)
	}
	if err := s.backend.Save(ctx, c, []byte("[]")); err != nil {
		log.Printf("failed to reset quarantined collection %s: %v", c, err)
	}
	return nil, nil
}

// loadForRead is load for callers holding only the read lock.
func (s *EntityStore) loadForRead(ctx context.Context, c Collection) ([]Entity, error) {
	return s.load(ctx, c, false)
}

func (s *EntityStore) save(ctx context.Context, c Collection, entities []Entity) error {
	if entities == nil {
		entities = []Entity{}
	}
	data, err := json.Marshal(entities)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c, err)
	}
	if err := s.backend.Save(ctx, c, data); err != nil {
		return fmt.Errorf("save %s: %w", c, err)
	}
	return nil
}

// List returns every entity of c in stored order.
func (s *EntityStore) List(ctx context.Context, c Collection) ([]Entity, error) {
	mu, err := s.lock(c)
	if err != nil {
		return nil, err
	}
	mu.RLock()
	defer mu.RUnlock()

	entities, err := s.loadForRead(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make([]Entity, len(entities))
	for i, e := range entities {
		out[i] = e.clone()
	}
	return out, nil
}

// Get returns the entity with id, or ErrNotFound.
func (s *EntityStore) Get(ctx context.Context, c Collection, id string) (Entity, error) {
	mu, err := s.lock(c)
	if err != nil {
		return Entity{}, err
	}
	mu.RLock()
	defer mu.RUnlock()

	entities, err := s.loadForRead(ctx, c)
	if err != nil {
		return Entity{}, err
	}
	for _, e := range entities {
		if e.ID == id {
			return e.clone(), nil
		}
	}
	return Entity{}, fmt.Errorf("%s %q: %w", c.Kind(), id, ErrNotFound)
}

// Create appends e to c. An empty id is assigned; an id already present
// fails with ErrDuplicateID and leaves the collection untouched.
func (s *EntityStore) Create(ctx context.Context, c Collection, e Entity, guards ...Guard) (Entity, error) {
	mu, err := s.lock(c)
	if err != nil {
		return Entity{}, err
	}
	mu.Lock()
	defer mu.Unlock()

	entities, err := s.load(ctx, c, true)
	if err != nil {
		return Entity{}, err
	}

	e = e.clone()
	if e.ID == "" {
		e.ID = s.newID()
	}
	for _, existing := range entities {
		if existing.ID == e.ID {
			return Entity{}, fmt.Errorf("%s %q: %w", c.Kind(), e.ID, ErrDuplicateID)
		}
	}
	for _, guard := range guards {
		if err := guard(entities, e); err != nil {
			return Entity{}, err
		}
	}

	if err := s.save(ctx, c, append(entities, e)); err != nil {
		return Entity{}, err
	}
	return e.clone(), nil
}

// Update shallow-merges fields into the entity with id.
func (s *EntityStore) Update(ctx context.Context, c Collection, id string, fields Fields) (Entity, error) {
	return s.UpdateFunc(ctx, c, id, func(Entity) (Fields, error) { return fields, nil })
}

// UpdateFunc reads the entity with id, asks fn for the fields to merge and
// writes the result, all under the collection lock. An error from fn aborts
// without writing.
func (s *EntityStore) UpdateFunc(ctx context.Context, c Collection, id string, fn func(Entity) (Fields, error)) (Entity, error) {
	mu, err := s.lock(c)
	if err != nil {
		return Entity{}, err
	}
	mu.Lock()
	defer mu.Unlock()

	entities, err := s.load(ctx, c, true)
	if err != nil {
		return Entity{}, err
	}

	idx := -1
	for i, e := range entities {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Entity{}, fmt.Errorf("%s %q: %w", c.Kind(), id, ErrNotFound)
	}

	fields, err := fn(entities[idx].clone())
	if err != nil {
		return Entity{}, err
	}
	if _, ok := fields["id"]; ok {
		return Entity{}, fmt.Errorf("%s %q: %w", c.Kind(), id, ErrImmutableID)
	}

	updated := entities[idx].clone()
	for k, v := range fields {
		updated.Fields[k] = append(json.RawMessage(nil), v...)
	}

	next := make([]Entity, len(entities))
	copy(next, entities)
	next[idx] = updated
	if err := s.save(ctx, c, next); err != nil {
		return Entity{}, err
	}
	return updated.clone(), nil
}

// Delete removes the entity with id and reports whether it existed.
func (s *EntityStore) Delete(ctx context.Context, c Collection, id string) (bool, error) {
	mu, err := s.lock(c)
	if err != nil {
		return false, err
	}
	mu.Lock()
	defer mu.Unlock()

	entities, err := s.load(ctx, c, true)
	if err != nil {
		return false, err
	}

	kept := make([]Entity, 0, len(entities))
	found := false
	for _, e := range entities {
		if e.ID == id {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return false, nil
	}
	if err := s.save(ctx, c, kept); err != nil {
		return false, err
	}
	return true, nil
}
