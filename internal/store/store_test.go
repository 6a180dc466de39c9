package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T) (*EntityStore, string) {
	t.Helper()
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := New(backend)
	require.NoError(t, s.Bootstrap(context.Background()))
	return s, dir
}

func mustEntity(t *testing.T, id string, values map[string]any) Entity {
	t.Helper()
	fields, err := Patch(values)
	require.NoError(t, err)
	return Entity{ID: id, Fields: fields}
}

func TestEntityStore_RoundTrip(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	want := []Entity{
		mustEntity(t, "o1", map[string]any{"userId": "u1", "status": "received", "items": []map[string]any{{"service": "wash", "quantity": 2}}}),
		mustEntity(t, "o2", map[string]any{"userId": "u2", "status": "washing", "futureField": map[string]any{"nested": true}}),
		mustEntity(t, "o3", map[string]any{"userId": "u1", "status": "completed", "weightKg": 3.5}),
	}
	for _, e := range want {
		_, err := s.Create(ctx, Orders, e)
		require.NoError(t, err)
	}

	got, err := s.List(ctx, Orders)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEntityStore_CreateAssignsID(t *testing.T) {
	s, _ := newFileStore(t)
	s.newID = func() string { return "generated" }

	created, err := s.Create(context.Background(), Users, mustEntity(t, "", map[string]any{"email": "a@x.com"}))
	require.NoError(t, err)
	assert.Equal(t, "generated", created.ID)
}

func TestEntityStore_CreateDuplicateID(t *testing.T) {
	s, dir := newFileStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Orders, mustEntity(t, "o1", map[string]any{"status": "received"}))
	require.NoError(t, err)
	before, err := os.ReadFile(filepath.Join(dir, "orders.json"))
	require.NoError(t, err)

	_, err = s.Create(ctx, Orders, mustEntity(t, "o1", map[string]any{"status": "washing"}))
	assert.ErrorIs(t, err, ErrDuplicateID)

	after, err := os.ReadFile(filepath.Join(dir, "orders.json"))
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected create must not rewrite the collection")

	got, err := s.Get(ctx, Orders, "o1")
	require.NoError(t, err)
	var status string
	_, err = got.Field("status", &status)
	require.NoError(t, err)
	assert.Equal(t, "received", status)
}

func TestEntityStore_UniqueFieldGuard(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	errTaken := errors.New("email taken")

	_, err := s.Create(ctx, Users, mustEntity(t, "u1", map[string]any{"email": "a@x.com"}), UniqueField("email", errTaken))
	require.NoError(t, err)

	_, err = s.Create(ctx, Users, mustEntity(t, "u2", map[string]any{"email": "a@x.com"}), UniqueField("email", errTaken))
	assert.ErrorIs(t, err, errTaken)

	_, err = s.Create(ctx, Users, mustEntity(t, "u3", map[string]any{"email": "b@x.com"}), UniqueField("email", errTaken))
	assert.NoError(t, err)

	users, err := s.List(ctx, Users)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestEntityStore_UpdateShallowMerge(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Users, mustEntity(t, "u1", map[string]any{
		"email":   "a@x.com",
		"name":    "Ann",
		"profile": map[string]any{"room": "101", "hostel": "North"},
		"legacy":  "keep me",
	}))
	require.NoError(t, err)

	patch, err := Patch(map[string]any{"name": "Anna", "profile": map[string]any{"room": "202"}})
	require.NoError(t, err)
	updated, err := s.Update(ctx, Users, "u1", patch)
	require.NoError(t, err)

	var name, legacy string
	var profile map[string]string
	_, err = updated.Field("name", &name)
	require.NoError(t, err)
	_, err = updated.Field("legacy", &legacy)
	require.NoError(t, err)
	_, err = updated.Field("profile", &profile)
	require.NoError(t, err)

	assert.Equal(t, "Anna", name)
	assert.Equal(t, "keep me", legacy)
	assert.Equal(t, map[string]string{"room": "202"}, profile, "nested values are replaced, not merged")

	stored, err := s.Get(ctx, Users, "u1")
	require.NoError(t, err)
	assert.Equal(t, updated, stored)
}

func TestEntityStore_UpdateErrors(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, Users, mustEntity(t, "u1", map[string]any{"email": "a@x.com"}))
	require.NoError(t, err)

	_, err = s.Update(ctx, Users, "missing", Fields{})
	assert.ErrorIs(t, err, ErrNotFound)

	patch, err := Patch(map[string]any{"id": "u2"})
	require.NoError(t, err)
	_, err = s.Update(ctx, Users, "u1", patch)
	assert.ErrorIs(t, err, ErrImmutableID)

	sentinel := errors.New("abort")
	_, err = s.UpdateFunc(ctx, Users, "u1", func(Entity) (Fields, error) { return nil, sentinel })
	assert.ErrorIs(t, err, sentinel)

	_, err = s.Get(ctx, Users, "u1")
	assert.NoError(t, err)
}

func TestEntityStore_Delete(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, Orders, mustEntity(t, "o1", map[string]any{"status": "received"}))
	require.NoError(t, err)

	found, err := s.Delete(ctx, Orders, "o1")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = s.Delete(ctx, Orders, "o1")
	require.NoError(t, err)
	assert.False(t, found)

	_, err = s.Get(ctx, Orders, "o1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEntityStore_UnknownCollection(t *testing.T) {
	s, _ := newFileStore(t)
	_, err := s.List(context.Background(), Collection("machines"))
	assert.ErrorIs(t, err, ErrUnknownCollection)
}

func TestEntityStore_BootstrapDoesNotTruncate(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()
	_, err := s.Create(ctx, Orders, mustEntity(t, "o1", map[string]any{"status": "received"}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Bootstrap(ctx))
		}()
		go func() {
			defer wg.Done()
			orders, err := s.List(ctx, Orders)
			assert.NoError(t, err)
			assert.Len(t, orders, 1)
		}()
	}
	wg.Wait()

	orders, err := s.List(ctx, Orders)
	require.NoError(t, err)
	assert.Len(t, orders, 1)
}

func TestEntityStore_CorruptCollectionReadsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.json"), []byte(`[{"id": "o1", "status":`), 0o644))

	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	var corrupted []Collection
	s := New(backend, WithCorruptionHook(func(c Collection) { corrupted = append(corrupted, c) }))
	ctx := context.Background()
	require.NoError(t, s.Bootstrap(ctx))

	orders, err := s.List(ctx, Orders)
	require.NoError(t, err)
	assert.Empty(t, orders)
	_, err = s.Get(ctx, Orders, "o1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Reads leave the corrupt bytes alone.
	assert.Empty(t, corrupted)
	matches, err := filepath.Glob(filepath.Join(dir, "orders.json.corrupt-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
	raw, err := os.ReadFile(filepath.Join(dir, "orders.json"))
	require.NoError(t, err)
	assert.Equal(t, `[{"id": "o1", "status":`, string(raw))

	_, err = s.Create(ctx, Orders, mustEntity(t, "o2", map[string]any{"status": "received"}))
	require.NoError(t, err)
	assert.Equal(t, []Collection{Orders}, corrupted)

	matches, err = filepath.Glob(filepath.Join(dir, "orders.json.corrupt-*"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	kept, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, `[{"id": "o1", "status":`, string(kept))

	orders, err = s.List(ctx, Orders)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o2", orders[0].ID)
}

// countingBackend records mutating backend calls.
type countingBackend struct {
	Backend
	mu          sync.Mutex
	saves       int
	quarantines int
}

func (b *countingBackend) Save(ctx context.Context, c Collection, data []byte) error {
	b.mu.Lock()
	b.saves++
	b.mu.Unlock()
	return b.Backend.Save(ctx, c, data)
}

func (b *countingBackend) Quarantine(ctx context.Context, c Collection, data []byte) error {
	b.mu.Lock()
	b.quarantines++
	b.mu.Unlock()
	return b.Backend.Quarantine(ctx, c, data)
}

func TestEntityStore_ConcurrentReadsOfCorruptCollectionDoNotWrite(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tracking.json"), []byte(`{{{`), 0o644))
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	counting := &countingBackend{Backend: backend}
	s := New(counting)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records, err := s.List(ctx, Tracking)
			assert.NoError(t, err)
			assert.Empty(t, records)
		}()
	}
	wg.Wait()

	assert.Zero(t, counting.saves)
	assert.Zero(t, counting.quarantines)

	_, err = s.Create(ctx, Tracking, mustEntity(t, "t1", map[string]any{"status": "received"}))
	require.NoError(t, err)
	assert.Equal(t, 1, counting.quarantines)
}

// failingQuarantine wraps a backend whose quarantine always fails.
type failingQuarantine struct {
	Backend
}

func (failingQuarantine) Quarantine(context.Context, Collection, []byte) error {
	return errors.New("disk full")
}

func TestEntityStore_UnquarantinedCorruptionBlocksWrites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(`not json`), 0o644))
	backend, err := NewFileBackend(dir)
	require.NoError(t, err)
	s := New(failingQuarantine{Backend: backend})
	ctx := context.Background()

	users, err := s.List(ctx, Users)
	require.NoError(t, err)
	assert.Empty(t, users)

	_, err = s.Create(ctx, Users, mustEntity(t, "u1", map[string]any{"email": "a@x.com"}))
	assert.ErrorIs(t, err, ErrStorageCorrupt)

	raw, err := os.ReadFile(filepath.Join(dir, "users.json"))
	require.NoError(t, err)
	assert.Equal(t, "not json", string(raw), "corrupt content must survive until quarantined")
}

func TestEntityStore_ConcurrentUpdatesToDifferentEntities(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		_, err := s.Create(ctx, Orders, mustEntity(t, fmt.Sprintf("o%d", i), map[string]any{"status": "received"}))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch, err := Patch(map[string]any{"note": fmt.Sprintf("note-%d", i)})
			assert.NoError(t, err)
			_, err = s.Update(ctx, Orders, fmt.Sprintf("o%d", i), patch)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	orders, err := s.List(ctx, Orders)
	require.NoError(t, err)
	require.Len(t, orders, n)
	for _, o := range orders {
		var note string
		ok, err := o.Field("note", &note)
		require.NoError(t, err)
		assert.True(t, ok, "update to %s was lost", o.ID)
		assert.Equal(t, "note-"+o.ID[1:], note)
	}
}
