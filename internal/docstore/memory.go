package docstore

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps documents in process memory. It backs tests and local
// development runs without a database.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
	unique      map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
		unique:      make(map[string][]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection string, id string) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	copied, err := normalizeFields(fields)
	if err != nil {
		return nil, err
	}
	return &Document{ID: id, Fields: copied}, nil
}

func (s *MemoryStore) QueryByField(ctx context.Context, collection string, field string, value any) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := normalizeValue(value)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0)
	for id, fields := range s.collections[collection] {
		if got, ok := fields[field]; ok && reflect.DeepEqual(got, want) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	docs := make([]Document, 0, len(ids))
	for _, id := range ids {
		copied, err := normalizeFields(s.collections[collection][id])
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Fields: copied})
	}
	return docs, nil
}

func (s *MemoryStore) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	normalized, err := normalizeFields(fields)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	if err := s.checkUnique(collection, id, normalized); err != nil {
		return "", err
	}
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]map[string]any)
	}
	s.collections[collection][id] = normalized
	return id, nil
}

func (s *MemoryStore) Update(ctx context.Context, collection string, id string, fields map[string]any) error {
	_, err := s.update(ctx, collection, id, nil, fields)
	return err
}

func (s *MemoryStore) CompareAndUpdate(
	ctx context.Context,
	collection string,
	id string,
	expect map[string]any,
	fields map[string]any,
) (bool, error) {
	updated, err := s.update(ctx, collection, id, expect, fields)
	if err == ErrNotFound {
		return false, nil
	}
	return updated, err
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryStore) EnsureUnique(ctx context.Context, collection string, field string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.unique[collection] {
		if existing == field {
			return nil
		}
	}
	s.unique[collection] = append(s.unique[collection], field)
	return nil
}

func (s *MemoryStore) update(
	ctx context.Context,
	collection string,
	id string,
	expect map[string]any,
	fields map[string]any,
) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	patch, err := normalizeFields(fields)
	if err != nil {
		return false, err
	}
	expected, err := normalizeFields(expect)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.collections[collection][id]
	if !ok {
		return false, ErrNotFound
	}
	for key, want := range expected {
		if !reflect.DeepEqual(current[key], want) {
			return false, nil
		}
	}

	merged := make(map[string]any, len(current)+len(patch))
	for key, value := range current {
		merged[key] = value
	}
	for key, value := range patch {
		merged[key] = value
	}
	if err := s.checkUnique(collection, id, merged); err != nil {
		return false, err
	}
	s.collections[collection][id] = merged
	return true, nil
}

// checkUnique must be called with the write lock held.
func (s *MemoryStore) checkUnique(collection string, id string, fields map[string]any) error {
	for _, field := range s.unique[collection] {
		value, ok := fields[field].(string)
		if !ok || value == "" {
			continue
		}
		for otherID, other := range s.collections[collection] {
			if otherID == id {
				continue
			}
			if otherValue, ok := other[field].(string); ok && otherValue == value {
				return &DuplicateError{Collection: collection, Field: field}
			}
		}
	}
	return nil
}
