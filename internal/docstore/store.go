// Package docstore is the document-database collaborator: collections of
// JSON-like documents addressed by id and queried by field equality.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("document not found")

// DuplicateError is returned when a write would break a unique index.
type DuplicateError struct {
	Collection string
	Field      string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate value for %s.%s", e.Collection, e.Field)
}

// Document is a stored record. ID is assigned by the store and is never part
// of Fields.
type Document struct {
	ID     string
	Fields map[string]any
}

type Store interface {
	Get(ctx context.Context, collection string, id string) (*Document, error)
	QueryByField(ctx context.Context, collection string, field string, value any) ([]Document, error)
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	Update(ctx context.Context, collection string, id string, fields map[string]any) error
	// CompareAndUpdate applies fields only if every key in expect currently
	// holds the given value. It reports whether the update happened.
	CompareAndUpdate(ctx context.Context, collection string, id string, expect map[string]any, fields map[string]any) (bool, error)
	Delete(ctx context.Context, collection string, id string) error
	// EnsureUnique declares a unique index on field. Empty strings are not
	// indexed, so optional fields may be left blank by many documents.
	EnsureUnique(ctx context.Context, collection string, field string) error
}

// IsDuplicate reports whether err is a unique index violation and returns the
// offending field.
func IsDuplicate(err error) (string, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Field, true
	}
	return "", false
}

// Decode copies document fields into target through their JSON form.
func Decode(doc *Document, target any) error {
	data, err := json.Marshal(doc.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// Encode converts a tagged struct into document fields.
func Encode(value any) (map[string]any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	delete(fields, "id")
	return fields, nil
}

func normalizeFields(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
