package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Collection names one durable set of entities.
type Collection string

const (
	Users    Collection = "users"
	Orders   Collection = "orders"
	Tracking Collection = "tracking"
)

// Collections lists every collection materialized on bootstrap.
var Collections = []Collection{Users, Orders, Tracking}

// Kind returns the singular entity kind stored in c.
func (c Collection) Kind() string {
	switch c {
	case Users:
		return "user"
	case Orders:
		return "order"
	case Tracking:
		return "tracking"
	}
	return string(c)
}

var (
	ErrNotFound          = errors.New("entity not found")
	ErrDuplicateID       = errors.New("duplicate entity id")
	ErrImmutableID       = errors.New("entity id is immutable")
	ErrStorageCorrupt    = errors.New("collection storage is corrupt")
	ErrUnknownCollection = errors.New("unknown collection")
	ErrCollectionMissing = errors.New("collection not materialized")
)

// Fields maps field names to their raw JSON values. Keeping values raw lets
// fields this build does not know about survive a read-modify-write.
type Fields map[string]json.RawMessage

// Entity is one stored record. The id is kept apart from Fields and is
// serialized alongside them as "id".
type Entity struct {
	ID     string
	Fields Fields
}

// MarshalJSON flattens the entity into a single JSON object.
func (e Entity) MarshalJSON() ([]byte, error) {
	obj := make(map[string]json.RawMessage, len(e.Fields)+1)
	for k, v := range e.Fields {
		obj[k] = v
	}
	id, err := json.Marshal(e.ID)
	if err != nil {
		return nil, err
	}
	obj["id"] = id
	return json.Marshal(obj)
}

// UnmarshalJSON splits a JSON object into id and remaining fields.
func (e *Entity) UnmarshalJSON(b []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	raw, ok := obj["id"]
	if !ok {
		return errors.New("entity has no id")
	}
	if err := json.Unmarshal(raw, &e.ID); err != nil {
		return fmt.Errorf("entity id must be a string: %w", err)
	}
	delete(obj, "id")
	e.Fields = obj
	return nil
}

func (e Entity) clone() Entity {
	fields := make(Fields, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = append(json.RawMessage(nil), v...)
	}
	return Entity{ID: e.ID, Fields: fields}
}

// ToEntity converts a typed record (any value that marshals to a JSON object
// with a string "id") into an Entity.
func ToEntity(v any) (Entity, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Entity{}, fmt.Errorf("encode entity: %w", err)
	}
	var e Entity
	if err := json.Unmarshal(b, &e); err != nil {
		return Entity{}, fmt.Errorf("encode entity: %w", err)
	}
	return e, nil
}

// Decode fills v, a pointer to a typed record, from e.
func Decode(e Entity, v any) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("decode entity %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode entity %s: %w", e.ID, err)
	}
	return nil
}

// Patch builds a partial field set for Update from plain values.
func Patch(values map[string]any) (Fields, error) {
	fields := make(Fields, len(values))
	for k, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
		fields[k] = b
	}
	return fields, nil
}

// Field decodes a single field of e into v. It reports false when the field
// is absent.
func (e Entity) Field(name string, v any) (bool, error) {
	raw, ok := e.Fields[name]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode field %q of %s: %w", name, e.ID, err)
	}
	return true, nil
}
