package models

import (
	"encoding/json"
	"fmt"
)

// EntityKind identifies one of the tracked business record kinds.
type EntityKind string

const (
	KindProduct  EntityKind = "product"
	KindMeter    EntityKind = "meter"
	KindCustomer EntityKind = "customer"
	KindSale     EntityKind = "sale"
)

// Kinds lists every syncable entity kind in refresh order.
var Kinds = []EntityKind{KindProduct, KindMeter, KindCustomer, KindSale}

// Collection maps an entity kind to its remote collection name.
func (k EntityKind) Collection() string {
	switch k {
	case KindProduct:
		return "products"
	case KindMeter:
		return "meters"
	case KindCustomer:
		return "customers"
	case KindSale:
		return "sales_transactions"
	}
	return string(k)
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindProduct, KindMeter, KindCustomer, KindSale:
		return true
	}
	return false
}

// Record is a schemaless entity payload in the remote service's
// field-naming convention, so it can be replayed verbatim.
type Record map[string]interface{}

// ID returns the record's id field, if any.
func (r Record) ID() string {
	if v, ok := r["id"].(string); ok {
		return v
	}
	return ""
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ToRecord converts a typed entity to a Record via its JSON encoding,
// which guarantees remote field naming (snake_case json tags).
func ToRecord(v interface{}) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entity: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}
	return rec, nil
}

// FromRecord decodes a Record into a typed entity.
func FromRecord(rec Record, out interface{}) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode record: %w", err)
	}
	return nil
}
