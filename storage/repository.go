// Package storage provides the record storage abstraction shared by the
// client's local state and the reference backend.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrNamespaceNotFound is returned when a namespace has never been written.
	ErrNamespaceNotFound = errors.New("namespace not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// Record is a versioned opaque value.
type Record struct {
	Version uint64 `json:"version"`
	Data    []byte `json:"data"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Version: r.Version, Data: append([]byte(nil), r.Data...)}
}

// BatchTx provides reads and writes within an atomic transaction.
// The namespace is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Get(recordType string, recordID string) (*Record, error)
	Put(recordType string, recordID string, record *Record) error
	PutCAS(recordType string, recordID string, expectedVersion uint64, record *Record) error
	Delete(recordType string, recordID string) error
}

// Repository defines the interface for record storage. Records are
// addressed by (namespace, recordType, recordID).
type Repository interface {
	Put(namespace string, recordType string, recordID string, record *Record) error
	Get(namespace string, recordType string, recordID string) (*Record, error)
	List(namespace string, recordType string) ([]string, error)
	Delete(namespace string, recordType string, recordID string) error
	PutCAS(namespace string, recordType string, recordID string, expectedVersion uint64, record *Record) error
	Batch(namespace string, fn func(tx BatchTx) error) error
}

// EncodeJSON marshals v into a Record at the given version.
func EncodeJSON(v any, version uint64) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return &Record{Version: version, Data: data}, nil
}

// DecodeJSON unmarshals a Record's data into v.
func DecodeJSON(r *Record, v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}
