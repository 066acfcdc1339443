package storage

import (
	"context"
	"errors"
)

// ErrSnapshotNotFound is returned when no snapshot exists for a room
var ErrSnapshotNotFound = errors.New("snapshot not found")

// PropertyStore defines the key/value configuration store MUC services
// read their settings from. Properties are grouped by namespace, usually
// the service subdomain; the empty namespace holds global properties.
// Implementations should be safe for concurrent use.
type PropertyStore interface {
	// Property returns the value stored under key and whether it exists.
	Property(ctx context.Context, namespace, key string) (string, bool, error)

	// SetProperty stores a value, overwriting any previous one.
	SetProperty(ctx context.Context, namespace, key, value string) error

	// DeleteProperty removes a property. No error if it doesn't exist.
	DeleteProperty(ctx context.Context, namespace, key string) error

	// Properties returns every property of a namespace.
	Properties(ctx context.Context, namespace string) (map[string]string, error)

	// HealthCheck verifies the storage backend is accessible and operational.
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// SnapshotStore persists serialized room history snapshots, keyed by room.
type SnapshotStore interface {
	// SaveSnapshot stores the snapshot for a room, replacing any previous one.
	SaveSnapshot(ctx context.Context, room string, data []byte) error

	// LoadSnapshot returns the snapshot for a room or ErrSnapshotNotFound.
	LoadSnapshot(ctx context.Context, room string) ([]byte, error)

	// DeleteSnapshot removes a room's snapshot. No error if it doesn't exist.
	DeleteSnapshot(ctx context.Context, room string) error

	// ListSnapshots returns the rooms that have a snapshot. Order is not guaranteed.
	ListSnapshots(ctx context.Context) ([]string, error)
}

// Backend is a store that keeps both properties and snapshots.
type Backend interface {
	PropertyStore
	SnapshotStore
}
