// Package muc hosts the rooms of a multi-user chat service together with
// the service-wide history defaults they inherit from.
package muc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/epw80/muc-history/pkg/history"
	"github.com/epw80/muc-history/pkg/hub"
	"github.com/epw80/muc-history/pkg/snapshot"
	"github.com/epw80/muc-history/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// HistoryPrefix is the property prefix of the service history defaults
const HistoryPrefix = "history"

// maxConcurrentSnapshots bounds parallel snapshot store calls
const maxConcurrentSnapshots = 8

var (
	ErrRoomNotFound    = errors.New("muc: room not found")
	ErrInvalidRoomName = errors.New("muc: invalid room name")
	ErrRoomMismatch    = errors.New("muc: snapshot belongs to a different room")
	ErrNoSnapshotStore = errors.New("muc: no snapshot store configured")
	ErrServiceShutdown = errors.New("muc: service is shut down")
)

// Config configures a Service
type Config struct {
	// Subdomain names the service and the property namespace its history
	// defaults are bound to.
	Subdomain string

	// Properties backs the history defaults. Required.
	Properties history.Properties

	// Flags supplies global feature flags. Optional.
	Flags history.Flags

	// Snapshots stores room snapshots for PersistAll and RestoreAll. Optional.
	Snapshots storage.SnapshotStore

	// Compression applied to exported room state
	Compression snapshot.Compression

	Logger *slog.Logger
}

// Service is a MUC service: it owns the default history strategy and the
// rooms whose strategies inherit from it
type Service struct {
	subdomain   string
	deps        history.Deps
	snapshots   storage.SnapshotStore
	compression snapshot.Compression
	logger      *slog.Logger

	defaults *history.Strategy

	mu     sync.RWMutex
	rooms  map[string]*Room
	closed bool
}

// NewService creates a service and binds its history defaults to
// (subdomain, "history") in the property store.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With(slog.String("service", cfg.Subdomain))

	deps := history.Deps{
		Properties: cfg.Properties,
		Flags:      cfg.Flags,
		Logger:     logger,
	}

	defaults := history.New(nil, deps)
	if err := defaults.Bind(ctx, cfg.Subdomain, HistoryPrefix); err != nil {
		return nil, fmt.Errorf("muc: bind history defaults: %w", err)
	}

	policy, bound := defaults.EffectivePolicy()
	logger.Info("MUC service initialized",
		slog.String("historyPolicy", policy.String()),
		slog.Int("historyBound", bound))

	return &Service{
		subdomain:   cfg.Subdomain,
		deps:        deps,
		snapshots:   cfg.Snapshots,
		compression: cfg.Compression,
		logger:      logger,
		defaults:    defaults,
		rooms:       make(map[string]*Room),
	}, nil
}

// Subdomain returns the service subdomain
func (s *Service) Subdomain() string {
	return s.subdomain
}

// Defaults returns the service default history strategy
func (s *Service) Defaults() *history.Strategy {
	return s.defaults
}

// SetDefaultPolicy changes the service default policy and stores it
func (s *Service) SetDefaultPolicy(ctx context.Context, policy history.Policy) error {
	return s.defaults.SetPolicy(ctx, policy)
}

// SetDefaultBound changes the service default bound and stores it
func (s *Service) SetDefaultBound(ctx context.Context, bound int) error {
	return s.defaults.SetBound(ctx, bound)
}

// ValidateRoomName reports whether name can be used as a room's local name
func ValidateRoomName(name string) error {
	if name == "" || strings.TrimSpace(name) != name || strings.ContainsAny(name, "@/\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return nil
}

// Room returns the named room, creating it when it does not exist. A new
// room's history inherits from the service defaults.
func (s *Service) Room(name string) (*Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	room, ok := s.rooms[name]
	s.mu.RUnlock()
	if ok {
		return room, nil
	}

	return s.createRoom(name, history.New(s.defaults, s.deps))
}

func (s *Service) createRoom(name string, strategy *history.Strategy) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrServiceShutdown
	}
	if room, ok := s.rooms[name]; ok {
		return room, nil
	}

	room := &Room{name: name}
	room.strategy.Store(strategy)
	room.hub = hub.New(name, room, s.logger)
	go room.hub.Run()

	s.rooms[name] = room
	s.logger.Info("room created", slog.String("room", name))
	return room, nil
}

// LookupRoom returns the named room if it exists
func (s *Service) LookupRoom(name string) (*Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[name]
	return room, ok
}

// Rooms returns the names of all rooms, sorted
func (s *Service) Rooms() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.rooms))
	for name := range s.rooms {
		names = append(names, name)
	}
	s.mu.RUnlock()

	slices.Sort(names)
	return names
}

// DestroyRoom disconnects every occupant, discards the room's history and
// removes its stored snapshot
func (s *Service) DestroyRoom(ctx context.Context, name string) error {
	s.mu.Lock()
	room, ok := s.rooms[name]
	delete(s.rooms, name)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	room.hub.Shutdown()

	if s.snapshots != nil {
		if err := s.snapshots.DeleteSnapshot(ctx, name); err != nil {
			return fmt.Errorf("muc: delete snapshot of %s: %w", name, err)
		}
	}

	s.logger.Info("room destroyed", slog.String("room", name))
	return nil
}

// ExportRoom serializes a room's history state into a sealed snapshot
func (s *Service) ExportRoom(name string) ([]byte, error) {
	room, ok := s.LookupRoom(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}

	state, err := room.History().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("muc: export %s: %w", name, err)
	}
	return snapshot.Seal(name, state, s.compression)
}

// ImportRoom replaces a room's history with state exported from another
// node, creating the room when needed. The imported strategy is linked to
// this service's defaults, and the room now serving it is returned. On
// error the room is left untouched.
func (s *Service) ImportRoom(name string, data []byte) (*Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return nil, err
	}

	snap, err := snapshot.Open(data)
	if err != nil {
		return nil, fmt.Errorf("muc: import %s: %w", name, err)
	}
	if snap.Room != name {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrRoomMismatch, snap.Room, name)
	}

	strategy, err := history.Unmarshal(snap.State, s.deps)
	if err != nil {
		return nil, fmt.Errorf("muc: import %s: %w", name, err)
	}
	strategy.Reparent(s.defaults)

	room, err := s.createRoom(name, strategy)
	if err != nil {
		return nil, err
	}
	room.strategy.Store(strategy)

	s.logger.Info("room history imported",
		slog.String("room", name),
		slog.Int("retained", strategy.Len()),
		slog.String("compression", snap.Compression.String()))
	return room, nil
}

// PersistAll writes a snapshot of every room to the snapshot store and
// returns the number of rooms written
func (s *Service) PersistAll(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, ErrNoSnapshotStore
	}

	var persisted atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSnapshots)

	for _, name := range s.Rooms() {
		g.Go(func() error {
			data, err := s.ExportRoom(name)
			if errors.Is(err, ErrRoomNotFound) {
				// destroyed since listing
				return nil
			}
			if err != nil {
				return err
			}
			if err := s.snapshots.SaveSnapshot(ctx, name, data); err != nil {
				return fmt.Errorf("muc: persist %s: %w", name, err)
			}
			persisted.Add(1)
			return nil
		})
	}

	err := g.Wait()
	s.logger.Info("rooms persisted", slog.Int64("count", persisted.Load()))
	return int(persisted.Load()), err
}

// RestoreAll imports every room snapshot in the snapshot store and returns
// the number of rooms restored. Snapshots that cannot be decoded are
// logged and skipped; store failures abort the restore.
func (s *Service) RestoreAll(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, ErrNoSnapshotStore
	}

	names, err := s.snapshots.ListSnapshots(ctx)
	if err != nil {
		return 0, fmt.Errorf("muc: list snapshots: %w", err)
	}

	var restored atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSnapshots)

	for _, name := range names {
		g.Go(func() error {
			data, err := s.snapshots.LoadSnapshot(ctx, name)
			if errors.Is(err, storage.ErrSnapshotNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("muc: restore %s: %w", name, err)
			}
			if _, err := s.ImportRoom(name, data); err != nil {
				s.logger.Warn("skipping unreadable room snapshot",
					slog.String("room", name),
					slog.String("error", err.Error()))
				return nil
			}
			restored.Add(1)
			return nil
		})
	}

	err = g.Wait()
	s.logger.Info("rooms restored",
		slog.Int64("count", restored.Load()),
		slog.Int("snapshots", len(names)))
	return int(restored.Load()), err
}

// Shutdown disconnects the occupants of every room. Rooms cannot be
// created afterwards; their history stays readable for PersistAll.
func (s *Service) Shutdown() {
	s.mu.Lock()
	s.closed = true
	rooms := make([]*Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	for _, room := range rooms {
		room.hub.Shutdown()
	}
	s.logger.Info("MUC service shut down", slog.Int("rooms", len(rooms)))
}
