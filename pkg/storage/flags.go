package storage

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// defaultFlagTimeout bounds a single flag lookup
const defaultFlagTimeout = 2 * time.Second

// Flags reads boolean feature flags from the global namespace of a
// PropertyStore on every call, so changes take effect without a restart.
type Flags struct {
	store   PropertyStore
	timeout time.Duration
	logger  *slog.Logger
}

// NewFlags creates a flag reader backed by store
func NewFlags(store PropertyStore, logger *slog.Logger) *Flags {
	return &Flags{
		store:   store,
		timeout: defaultFlagTimeout,
		logger:  logger,
	}
}

// Bool returns the named flag, or defaultValue when it is unset, not a
// boolean, or the store fails.
func (f *Flags) Bool(name string, defaultValue bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	raw, ok, err := f.store.Property(ctx, "", name)
	if err != nil {
		f.logger.Warn("failed to read flag, using default",
			slog.String("flag", name),
			slog.String("error", err.Error()),
			slog.Bool("default", defaultValue))
		return defaultValue
	}
	if !ok {
		return defaultValue
	}

	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		f.logger.Debug("flag is not a boolean, using default",
			slog.String("flag", name),
			slog.String("value", raw),
			slog.Bool("default", defaultValue))
		return defaultValue
	}
	return value
}
