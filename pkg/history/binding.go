package history

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Bind associates the strategy with a property namespace and key prefix
// (without trailing dot) and immediately loads "<prefix>.type" and
// "<prefix>.maxNumber" from the store.
//
// An unknown or missing type name falls back as in ParsePolicy. A blank
// maxNumber keeps the current bound, and a malformed one is logged and
// also keeps it. Store errors are returned and leave the strategy
// unchanged.
func (s *Strategy) Bind(ctx context.Context, namespace, prefix string) error {
	if s.deps.Properties == nil {
		return ErrNoPropertyStore
	}

	binding := Binding{Namespace: namespace, Prefix: prefix}
	logger := s.deps.logger()

	typeName, _, err := s.deps.Properties.Property(ctx, namespace, binding.typeKey())
	if err != nil {
		return fmt.Errorf("history: load %s: %w", binding.typeKey(), err)
	}
	maxNumber, _, err := s.deps.Properties.Property(ctx, namespace, binding.maxNumberKey())
	if err != nil {
		return fmt.Errorf("history: load %s: %w", binding.maxNumberKey(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.binding = &binding

	hasParent := s.parent != nil
	s.policy = ParsePolicy(typeName, hasParent)
	if _, ok := LookupPolicy(typeName); !ok && typeName != "" {
		logger.Info("unrecognized history type, using fallback",
			slog.String("namespace", namespace),
			slog.String("property", binding.typeKey()),
			slog.String("value", typeName),
			slog.String("policy", s.policy.String()))
	}

	maxNumber = strings.TrimSpace(maxNumber)
	if maxNumber == "" {
		return nil
	}
	bound, err := strconv.Atoi(maxNumber)
	if err != nil || bound < 0 {
		logger.Info("property is not a valid history bound",
			slog.String("namespace", namespace),
			slog.String("property", binding.maxNumberKey()),
			slog.String("value", maxNumber),
			slog.Int("bound", s.bound))
		return nil
	}
	s.bound = bound

	return nil
}
