package source

import (
	"context"
	"fmt"
	"log/slog"

	"CommunityScanner/internal/domain"
	"CommunityScanner/internal/ports"
)

// StrategySource implements EntitySource via a registered strategy chosen by name.
type StrategySource struct {
	registry *Registry
	name     string
	logger   *slog.Logger
}

var _ ports.EntitySource = (*StrategySource)(nil)

// NewStrategySource wires the registry with the configured source name.
func NewStrategySource(reg *Registry, name string, log *slog.Logger) *StrategySource {
	return &StrategySource{registry: reg, name: name, logger: log}
}

// Entities runs the selected strategy and normalises its output.
func (s *StrategySource) Entities(ctx context.Context) ([]domain.Entity, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("entity source registry is not configured")
	}
	strategy, err := s.registry.Resolve(s.name)
	if err != nil {
		return nil, err
	}

	s.debug("load entities", "source", s.name)
	entities, err := strategy.Entities(ctx)
	if err != nil {
		return nil, fmt.Errorf("entity source %s: %w", s.name, err)
	}

	names := make([]string, 0, len(entities))
	for _, e := range entities {
		names = append(names, e.Name)
	}
	out := toEntities(names)
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: source %s produced no entities", domain.ErrMalformedEntities, s.name)
	}
	s.debug("entities loaded", "source", s.name, "count", len(out))
	return out, nil
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
