package canonical

import (
	"context"
	"fmt"

	"github.com/ekwalla/valor/internal/contracts"
)

// Ranking is the effective source priority order for one organization and
// data type. Lower priority number wins.
type Ranking struct {
	dataType   contracts.DataType
	priorities map[string]int
	active     map[string]bool
	official   map[string]bool
}

// Priority returns the effective priority of a source code. The second
// return is false when the source does not participate in the ranking.
func (r *Ranking) Priority(sourceCode string) (int, bool) {
	p, ok := r.priorities[sourceCode]
	return p, ok
}

// IsActive reports whether the source is active for the ranking's data type.
func (r *Ranking) IsActive(sourceCode string) bool {
	return r.active[sourceCode]
}

// IsOfficial reports whether the source is a designated official publisher.
func (r *Ranking) IsOfficial(sourceCode string) bool {
	return r.official[sourceCode]
}

// Size returns the number of ranked sources.
func (r *Ranking) Size() int {
	return len(r.priorities)
}

// Resolver computes effective source rankings from the global registry and
// per-organization overrides.
type Resolver struct {
	sources contracts.SourceStore
}

func NewResolver(sources contracts.SourceStore) *Resolver {
	return &Resolver{sources: sources}
}

// Resolve builds the effective ranking for the organization and data type.
// An organization override replaces the global priority of that source;
// sources without an override keep their global priority. Returns
// ConfigurationError when no active source provides the data type.
func (r *Resolver) Resolve(ctx context.Context, org contracts.OrgID, dataType contracts.DataType) (*Ranking, error) {
	active, err := r.sources.ActiveSources(ctx, dataType)
	if err != nil {
		return nil, fmt.Errorf("load active sources: %w", err)
	}
	if len(active) == 0 {
		return nil, &contracts.ConfigurationError{DataType: dataType}
	}

	overrides, err := r.sources.OrgOverrides(ctx, org, dataType)
	if err != nil {
		return nil, fmt.Errorf("load org overrides: %w", err)
	}

	ranking := &Ranking{
		dataType:   dataType,
		priorities: make(map[string]int, len(active)),
		active:     make(map[string]bool, len(active)),
		official:   make(map[string]bool, len(active)),
	}
	for _, src := range active {
		prio := src.Priority
		if override, ok := overrides[src.Code]; ok {
			prio = override
		}
		ranking.priorities[src.Code] = prio
		ranking.active[src.Code] = true
		ranking.official[src.Code] = src.IsOfficial
	}

	return ranking, nil
}
