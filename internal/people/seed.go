package people

import (
	"context"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/identity"
)

// demoPeople are placeholder identities for fresh installs. None carry an
// embedding; faces are registered against them later.
var demoPeople = []identity.Person{
	{
		ID:       "demo_001",
		Name:     "Sarah",
		Relation: "Daughter",
		LastMet:  "Yesterday",
		Context:  "Had dinner together, talked about her new job",
	},
	{
		ID:       "demo_002",
		Name:     "Dr. Patel",
		Relation: "Doctor",
		LastMet:  "Last week",
		Context:  "Regular checkup, discussed medication",
	},
	{
		ID:       "demo_003",
		Name:     "Mike",
		Relation: "Neighbor",
		LastMet:  "This morning",
		Context:  "Waved hello, mentioned the weather",
	},
	{
		ID:       "demo_004",
		Name:     "Emma",
		Relation: "Granddaughter",
		LastMet:  "Sunday",
		Context:  "Video call, showed her art project",
	},
}

// SeedDemoIfEmpty inserts the demo identities when the mirror holds no
// people at all. Called after the startup sync so a populated remote store
// always wins over demo data.
func (s *Service) SeedDemoIfEmpty(ctx context.Context) error {
	count, err := s.mirror.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, p := range demoPeople {
		if err := s.mirror.Insert(ctx, p, nil); err != nil {
			return err
		}
	}
	s.logger.Info(ctx, "seeded demo identities", zap.Int("count", len(demoPeople)))
	return nil
}
