package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fixadev/callwatch/internal/domain"
)

// UpsertAgent returns the owner's agent with the given customer-assigned
// id, creating it on first sight. The insert races are resolved by the
// unique (owner_id, customer_agent_id) constraint.
func (s *Store) UpsertAgent(ctx context.Context, ownerID, customerAgentID string) (domain.Agent, error) {
	var agent domain.Agent
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, owner_id, customer_agent_id, name)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (owner_id, customer_agent_id) DO UPDATE SET
			customer_agent_id = EXCLUDED.customer_agent_id
		RETURNING id, owner_id, customer_agent_id, name`,
		uuid.NewString(), ownerID, customerAgentID,
	).Scan(&agent.ID, &agent.OwnerID, &agent.CustomerAgentID, &agent.Name)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("upserting agent %s: %w", customerAgentID, err)
	}
	return agent, nil
}
