package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fixadev/callwatch/internal/domain"
)

// CriteriaByOwner returns every evaluation criterion the owner has
// defined, whether or not it is attached to a group.
func (s *Store) CriteriaByOwner(ctx context.Context, ownerID string) ([]domain.EvaluationCriterion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, description, content_type, result_type, is_critical
		FROM evaluation_criteria
		WHERE owner_id = $1
		ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying criteria for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var criteria []domain.EvaluationCriterion
	for rows.Next() {
		var (
			criterion   domain.EvaluationCriterion
			contentType string
			resultType  string
		)
		err := rows.Scan(&criterion.ID, &criterion.OwnerID, &criterion.Name, &criterion.Description,
			&contentType, &resultType, &criterion.IsCritical)
		if err != nil {
			return nil, fmt.Errorf("scanning evaluation criterion: %w", err)
		}
		criterion.ContentType = domain.ContentType(contentType)
		criterion.ResultType = domain.ResultType(resultType)
		criteria = append(criteria, criterion)
	}
	return criteria, rows.Err()
}

// CreateCriteria inserts the given criteria in one batch.
func (s *Store) CreateCriteria(ctx context.Context, criteria []domain.EvaluationCriterion) error {
	if len(criteria) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, criterion := range criteria {
		batch.Queue(`
			INSERT INTO evaluation_criteria (id, owner_id, name, description, content_type, result_type, is_critical)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			criterion.ID, criterion.OwnerID, criterion.Name, criterion.Description,
			string(criterion.ContentType), string(criterion.ResultType), criterion.IsCritical)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range criteria {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting evaluation criteria: %w", err)
		}
	}
	return nil
}
