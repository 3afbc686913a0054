package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fixadev/callwatch/internal/domain"
)

// alertDetails is the jsonb payload stored on an alert row. Latency and
// eval-set alerts share the column; only the fields for the alert's type
// are populated.
type alertDetails struct {
	Percentile       string  `json:"percentile,omitempty"`
	ThresholdMs      float64 `json:"thresholdMs,omitempty"`
	LookbackMs       int64   `json:"lookbackMs,omitempty"`
	CooldownMs       int64   `json:"cooldownMs,omitempty"`
	EvalSetID        string  `json:"evalSetId,omitempty"`
	TriggerOnSuccess *bool   `json:"trigger,omitempty"`
}

// SavedSearchesByOwner loads the owner's saved searches with their
// evaluation groups, criteria, and alerts fully assembled.
func (s *Store) SavedSearchesByOwner(ctx context.Context, ownerID string) ([]domain.SavedSearch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, agent_ids, metadata
		FROM saved_searches
		WHERE owner_id = $1
		ORDER BY id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying saved searches: %w", err)
	}
	defer rows.Close()

	var searches []domain.SavedSearch
	for rows.Next() {
		var (
			search      domain.SavedSearch
			agentIDs    []string
			metadataRaw []byte
		)
		if err := rows.Scan(&search.ID, &search.OwnerID, &search.Name, &agentIDs, &metadataRaw); err != nil {
			return nil, fmt.Errorf("scanning saved search: %w", err)
		}
		search.AgentIDs = agentIDs
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &search.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for search %s: %w", search.ID, err)
			}
		}
		searches = append(searches, search)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range searches {
		groups, err := s.groupsForSearch(ctx, searches[i].ID)
		if err != nil {
			return nil, err
		}
		searches[i].Groups = groups

		alerts, err := s.alertsForSearch(ctx, searches[i].ID)
		if err != nil {
			return nil, err
		}
		searches[i].Alerts = alerts
	}
	return searches, nil
}

// MarkAlertFired records the alert's last firing time for cooldown
// bookkeeping.
func (s *Store) MarkAlertFired(ctx context.Context, alertID string, firedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET last_fired_at = $2 WHERE id = $1`, alertID, firedAt)
	if err != nil {
		return fmt.Errorf("marking alert %s fired: %w", alertID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking alert %s fired: no such alert", alertID)
	}
	return nil
}

func (s *Store) groupsForSearch(ctx context.Context, searchID string) ([]domain.EvaluationGroup, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT g.id, g.owner_id, g.name, g.condition, g.enabled
		FROM evaluation_groups g
		JOIN saved_search_groups sg ON sg.group_id = g.id
		WHERE sg.search_id = $1
		ORDER BY g.id`, searchID)
	if err != nil {
		return nil, fmt.Errorf("querying groups for search %s: %w", searchID, err)
	}
	defer rows.Close()

	var groups []domain.EvaluationGroup
	for rows.Next() {
		var group domain.EvaluationGroup
		if err := rows.Scan(&group.ID, &group.OwnerID, &group.Name, &group.Condition, &group.Enabled); err != nil {
			return nil, fmt.Errorf("scanning evaluation group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		criteria, err := s.criteriaForGroup(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Criteria = criteria
	}
	return groups, nil
}

func (s *Store) criteriaForGroup(ctx context.Context, groupID string) ([]domain.EvaluationCriterion, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.owner_id, c.name, c.description, c.content_type, c.result_type, c.is_critical
		FROM evaluation_criteria c
		JOIN group_criteria gc ON gc.criterion_id = c.id
		WHERE gc.group_id = $1
		ORDER BY c.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("querying criteria for group %s: %w", groupID, err)
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

func (s *Store) alertsForSearch(ctx context.Context, searchID string) ([]domain.Alert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, search_id, name, type, enabled, webhook_url, last_fired_at, details
		FROM alerts
		WHERE search_id = $1
		ORDER BY id`, searchID)
	if err != nil {
		return nil, fmt.Errorf("querying alerts for search %s: %w", searchID, err)
	}
	defer rows.Close()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			alert       domain.Alert
			alertType   string
			lastFiredAt *time.Time
			detailsRaw  []byte
		)
		err := rows.Scan(&alert.ID, &alert.OwnerID, &alert.SavedSearchID, &alert.Name,
			&alertType, &alert.Enabled, &alert.WebhookURL, &lastFiredAt, &detailsRaw)
		if err != nil {
			return nil, fmt.Errorf("scanning alert: %w", err)
		}
		alert.Type = domain.AlertType(alertType)
		if lastFiredAt != nil {
			alert.LastFiredAt = *lastFiredAt
		}

		var details alertDetails
		if len(detailsRaw) > 0 {
			if err := json.Unmarshal(detailsRaw, &details); err != nil {
				return nil, fmt.Errorf("decoding details for alert %s: %w", alert.ID, err)
			}
		}
		switch alert.Type {
		case domain.AlertTypeLatency:
			alert.Latency = &domain.LatencyAlertDetails{
				Percentile:  domain.Percentile(details.Percentile),
				ThresholdMs: details.ThresholdMs,
				Lookback:    time.Duration(details.LookbackMs) * time.Millisecond,
				Cooldown:    time.Duration(details.CooldownMs) * time.Millisecond,
			}
		case domain.AlertTypeEvalSet:
			trigger := false
			if details.TriggerOnSuccess != nil {
				trigger = *details.TriggerOnSuccess
			}
			alert.EvalSet = &domain.EvalSetAlertDetails{
				GroupID:          details.EvalSetID,
				TriggerOnSuccess: trigger,
			}
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}
