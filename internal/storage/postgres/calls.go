package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fixadev/callwatch/internal/domain"
)

// UpsertCall writes the call and all child rows in one transaction. The
// call row is keyed by (owner_id, customer_call_id); on conflict the row
// is updated in place and keeps its original internal id, and all child
// rows are replaced. Readers never observe a partial write.
func (s *Store) UpsertCall(ctx context.Context, call *domain.Call) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var callID string
	err = tx.QueryRow(ctx, `
		INSERT INTO calls (
			id, owner_id, customer_call_id, agent_id, status, result,
			recording_url, duration_seconds, started_at, ended_at, created_at,
			latency_p50, latency_p90, latency_p95,
			interruption_p50, interruption_p90, interruption_p95,
			num_interruptions, time_to_first_word_ms,
			metadata, group_outcomes
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21
		)
		ON CONFLICT (owner_id, customer_call_id) DO UPDATE SET
			agent_id = EXCLUDED.agent_id,
			status = EXCLUDED.status,
			result = EXCLUDED.result,
			recording_url = EXCLUDED.recording_url,
			duration_seconds = EXCLUDED.duration_seconds,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			latency_p50 = EXCLUDED.latency_p50,
			latency_p90 = EXCLUDED.latency_p90,
			latency_p95 = EXCLUDED.latency_p95,
			interruption_p50 = EXCLUDED.interruption_p50,
			interruption_p90 = EXCLUDED.interruption_p90,
			interruption_p95 = EXCLUDED.interruption_p95,
			num_interruptions = EXCLUDED.num_interruptions,
			time_to_first_word_ms = EXCLUDED.time_to_first_word_ms,
			metadata = EXCLUDED.metadata,
			group_outcomes = EXCLUDED.group_outcomes
		RETURNING id`,
		call.ID, call.OwnerID, call.CustomerCallID, nullable(call.AgentID),
		string(call.Status), string(call.Result),
		call.RecordingURL, call.DurationSeconds,
		call.StartedAt, nullableTime(call.EndedAt), call.CreatedAt,
		call.Stats.LatencyP50, call.Stats.LatencyP90, call.Stats.LatencyP95,
		call.Stats.InterruptionP50, call.Stats.InterruptionP90, call.Stats.InterruptionP95,
		call.Stats.NumInterruptions, call.Stats.TimeToFirstWordMs,
		call.Metadata, call.GroupOutcomes,
	).Scan(&callID)
	if err != nil {
		return fmt.Errorf("upserting call %s: %w", call.CustomerCallID, err)
	}

	// On a re-run the returned id is the original row's; adopt it so the
	// child rows and the caller's view stay consistent.
	call.ID = callID
	for i := range call.EvaluationResults {
		call.EvaluationResults[i].CallID = callID
	}

	for _, table := range []string{"call_segments", "call_latencies", "call_interruptions", "evaluation_results"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE call_id = $1`, table), callID); err != nil {
			return fmt.Errorf("clearing %s for call %s: %w", table, callID, err)
		}
	}

	for _, seg := range call.Segments {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_segments (id, call_id, role, text, seconds_from_start, duration)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			seg.ID, callID, string(seg.Role), seg.Text, seg.SecondsFromStart, seg.Duration)
		if err != nil {
			return fmt.Errorf("inserting segment: %w", err)
		}
	}

	for _, block := range call.Latencies {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_latencies (id, call_id, seconds_from_start, duration)
			VALUES ($1, $2, $3, $4)`,
			block.ID, callID, block.SecondsFromStart, block.Duration)
		if err != nil {
			return fmt.Errorf("inserting latency block: %w", err)
		}
	}

	for _, interruption := range call.Interruptions {
		_, err = tx.Exec(ctx, `
			INSERT INTO call_interruptions (id, call_id, seconds_from_start, duration, text)
			VALUES ($1, $2, $3, $4, $5)`,
			interruption.ID, callID, interruption.SecondsFromStart, interruption.Duration, interruption.Text)
		if err != nil {
			return fmt.Errorf("inserting interruption: %w", err)
		}
	}

	for _, result := range call.EvaluationResults {
		_, err = tx.Exec(ctx, `
			INSERT INTO evaluation_results (id, call_id, criterion_id, success, details, seconds_from_start, duration)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			result.ID, callID, result.CriterionID, result.Success, result.Details,
			result.SecondsFromStart, result.Duration)
		if err != nil {
			return fmt.Errorf("inserting evaluation result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing call upsert: %w", err)
	}
	return nil
}

// LatencyDurationsSince returns the latency-block durations of the
// owner's calls started at or after since. An empty agent list means all
// agents.
func (s *Store) LatencyDurationsSince(ctx context.Context, ownerID string, agentIDs []string, since time.Time) ([]float64, error) {
	if agentIDs == nil {
		agentIDs = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.duration
		FROM call_latencies l
		JOIN calls c ON c.id = l.call_id
		WHERE c.owner_id = $1
		  AND c.started_at >= $2
		  AND (cardinality($3::text[]) = 0 OR c.agent_id = ANY($3))`,
		ownerID, since, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("querying lookback latencies: %w", err)
	}
	defer rows.Close()

	var durations []float64
	for rows.Next() {
		var d float64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scanning latency duration: %w", err)
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
