package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_both_accepted_derived",
			SQL: `SELECT id FROM conversations
                  WHERE both_accepted <> (cardinality(job_accepted_by) = 2)`,
		},
		{
			Name: "O2_job_completed_derived",
			SQL: `SELECT id FROM conversations
                  WHERE job_completed <> (cardinality(job_finished_by) = 2)`,
		},
		{
			Name: "O3_finish_after_acceptance",
			SQL: `SELECT id FROM conversations
                  WHERE cardinality(job_finished_by) > 0 AND NOT both_accepted`,
		},
		{
			Name: "O4_flags_from_participants",
			SQL: `SELECT id FROM conversations
                  WHERE NOT (job_accepted_by <@ ARRAY[participant_a, participant_b])
                     OR NOT (job_finished_by <@ ARRAY[participant_a, participant_b])`,
		},
		{
			Name: "O5_flags_unique",
			SQL: `SELECT id FROM conversations c
                  WHERE cardinality(c.job_accepted_by) <> (SELECT COUNT(DISTINCT x) FROM unnest(c.job_accepted_by) x)
                     OR cardinality(c.job_finished_by) <> (SELECT COUNT(DISTINCT x) FROM unnest(c.job_finished_by) x)`,
		},
		{
			Name: "O6_summary_is_latest_message",
			SQL: `SELECT c.id, c.last_message_at, m.latest FROM conversations c
                  JOIN LATERAL (
                      SELECT MAX(created_at) AS latest FROM messages
                      WHERE conversation_id = c.id
                  ) m ON m.latest IS NOT NULL
                  WHERE c.last_message_at <> m.latest
                     OR NOT EXISTS (
                         SELECT 1 FROM messages
                         WHERE conversation_id = c.id AND created_at = m.latest AND body = c.last_message)`,
		},
		{
			Name: "O7_revision_matches_audit",
			SQL: `SELECT c.id, c.revision, COUNT(DISTINCT e.revision) FROM conversations c
                  LEFT JOIN conversation_events e ON e.conversation_id = c.id
                  GROUP BY c.id, c.revision
                  HAVING c.revision <> COUNT(DISTINCT e.revision)`,
		},
		{
			Name: "O8_single_completion_event",
			SQL: `SELECT conversation_id FROM conversation_events
                  WHERE type = 'JOB_COMPLETED'
                  GROUP BY conversation_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O9_review_after_completion",
			SQL: `SELECT r.conversation_id, r.reviewer_id FROM reviews r
                  JOIN conversations c ON c.id = r.conversation_id
                  WHERE NOT c.job_completed
                     OR r.reviewee_id NOT IN (c.participant_a, c.participant_b)
                     OR r.reviewer_id NOT IN (c.participant_a, c.participant_b)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
