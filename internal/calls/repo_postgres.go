package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dealsense/pkg/utils"

	"github.com/google/uuid"
)

// PostgresRepo is the durable Repository backed by Postgres (pgx stdlib).
//
// NOTE: This repository assumes the following tables exist:
// - calls
// - transcript_chunks
// - call_summaries (UNIQUE (call_id))
// - action_items
//
// key_points, pain_points and objections are stored as JSONB columns.
type PostgresRepo struct {
	db *sql.DB

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) CreateCall(ctx context.Context, call Call) (Call, bool, error) {
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.AccountName == "" {
		return Call{}, false, ErrInvalidArgument
	}

	now := r.clock().UTC()
	if call.StartedAt.IsZero() {
		call.StartedAt = now
	}

	// Idempotent start: insert-or-return-existing without racing.
	const q = `
INSERT INTO calls (id, deal_id, account_name, contact_name, status, started_at, duration_seconds, recording_url, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $8)
ON CONFLICT (id) DO NOTHING
`
	res, err := r.db.ExecContext(ctx, q,
		call.ID, call.DealID, call.AccountName, call.ContactName,
		CallStatusInProgress, call.StartedAt, call.RecordingURL, now,
	)
	if err != nil {
		return Call{}, false, fmt.Errorf("create call: %w", err)
	}
	inserted, _ := res.RowsAffected()

	out, err := r.GetCall(ctx, call.ID)
	if err != nil {
		return Call{}, false, err
	}
	return out, inserted > 0, nil
}

func (r *PostgresRepo) GetCall(ctx context.Context, callID string) (Call, error) {
	const q = `
SELECT id, deal_id, account_name, contact_name, status, started_at, ended_at, duration_seconds, recording_url, created_at, updated_at
FROM calls
WHERE id = $1
`
	var c Call
	if err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&c.ID, &c.DealID, &c.AccountName, &c.ContactName, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.RecordingURL,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ListCallsByDeal(ctx context.Context, dealID int) ([]Call, error) {
	const q = `
SELECT id, deal_id, account_name, contact_name, status, started_at, ended_at, duration_seconds, recording_url, created_at, updated_at
FROM calls
WHERE deal_id = $1
ORDER BY started_at
`
	rows, err := r.db.QueryContext(ctx, q, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		var c Call
		if err := rows.Scan(
			&c.ID, &c.DealID, &c.AccountName, &c.ContactName, &c.Status,
			&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.RecordingURL,
			&c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) EndCall(ctx context.Context, callID string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		call, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		switch call.Status {
		case CallStatusEnded, CallStatusSummarized:
			out = call
			return nil
		case CallStatusError:
			return ErrTerminalState
		}

		endedAt := r.clock().UTC()
		dur := int(endedAt.Sub(call.StartedAt).Seconds())
		if dur < 0 {
			dur = 0
		}
		const q = `
UPDATE calls
SET status = $2, ended_at = $3, duration_seconds = $4, updated_at = $3
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q, callID, CallStatusEnded, endedAt, dur); err != nil {
			return err
		}
		call.Status = CallStatusEnded
		call.EndedAt = &endedAt
		call.DurationSeconds = dur
		call.UpdatedAt = endedAt
		out = call
		return nil
	})
	return out, err
}

func (r *PostgresRepo) SetCallSummarized(ctx context.Context, callID string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		call, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if call.Status == CallStatusSummarized {
			out = call
			return nil
		}
		if call.Status != CallStatusEnded {
			return ErrTerminalState
		}
		now := r.clock().UTC()
		const q = `UPDATE calls SET status = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, q, callID, CallStatusSummarized, now); err != nil {
			return err
		}
		call.Status = CallStatusSummarized
		call.UpdatedAt = now
		out = call
		return nil
	})
	return out, err
}

func (r *PostgresRepo) MarkCallError(ctx context.Context, callID string) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		call, err := lockCall(ctx, tx, callID)
		if err != nil {
			return err
		}
		if call.Status.Terminal() {
			out = call
			return nil
		}
		now := r.clock().UTC()
		const q = `
UPDATE calls
SET status = $2, ended_at = COALESCE(ended_at, $3), updated_at = $3
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q, callID, CallStatusError, now); err != nil {
			return err
		}
		call.Status = CallStatusError
		if call.EndedAt == nil {
			call.EndedAt = &now
		}
		call.UpdatedAt = now
		out = call
		return nil
	})
	return out, err
}

func (r *PostgresRepo) PurgeCall(ctx context.Context, callID string) error {
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM calls WHERE id = $1`, callID)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		// Cascade explicitly; do not rely on FK ON DELETE settings.
		for _, q := range []string{
			`DELETE FROM transcript_chunks WHERE call_id = $1`,
			`DELETE FROM call_summaries WHERE call_id = $1`,
			`DELETE FROM action_items WHERE call_id = $1`,
		} {
			if _, err := tx.ExecContext(ctx, q, callID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *PostgresRepo) AddTranscriptChunk(ctx context.Context, chunk TranscriptChunk) (TranscriptChunk, error) {
	if chunk.CallID == "" || chunk.Text == "" || chunk.End < chunk.Start {
		return TranscriptChunk{}, ErrInvalidArgument
	}
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	chunk.CreatedAt = r.clock().UTC()

	const q = `
INSERT INTO transcript_chunks (id, call_id, speaker, text, start_time, end_time, confidence, is_final, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	if _, err := r.db.ExecContext(ctx, q,
		chunk.ID, chunk.CallID, chunk.Speaker, chunk.Text,
		chunk.Start, chunk.End, chunk.Confidence, chunk.IsFinal, chunk.CreatedAt,
	); err != nil {
		return TranscriptChunk{}, fmt.Errorf("add transcript chunk: %w", err)
	}
	return chunk, nil
}

func (r *PostgresRepo) GetTranscript(ctx context.Context, callID string, from, to float64) ([]TranscriptChunk, error) {
	const q = `
SELECT id, call_id, speaker, text, start_time, end_time, confidence, is_final, created_at
FROM transcript_chunks
WHERE call_id = $1
  AND is_final = TRUE
  AND ($2 < 0 OR start_time >= $2)
  AND ($3 < 0 OR end_time <= $3)
ORDER BY start_time
`
	rows, err := r.db.QueryContext(ctx, q, callID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TranscriptChunk, 0)
	for rows.Next() {
		var c TranscriptChunk
		if err := rows.Scan(
			&c.ID, &c.CallID, &c.Speaker, &c.Text,
			&c.Start, &c.End, &c.Confidence, &c.IsFinal, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) FullTranscriptText(ctx context.Context, callID string) (string, error) {
	chunks, err := r.GetTranscript(ctx, callID, -1, -1)
	if err != nil {
		return "", err
	}
	return JoinLines(chunks), nil
}

func (r *PostgresRepo) UpsertSummary(ctx context.Context, summary CallSummary) (CallSummary, error) {
	if summary.CallID == "" {
		return CallSummary{}, ErrInvalidArgument
	}
	if summary.ID == "" {
		summary.ID = uuid.NewString()
	}
	now := r.clock().UTC()
	summary.GeneratedAt = now

	keyPoints, err := json.Marshal(summary.KeyPoints)
	if err != nil {
		return CallSummary{}, err
	}
	painPoints, err := json.Marshal(summary.PainPoints)
	if err != nil {
		return CallSummary{}, err
	}
	objections, err := json.Marshal(summary.Objections)
	if err != nil {
		return CallSummary{}, err
	}

	// Latest wins; the original row keeps its id and created_at.
	const q = `
INSERT INTO call_summaries (id, call_id, executive_summary, key_points, pain_points, objections, next_steps, deal_health_score, deal_health_reason, generated_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (call_id) DO UPDATE SET
    executive_summary = EXCLUDED.executive_summary,
    key_points = EXCLUDED.key_points,
    pain_points = EXCLUDED.pain_points,
    objections = EXCLUDED.objections,
    next_steps = EXCLUDED.next_steps,
    deal_health_score = EXCLUDED.deal_health_score,
    deal_health_reason = EXCLUDED.deal_health_reason,
    generated_at = EXCLUDED.generated_at
`
	if _, err := r.db.ExecContext(ctx, q,
		summary.ID, summary.CallID, summary.ExecutiveSummary,
		keyPoints, painPoints, objections, summary.NextSteps,
		summary.DealHealthScore, summary.DealHealthReason, now,
	); err != nil {
		return CallSummary{}, fmt.Errorf("upsert summary: %w", err)
	}
	return r.GetSummary(ctx, summary.CallID)
}

func (r *PostgresRepo) GetSummary(ctx context.Context, callID string) (CallSummary, error) {
	const q = `
SELECT id, call_id, executive_summary, key_points, pain_points, objections, next_steps, deal_health_score, deal_health_reason, generated_at, created_at
FROM call_summaries
WHERE call_id = $1
`
	var s CallSummary
	var keyPoints, painPoints, objections []byte
	if err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&s.ID, &s.CallID, &s.ExecutiveSummary, &keyPoints, &painPoints,
		&objections, &s.NextSteps, &s.DealHealthScore, &s.DealHealthReason,
		&s.GeneratedAt, &s.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSummary{}, ErrNotFound
		}
		return CallSummary{}, err
	}
	if err := json.Unmarshal(keyPoints, &s.KeyPoints); err != nil {
		return CallSummary{}, err
	}
	if err := json.Unmarshal(painPoints, &s.PainPoints); err != nil {
		return CallSummary{}, err
	}
	if err := json.Unmarshal(objections, &s.Objections); err != nil {
		return CallSummary{}, err
	}
	return s, nil
}

func (r *PostgresRepo) CreateActionItems(ctx context.Context, items []ActionItem) ([]ActionItem, error) {
	out := make([]ActionItem, 0, len(items))
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		now := r.clock().UTC()
		const q = `
INSERT INTO action_items (id, call_id, task, owner, due_date, priority, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $8)
`
		for _, item := range items {
			if item.CallID == "" || item.Task == "" {
				return ErrInvalidArgument
			}
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			if !ValidPriority(item.Priority) {
				item.Priority = PriorityMedium
			}
			if !ValidItemStatus(item.Status) {
				item.Status = ItemStatusPending
			}
			item.CreatedAt = now
			item.UpdatedAt = now
			if _, err := tx.ExecContext(ctx, q,
				item.ID, item.CallID, item.Task, item.Owner.String(),
				item.DueDate, item.Priority, item.Status, now,
			); err != nil {
				return fmt.Errorf("create action item: %w", err)
			}
			out = append(out, item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) ListActionItems(ctx context.Context, callID string) ([]ActionItem, error) {
	const q = `
SELECT id, call_id, task, owner, COALESCE(due_date::text, ''), priority, status, created_at, updated_at
FROM action_items
WHERE call_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ActionItem, 0)
	for rows.Next() {
		item, err := scanActionItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetActionItem(ctx context.Context, itemID string) (ActionItem, error) {
	const q = `
SELECT id, call_id, task, owner, COALESCE(due_date::text, ''), priority, status, created_at, updated_at
FROM action_items
WHERE id = $1
`
	row := r.db.QueryRowContext(ctx, q, itemID)
	item, err := scanActionItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ActionItem{}, ErrNotFound
		}
		return ActionItem{}, err
	}
	return item, nil
}

func (r *PostgresRepo) UpdateActionItem(ctx context.Context, itemID string, update ActionItemUpdate) (ActionItem, error) {
	var out ActionItem
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		const get = `
SELECT id, call_id, task, owner, COALESCE(due_date::text, ''), priority, status, created_at, updated_at
FROM action_items
WHERE id = $1
FOR UPDATE
`
		item, err := scanActionItem(tx.QueryRowContext(ctx, get, itemID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if update.Task != nil {
			if *update.Task == "" {
				return ErrInvalidArgument
			}
			item.Task = *update.Task
		}
		if update.Owner != nil {
			item.Owner = *update.Owner
		}
		if update.DueDate != nil {
			item.DueDate = *update.DueDate
		}
		if update.Priority != nil {
			if !ValidPriority(*update.Priority) {
				return ErrInvalidArgument
			}
			item.Priority = *update.Priority
		}
		if update.Status != nil {
			if !ValidItemStatus(*update.Status) {
				return ErrInvalidArgument
			}
			item.Status = *update.Status
		}
		item.UpdatedAt = r.clock().UTC()

		const q = `
UPDATE action_items
SET task = $2, owner = $3, due_date = NULLIF($4, '')::date, priority = $5, status = $6, updated_at = $7
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, q,
			item.ID, item.Task, item.Owner.String(), item.DueDate,
			item.Priority, item.Status, item.UpdatedAt,
		); err != nil {
			return err
		}
		out = item
		return nil
	})
	return out, err
}

func lockCall(ctx context.Context, tx *sql.Tx, callID string) (Call, error) {
	// Lock the call row to serialize concurrent state transitions per call.
	const q = `
SELECT id, deal_id, account_name, contact_name, status, started_at, ended_at, duration_seconds, recording_url, created_at, updated_at
FROM calls
WHERE id = $1
FOR UPDATE
`
	var c Call
	if err := tx.QueryRowContext(ctx, q, callID).Scan(
		&c.ID, &c.DealID, &c.AccountName, &c.ContactName, &c.Status,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &c.RecordingURL,
		&c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActionItem(row rowScanner) (ActionItem, error) {
	var item ActionItem
	var owner string
	if err := row.Scan(
		&item.ID, &item.CallID, &item.Task, &owner, &item.DueDate,
		&item.Priority, &item.Status, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return ActionItem{}, err
	}
	item.Owner = ParseOwner(owner)
	return item, nil
}
