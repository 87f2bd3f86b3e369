// Package audit persists the immutable decision log every planner and
// reconciler action is recorded in.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wellforge/fitcadence/internal/domain/plan"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// timeLayout is fixed-width (nine fractional digits, always UTC) so the
// stored text sorts and compares in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed AuditStore collaborator.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over an open database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append persists one audit action. Actions are never updated or deleted.
func (s *Store) Append(ctx context.Context, action plan.AuditAction) error {
	sources, err := json.Marshal(action.DataSources)
	if err != nil {
		return apperrors.NewInternal("failed to marshal data sources", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_actions (
			id, timestamp, agent, action_type, reason, confidence,
			before_state, after_state, reasoning, data_sources,
			executed, degraded, multi_candidate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(),
		action.Timestamp.UTC().Format(timeLayout),
		action.Agent,
		string(action.Action),
		string(action.Reason),
		action.Confidence,
		action.BeforeState,
		action.AfterState,
		action.Reasoning,
		string(sources),
		boolToInt(action.Executed),
		boolToInt(action.Degraded),
		boolToInt(action.MultiCandidate),
	)
	if err != nil {
		return apperrors.NewIntegrity("failed to append audit action", err)
	}
	return nil
}

// ListSince returns actions with timestamp >= since, ascending by
// timestamp. Used by tests asserting the ordered-audit invariant.
func (s *Store) ListSince(ctx context.Context, since time.Time) ([]plan.AuditAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, agent, action_type, reason, confidence,
			before_state, after_state, reasoning, data_sources,
			executed, degraded, multi_candidate
		FROM audit_actions
		WHERE timestamp >= ?
		ORDER BY timestamp ASC`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, apperrors.NewInternal("failed to query audit actions", err)
	}
	defer rows.Close()

	var out []plan.AuditAction
	for rows.Next() {
		var (
			a                         plan.AuditAction
			ts, action, reason, srcs  string
			executed, degraded, multi int
		)
		if err := rows.Scan(&ts, &a.Agent, &action, &reason, &a.Confidence,
			&a.BeforeState, &a.AfterState, &a.Reasoning, &srcs,
			&executed, &degraded, &multi); err != nil {
			return nil, apperrors.NewInternal("failed to scan audit action", err)
		}
		if a.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, apperrors.NewIntegrity("unparseable audit timestamp", err)
		}
		a.Action = plan.ActionType(action)
		a.Reason = plan.Reason(reason)
		if err := json.Unmarshal([]byte(srcs), &a.DataSources); err != nil {
			return nil, apperrors.NewIntegrity("unparseable audit data sources", err)
		}
		a.Executed = executed != 0
		a.Degraded = degraded != 0
		a.MultiCandidate = multi != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
