// Package store provides the SQLite-backed persistence collaborators:
// idempotent upserts of health samples and activities, the local mirror
// of calendar events, and the windowed reads the planner and reconciler
// consume. Each operation is its own short transaction; there are no
// cross-call transactions.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	"github.com/wellforge/fitcadence/internal/domain/health"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// timeLayout is the canonical column encoding for timestamps. RFC 3339
// sorts lexicographically within a single zone, which the windowed reads
// rely on.
const timeLayout = time.RFC3339

// HealthStore persists and reads wearable data.
type HealthStore struct {
	db *sql.DB
}

// NewHealthStore creates a HealthStore over an open database.
func NewHealthStore(db *sql.DB) *HealthStore {
	return &HealthStore{db: db}
}

// UpsertSample inserts a health sample, treating a duplicate
// (timestamp, source) key as an idempotent no-op. Returns inserted=false
// for the duplicate case so the caller can record skip_duplicate.
func (s *HealthStore) UpsertSample(ctx context.Context, sample health.Sample) (bool, error) {
	payload, err := marshalPayload(sample.RawPayload)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO health_samples (
			id, timestamp, source, sleep_duration_hours, sleep_quality_score,
			resting_hr, hrv_score, stress_level, recovery_score, steps, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (timestamp, source) DO NOTHING`,
		uuid.NewString(),
		sample.Timestamp.UTC().Format(timeLayout),
		sample.Source,
		sample.SleepDurationHrs,
		sample.SleepQualityScore,
		sample.RestingHR,
		sample.HRVScore,
		sample.StressLevel,
		sample.RecoveryScore,
		sample.Steps,
		payload,
	)
	if err != nil {
		return false, apperrors.NewIntegrity("failed to insert health sample", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternal("failed to read rows affected", err)
	}
	return n > 0, nil
}

// UpsertActivity inserts an activity, treating a duplicate
// (timestamp, discipline) key as an idempotent no-op.
func (s *HealthStore) UpsertActivity(ctx context.Context, a health.Activity) (bool, error) {
	payload, err := marshalPayload(a.RawPayload)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (
			id, timestamp, discipline, duration_minutes, distance_km,
			avg_hr, training_load, perceived_exertion, calories, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (timestamp, discipline) DO NOTHING`,
		uuid.NewString(),
		a.Timestamp.UTC().Format(timeLayout),
		string(a.Discipline),
		a.DurationMinutes,
		a.DistanceKM,
		a.AvgHR,
		a.TrainingLoad,
		a.PerceivedExertion,
		a.Calories,
		payload,
	)
	if err != nil {
		return false, apperrors.NewIntegrity("failed to insert activity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.NewInternal("failed to read rows affected", err)
	}
	return n > 0, nil
}

// SamplesBefore returns samples with timestamp < before, looking back at
// most lookback, ascending by timestamp.
func (s *HealthStore) SamplesBefore(ctx context.Context, before time.Time, lookback time.Duration) ([]health.Sample, error) {
	from := before.Add(-lookback)
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, source, sleep_duration_hours, sleep_quality_score,
			resting_hr, hrv_score, stress_level, recovery_score, steps, raw_payload
		FROM health_samples
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		from.UTC().Format(timeLayout),
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, apperrors.NewInternal("failed to query health samples", err)
	}
	defer rows.Close()

	var out []health.Sample
	for rows.Next() {
		var (
			sample  health.Sample
			ts      string
			payload string
		)
		if err := rows.Scan(&ts, &sample.Source, &sample.SleepDurationHrs, &sample.SleepQualityScore,
			&sample.RestingHR, &sample.HRVScore, &sample.StressLevel, &sample.RecoveryScore,
			&sample.Steps, &payload); err != nil {
			return nil, apperrors.NewInternal("failed to scan health sample", err)
		}
		if sample.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, apperrors.NewIntegrity(fmt.Sprintf("unparseable sample timestamp %q", ts), err)
		}
		if err := unmarshalPayload(payload, &sample.RawPayload); err != nil {
			return nil, err
		}
		out = append(out, sample)
	}
	return out, rows.Err()
}

// ActivitiesIn returns activities with timestamp in [start, end),
// ascending by timestamp.
func (s *HealthStore) ActivitiesIn(ctx context.Context, start, end time.Time) ([]health.Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, discipline, duration_minutes, distance_km,
			avg_hr, training_load, perceived_exertion, calories, raw_payload
		FROM activities
		WHERE timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`,
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, apperrors.NewInternal("failed to query activities", err)
	}
	defer rows.Close()

	var out []health.Activity
	for rows.Next() {
		var (
			a          health.Activity
			ts         string
			discipline string
			payload    string
		)
		if err := rows.Scan(&ts, &discipline, &a.DurationMinutes, &a.DistanceKM,
			&a.AvgHR, &a.TrainingLoad, &a.PerceivedExertion, &a.Calories, &payload); err != nil {
			return nil, apperrors.NewInternal("failed to scan activity", err)
		}
		if a.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, apperrors.NewIntegrity(fmt.Sprintf("unparseable activity timestamp %q", ts), err)
		}
		a.Discipline = health.Discipline(discipline)
		if err := unmarshalPayload(payload, &a.RawPayload); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CalendarMirror persists a local copy of remote calendar events, written
// by the import-calendar ingestion collaborator.
type CalendarMirror struct {
	db *sql.DB
}

// NewCalendarMirror creates a CalendarMirror over an open database.
func NewCalendarMirror(db *sql.DB) *CalendarMirror {
	return &CalendarMirror{db: db}
}

// UpsertEvent inserts or replaces the mirrored copy of a remote event.
func (m *CalendarMirror) UpsertEvent(ctx context.Context, e calendarevent.Event) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return apperrors.NewInternal("failed to marshal event tags", err)
	}
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO calendar_events (external_id, summary, description, start_at, end_at, tags, origin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			summary = excluded.summary,
			description = excluded.description,
			start_at = excluded.start_at,
			end_at = excluded.end_at,
			tags = excluded.tags,
			origin = excluded.origin`,
		e.ExternalID,
		e.Summary,
		e.Description,
		e.Start.UTC().Format(timeLayout),
		e.End.UTC().Format(timeLayout),
		string(tags),
		string(e.Origin),
	)
	if err != nil {
		return apperrors.NewIntegrity("failed to upsert calendar event", err)
	}
	return nil
}

// EventsIn returns mirrored events with start in [start, end), ascending.
func (m *CalendarMirror) EventsIn(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT external_id, summary, description, start_at, end_at, tags, origin
		FROM calendar_events
		WHERE start_at >= ? AND start_at < ?
		ORDER BY start_at ASC`,
		start.UTC().Format(timeLayout),
		end.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, apperrors.NewInternal("failed to query calendar events", err)
	}
	defer rows.Close()

	var out []calendarevent.Event
	for rows.Next() {
		var (
			e              calendarevent.Event
			startAt, endAt string
			tags, origin   string
		)
		if err := rows.Scan(&e.ExternalID, &e.Summary, &e.Description, &startAt, &endAt, &tags, &origin); err != nil {
			return nil, apperrors.NewInternal("failed to scan calendar event", err)
		}
		if e.Start, err = time.Parse(timeLayout, startAt); err != nil {
			return nil, apperrors.NewIntegrity(fmt.Sprintf("unparseable event start %q", startAt), err)
		}
		if e.End, err = time.Parse(timeLayout, endAt); err != nil {
			return nil, apperrors.NewIntegrity(fmt.Sprintf("unparseable event end %q", endAt), err)
		}
		if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
			return nil, apperrors.NewIntegrity("unparseable event tags", err)
		}
		e.Origin = calendarevent.Origin(origin)
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.NewInternal("failed to marshal raw payload", err)
	}
	return string(raw), nil
}

func unmarshalPayload(raw string, into *map[string]any) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), into); err != nil {
		return apperrors.NewIntegrity("unparseable raw payload", err)
	}
	return nil
}
