// Package calendarview wraps the external calendar collaborator as an
// ordered sequence of events, adding windowed reads and retrying
// transient failures with jittered exponential backoff.
package calendarview

import (
	"context"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// Client is the small capability set the core requires of a calendar
// collaborator. internal/calendarclient supplies the real Google
// Calendar adapter; tests use an in-memory fake.
type Client interface {
	List(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error)
	Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error)
	Delete(ctx context.Context, externalID string) error
}

// View is the C3 component: retrying, ordering wrapper around a Client.
type View struct {
	Client Client
}

// retryBackoff is 3 attempts (the first call plus 2 retries), base 1s,
// factor 2, ±20% jitter.
// go-retry's exponential backoff already doubles each attempt, so only
// the base and jitter need to be configured.
func retryBackoff() retry.Backoff {
	b := retry.NewExponential(1 * time.Second)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(2, b)
}

// withRetry retries fn only when it fails with a TransientExternal error;
// any other classification surfaces immediately.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, retryBackoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if apperrors.IsTransientExternal(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// ListRange returns events in [start, end), ascending by start. Ranges up
// to 90 days are expected by callers but not enforced here.
func (v View) ListRange(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error) {
	var events []calendarevent.Event
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		events, err = v.Client.List(ctx, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

// Upsert creates or updates a planner-owned event, identified by
// ExternalID when known, with transient-failure retry.
func (v View) Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error) {
	var out calendarevent.Event
	err := withRetry(ctx, func(ctx context.Context) error {
		var err error
		out, err = v.Client.Upsert(ctx, event)
		return err
	})
	return out, err
}

// Delete removes an event, with transient-failure retry.
func (v View) Delete(ctx context.Context, externalID string) error {
	return withRetry(ctx, func(ctx context.Context) error {
		return v.Client.Delete(ctx, externalID)
	})
}
