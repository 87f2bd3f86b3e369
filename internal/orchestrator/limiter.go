package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wellforge/fitcadence/internal/calendarview"
	"github.com/wellforge/fitcadence/internal/domain/calendarevent"
	apperrors "github.com/wellforge/fitcadence/internal/errors"
)

// mutationLimiter enforces the per-cycle calendar mutation budget. Reads
// pass through; once the budget is spent, every further Upsert or Delete
// fails with the mutation-budget category so callers buffer the decision
// as an unexecuted audit entry instead of applying it. Safe for
// concurrent use by the planner's bounded LM fan-out.
type mutationLimiter struct {
	view calendarview.View

	mu     sync.Mutex
	budget int
	spent  int
}

func newMutationLimiter(view calendarview.View, budget int) *mutationLimiter {
	return &mutationLimiter{view: view, budget: budget}
}

// take reserves one mutation from the budget.
func (l *mutationLimiter) take() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spent >= l.budget {
		return apperrors.NewMutationBudget(fmt.Sprintf("mutation budget of %d spent this cycle", l.budget))
	}
	l.spent++
	return nil
}

func (l *mutationLimiter) ListRange(ctx context.Context, start, end time.Time) ([]calendarevent.Event, error) {
	return l.view.ListRange(ctx, start, end)
}

func (l *mutationLimiter) Upsert(ctx context.Context, event calendarevent.Event) (calendarevent.Event, error) {
	if err := l.take(); err != nil {
		return calendarevent.Event{}, err
	}
	return l.view.Upsert(ctx, event)
}

func (l *mutationLimiter) Delete(ctx context.Context, externalID string) error {
	if err := l.take(); err != nil {
		return err
	}
	return l.view.Delete(ctx, externalID)
}
