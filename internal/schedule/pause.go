package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNonPositiveDuration rejects pause requests below the one hour minimum.
var ErrNonPositiveDuration = errors.New("pause duration must be at least 1 hour")

// PauseStore is the slice of the persistence layer the pause controller
// needs. The concrete store satisfies it.
type PauseStore interface {
	GetPause(ctx context.Context, id string) (*Pause, error)
	SetPause(ctx context.Context, id string, until time.Time) error
	ClearPause(ctx context.Context, id string) error
}

// PauseController manages temporary suspension of schedule enforcement.
type PauseController struct {
	store PauseStore
}

func NewPauseController(store PauseStore) *PauseController {
	return &PauseController{store: store}
}

// PauseFor suspends enforcement for the given number of whole hours starting
// at now, and returns the computed expiry for display to the user.
func (c *PauseController) PauseFor(ctx context.Context, id string, hours uint, now time.Time) (time.Time, error) {
	if hours == 0 {
		return time.Time{}, ErrNonPositiveDuration
	}
	until := now.Add(time.Duration(hours) * time.Hour)
	if err := c.store.SetPause(ctx, id, until); err != nil {
		return time.Time{}, fmt.Errorf("persist pause for %s: %w", id, err)
	}
	return until, nil
}

// Cancel removes any pause. Cancelling an absent pause is not an error.
func (c *PauseController) Cancel(ctx context.Context, id string) error {
	return c.store.ClearPause(ctx, id)
}

// IsPaused applies the lazy-expiry rule: a pause whose Until has elapsed
// counts as absent. An expired record found here is cleared opportunistically;
// that cleanup is best-effort since Decide applies the same rule on its own.
func (c *PauseController) IsPaused(ctx context.Context, id string, now time.Time) (bool, error) {
	p, err := c.store.GetPause(ctx, id)
	if err != nil {
		return false, err
	}
	if p == nil {
		return false, nil
	}
	if p.Expired(now) {
		_ = c.store.ClearPause(ctx, id)
		return false, nil
	}
	return true, nil
}
