package core

import (
	"context"
	"errors"

	"powerbot/internal/loop"
	"powerbot/internal/provider"
	"powerbot/internal/schedule"
	"powerbot/internal/store"
	"powerbot/internal/timespec"
)

// Outcome buckets an operation result for the audit trail.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeValidation Outcome = "validation"
	OutcomeTransient  Outcome = "transient"
	OutcomePermanent  Outcome = "permanent"
)

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, timespec.ErrMalformed),
		errors.Is(err, schedule.ErrNonPositiveDuration),
		errors.Is(err, ErrBadHours),
		errors.Is(err, ErrNotControllable):
		return OutcomeValidation
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, provider.ErrTransient),
		errors.Is(err, loop.ErrTickInProgress),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransient
	default:
		return OutcomePermanent
	}
}

// UserMessage turns an operation error into a chat-safe reply. Internal
// detail stays in the logs; the user gets what to do next.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, timespec.ErrMalformed):
		return "I couldn't read that time. Use forms like 9am, 5:30pm or 17:30."
	case errors.Is(err, ErrBadHours):
		return "Pause length must be whole hours, at least 1 (for example: 2h)."
	case errors.Is(err, ErrNotControllable):
		return "That instance is not under scheduler control."
	case errors.Is(err, provider.ErrNotFound):
		return "No such instance."
	case errors.Is(err, provider.ErrDenied):
		return "The cloud API denied that operation. Check the bot's IAM permissions."
	case errors.Is(err, loop.ErrTickInProgress):
		return "An enforcement pass is already running; try again in a moment."
	case errors.Is(err, store.ErrUnavailable),
		errors.Is(err, provider.ErrTransient),
		errors.Is(err, context.DeadlineExceeded):
		return "The backend is temporarily unavailable. Please try again."
	default:
		return "Something went wrong: " + err.Error()
	}
}
