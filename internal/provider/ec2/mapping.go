package ec2

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"powerbot/internal/provider"
)

// mapStateName normalizes EC2 lifecycle state names onto the small PowerState
// enum. Terminated instances map to unknown: they can never be started again,
// so the scheduler must keep its hands off rather than treat them as stopped.
func mapStateName(name string) provider.PowerState {
	switch name {
	case "pending":
		return provider.StatePending
	case "running":
		return provider.StateRunning
	case "stopping", "shutting-down":
		return provider.StateStopping
	case "stopped":
		return provider.StateStopped
	default:
		return provider.StateUnknown
	}
}

// mapErr folds AWS API failures onto the provider's sentinel errors so upper
// layers can classify without knowing EC2 error codes.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch classifyCode(apiErr.ErrorCode()) {
		case provider.ErrNotFound:
			return fmt.Errorf("%w: %v", provider.ErrNotFound, err)
		case provider.ErrDenied:
			return fmt.Errorf("%w: %v", provider.ErrDenied, err)
		case provider.ErrTransient:
			return fmt.Errorf("%w: %v", provider.ErrTransient, err)
		}
	}
	return err
}

func classifyCode(code string) error {
	switch code {
	case "InvalidInstanceID.NotFound", "InvalidInstanceID.Malformed":
		return provider.ErrNotFound
	case "UnauthorizedOperation", "OperationNotPermitted", "AuthFailure":
		return provider.ErrDenied
	case "RequestLimitExceeded", "Throttling", "ThrottlingException",
		"ServiceUnavailable", "InternalError", "RequestExpired", "Unavailable":
		return provider.ErrTransient
	default:
		return nil
	}
}
