// Package publish defines the contract between the scheduler and the
// per-platform publish clients, and the error taxonomy they share.
package publish

import (
	"context"
	"errors"
	"fmt"

	"github.com/fpang/social-post-scheduler/internal/task"
)

// Result identifies what the remote platform created.
type Result struct {
	ExternalPostID string
	MediaID        string
}

// Publisher turns one task into remote API calls. Implementations load and
// refresh the owner's credential themselves.
type Publisher interface {
	Platform() task.Platform
	Publish(ctx context.Context, t *task.Task) (*Result, error)
}

// Error classes. Publishers wrap exactly one so callers can use errors.Is.
// Every class consumes an attempt; the classes exist for logs and operators.
var (
	ErrValidation      = task.ErrValidation
	ErrNotFound        = errors.New("not found")
	ErrAuth            = errors.New("authentication failed")
	ErrRemote          = errors.New("remote platform error")
	ErrMediaProcessing = errors.New("media processing failed")
)

// ManualRequiredError is the policy outcome for posts that cannot be
// published automatically. It is not a failure.
type ManualRequiredError struct {
	Instructions task.ManualInstructions
}

func (e *ManualRequiredError) Error() string {
	return "manual posting required: " + e.Instructions.Reason
}

// Errorf wraps class with a formatted message.
func Errorf(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}

// Class returns the short name of err's class for logging.
func Class(err error) string {
	var manual *ManualRequiredError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &manual):
		return "manualRequired"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "notFound"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrMediaProcessing):
		return "mediaProcessing"
	case errors.Is(err, ErrRemote):
		return "remote"
	}
	return "unknown"
}
