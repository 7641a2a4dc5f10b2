// Package retry implements the connection retry policy used by
// transport.Direct's connect loop: exponential backoff with jitter and a
// pluggable clock.
package retry

import "context"

type (
	// Task is a unit of retryable work. It reports whether a retry should be
	// attempted for the given error.
	Task = func(context.Context) (shouldRetry bool, err error)

	// Policy executes a Task, retrying according to policy-specific rules.
	Policy interface {
		Start(ctx context.Context, name string, task Task) error
	}
)
