package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed or rejected input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrResourceExhausted marks inference backend overload (GPU/OOM class).
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrDependency marks downstream service failures worth retrying.
	ErrDependency = errors.New("dependency error")
	// ErrConsistency marks duplicate-delivery or state-machine conflicts.
	ErrConsistency = errors.New("consistency error")
	// ErrNotFound marks missing jobs, users, or blobs.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks deadline expiry against an external service.
	ErrTimeout = errors.New("timeout")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later retry classification. The marker should
// be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrDependency
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Retryable reports whether a stage error may be redelivered. The policy is
// uniform across all stages: validation, consistency, and not-found failures
// are final on the first attempt; everything else retries until attempts are
// exhausted.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConsistency), errors.Is(err, ErrNotFound):
		return false
	default:
		return true
	}
}

// Redact returns the user-visible form of a stage error. Wrapped internals
// stay in the logs; job documents carry only the outermost marker prefix
// stripped away.
func Redact(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, marker := range []error{ErrValidation, ErrResourceExhausted, ErrDependency, ErrConsistency, ErrNotFound, ErrTimeout} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimPrefix(msg, prefix)
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
