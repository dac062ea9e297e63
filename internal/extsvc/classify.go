package extsvc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"voiceloom/internal/services"
)

const errorBodyLimit = 512

// statusError maps a non-2xx backend response to a classified error.
// Overload responses retry, server faults retry, everything else in the
// 4xx range is a permanent input rejection.
func statusError(stage, operation string, resp *http.Response) error {
	body := readErrorBody(resp.Body)
	message := fmt.Sprintf("backend returned %d", resp.StatusCode)
	if body != "" {
		message += ": " + body
	}

	var marker error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusInsufficientStorage:
		marker = services.ErrResourceExhausted
	case resp.StatusCode == http.StatusNotFound:
		marker = services.ErrNotFound
	case resp.StatusCode >= 500:
		marker = services.ErrDependency
	default:
		marker = services.ErrValidation
	}
	return services.Wrap(marker, stage, operation, message, nil)
}

// transportError classifies a failed round trip. Deadline expiry gets its
// own marker so exhausted jobs report timeouts rather than generic
// dependency failures.
func transportError(stage, operation string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, stage, operation, "request deadline exceeded", err)
	}
	return services.Wrap(services.ErrDependency, stage, operation, "request failed", err)
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
