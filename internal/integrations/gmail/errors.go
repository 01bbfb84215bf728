package gmail

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrRateLimited reports that Gmail rejected a call for quota reasons.
var ErrRateLimited = errors.New("gmail: rate limited")

// RateLimitError wraps the upstream error of a throttled call. It matches
// ErrRateLimited under errors.Is and reports status 429.
type RateLimitError struct {
	Op  string
	Err error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("gmail: %s: rate limited: %v", e.Op, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

func (e *RateLimitError) HTTPStatusCode() int { return http.StatusTooManyRequests }

var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
}

// classify wraps err with the operation name, turning quota failures into
// *RateLimitError.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return &RateLimitError{Op: op, Err: err}
		}
		if gerr.Code == http.StatusForbidden {
			for _, item := range gerr.Errors {
				if rateLimitReasons[item.Reason] {
					return &RateLimitError{Op: op, Err: err}
				}
			}
		}
	}
	return fmt.Errorf("gmail: %s: %w", op, err)
}
