package client

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/funcscan/flowdesk/pkg/persistence"
)

var (
	ErrBadRequest = errors.New("request rejected")
	ErrConflict   = errors.New("request conflicts with current state")
	ErrNotFound   = errors.New("resource not found")
	ErrServer     = errors.New("server error")
)

// APIError is a non-2xx answer of the API, decoded from its problem body when present.
type APIError struct {
	Method string
	Path   string
	Status int
	Type   string
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.Path, e.Status, e.Type, e.Detail)
	}

	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// Unwrap exposes the status class, and the store sentinel for typed 404s.
func (e *APIError) Unwrap() []error {
	switch {
	case e.Status == http.StatusNotFound:
		errs := []error{ErrNotFound}

		switch e.Type {
		case "workflow_not_found":
			errs = append(errs, persistence.ErrWorkflowNotFound)
		case "test_case_not_found":
			errs = append(errs, persistence.ErrTestCaseNotFound)
		case "step_test_not_found":
			errs = append(errs, persistence.ErrStepTestNotFound)
		case "notification_not_found":
			errs = append(errs, persistence.ErrNotificationNotFound)
		}

		return errs
	case e.Status == http.StatusConflict:
		return []error{ErrConflict}
	case e.Status >= http.StatusInternalServerError:
		return []error{ErrServer}
	default:
		return []error{ErrBadRequest}
	}
}

// retryable reports whether a request may succeed when sent again.
func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}

	return true
}
