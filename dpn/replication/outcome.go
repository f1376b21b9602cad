package replication

import (
	"net/http"
)

// Outcome is the result category of a single orchestrated request.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeUnauthenticated
	OutcomeNotFound
	OutcomeForbidden
	OutcomeValidationFailed
	OutcomeConflict
	OutcomeUnavailable
	OutcomeError
)

var outcomeNames = map[Outcome]string{
	OutcomeOK:               "ok",
	OutcomeCreated:          "created",
	OutcomeUpdated:          "updated",
	OutcomeUnauthenticated:  "unauthenticated",
	OutcomeNotFound:         "not_found",
	OutcomeForbidden:        "forbidden",
	OutcomeValidationFailed: "validation_failed",
	OutcomeConflict:         "conflict",
	OutcomeUnavailable:      "unavailable",
	OutcomeError:            "error",
}

var outcomeStatusCodes = map[Outcome]int{
	OutcomeOK:               http.StatusOK,
	OutcomeCreated:          http.StatusCreated,
	OutcomeUpdated:          http.StatusOK,
	OutcomeUnauthenticated:  http.StatusUnauthorized,
	OutcomeNotFound:         http.StatusNotFound,
	OutcomeForbidden:        http.StatusForbidden,
	OutcomeValidationFailed: http.StatusBadRequest,
	OutcomeConflict:         http.StatusConflict,
	OutcomeUnavailable:      http.StatusServiceUnavailable,
	OutcomeError:            http.StatusInternalServerError,
}

func (outcome Outcome) String() string {
	if name, ok := outcomeNames[outcome]; ok {
		return name
	}
	return "unknown"
}

// HTTPStatus returns the HTTP status code the REST layer sends
// for this outcome.
func (outcome Outcome) HTTPStatus() int {
	if code, ok := outcomeStatusCodes[outcome]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// Succeeded is true for outcomes that carry a record.
func (outcome Outcome) Succeeded() bool {
	return outcome == OutcomeOK || outcome == OutcomeCreated || outcome == OutcomeUpdated
}

// Retryable is true when the same request may succeed later
// without the caller changing anything but its view of the record.
func (outcome Outcome) Retryable() bool {
	return outcome == OutcomeConflict || outcome == OutcomeUnavailable
}
