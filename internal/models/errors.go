package models

import (
	"errors"
	"fmt"
)

// Error codes surfaced to clients. Stable: handlers and clients key off them.
const (
	CodeNotFound           = "not_found"
	CodeForbidden          = "forbidden"
	CodeInvalidTransition  = "invalid_transition"
	CodeAlreadyTaken       = "already_taken"
	CodeJobClosed          = "job_closed"
	CodeNoWorkersAvailable = "no_workers_available"
	CodeNoJobsAvailable    = "no_jobs_available"
	CodeInternal           = "internal"
)

// Error is a domain error with a stable machine-readable code. It travels
// unchanged from the service layer to the request boundary, where the code is
// mapped to an HTTP status. Internal errors are never built from collaborator
// detail; callers wrap those with Internal() so nothing leaks.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func NotFound(msg string) *Error  { return &Error{Code: CodeNotFound, Message: msg} }
func Forbidden(msg string) *Error { return &Error{Code: CodeForbidden, Message: msg} }
func JobClosed(msg string) *Error { return &Error{Code: CodeJobClosed, Message: msg} }

func InvalidTransition(from, to string) *Error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf("cannot move job from %s to %s", from, to)}
}

func AlreadyTaken() *Error {
	return &Error{Code: CodeAlreadyTaken, Message: "job was already accepted by another worker"}
}

func NoWorkersAvailable() *Error {
	return &Error{Code: CodeNoWorkersAvailable, Message: "no workers available in this area"}
}

func NoJobsAvailable() *Error {
	return &Error{Code: CodeNoJobsAvailable, Message: "no jobs available in this area"}
}

// Internal hides collaborator failure detail behind a generic message. The
// original error stays reachable through errors.Unwrap for server-side logs.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", cause: err}
}

// AsDomain extracts a domain error from an error chain, if present.
func AsDomain(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
