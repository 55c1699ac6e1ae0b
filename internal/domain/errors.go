package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation         = errors.New("validation error")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrOptimisticConflict = errors.New("optimistic conflict")
	ErrRecurrence         = errors.New("recurrence error")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrPersistence        = errors.New("persistence error")
	ErrNotFound           = errors.New("not found")
)

// Error carries the kind of failure plus the appointment and context it
// pertains to.
type Error struct {
	Kind          error
	ContextID     int64
	AppointmentID int64
	Field         string
	Msg           string
	Err           error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%v: cid=%d id=%d", e.Kind, e.ContextID, e.AppointmentID)
	if e.Field != "" {
		s += " field=" + e.Field
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func Validation(field, msg string) *Error {
	return &Error{Kind: ErrValidation, Field: field, Msg: msg}
}

func Recurrence(msg string) *Error {
	return &Error{Kind: ErrRecurrence, Msg: msg}
}

func PermissionDenied(action string) *Error {
	return &Error{Kind: ErrPermissionDenied, Msg: action}
}

func OptimisticConflict() *Error {
	return &Error{Kind: ErrOptimisticConflict, Msg: "object was modified in the meantime"}
}

func QuotaExceeded(msg string) *Error {
	return &Error{Kind: ErrQuotaExceeded, Msg: msg}
}

func NotFound() *Error {
	return &Error{Kind: ErrNotFound}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: ErrPersistence, Msg: op, Err: err}
}

// Scope stamps the appointment and context ids onto err. Errors that are not
// *Error are wrapped as persistence failures.
func Scope(err error, contextID, appointmentID int64) error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = classify(err)
	} else {
		c := *e
		e = &c
	}
	if e.ContextID == 0 {
		e.ContextID = contextID
	}
	if e.AppointmentID == 0 {
		e.AppointmentID = appointmentID
	}
	return e
}

var kinds = []error{
	ErrValidation, ErrPermissionDenied, ErrOptimisticConflict, ErrRecurrence,
	ErrQuotaExceeded, ErrPersistence, ErrNotFound,
}

func classify(err error) *Error {
	for _, k := range kinds {
		if err == k {
			return &Error{Kind: k}
		}
		if errors.Is(err, k) {
			return &Error{Kind: k, Err: err}
		}
	}
	return Persistence("", err)
}

// Retryable reports whether the caller may re-read and retry the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrOptimisticConflict) || errors.Is(err, ErrPersistence)
}
