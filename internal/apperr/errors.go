// Package apperr holds the typed failures surfaced by the ledger and the order
// lifecycle. Every failure carries a Kind and the offending field so callers
// can render a specific message.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindValidation       Kind = "validation"
	KindFormat           Kind = "format"
	KindTokenExpired     Kind = "token_expired"
	KindTokenMismatch    Kind = "token_mismatch"
	KindNotFound         Kind = "not_found"
	KindTransition       Kind = "transition"
	KindIntegrity        Kind = "integrity"
	KindAlreadyCompleted Kind = "already_completed"
	KindInternal         Kind = "internal"
)

// ErrStaleVersion is returned by order stores when an optimistic update lost
// against a concurrent writer.
var ErrStaleVersion = errors.New("stale order version")

type Error interface {
	error
	Kind() Kind
	Field() string
}

// KindOf reports the kind of the first typed failure in err's chain.
func KindOf(err error) Kind {
	var e Error
	if errors.As(err, &e) {
		return e.Kind()
	}
	return KindInternal
}

// FieldOf reports the offending field of the first typed failure in err's chain.
func FieldOf(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Field()
	}
	return ""
}

type ValidationError struct {
	Name   string
	Reason string
}

func Validation(field, reason string) *ValidationError {
	return &ValidationError{Name: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Name, e.Reason)
}
func (e *ValidationError) Kind() Kind    { return KindValidation }
func (e *ValidationError) Field() string { return e.Name }

type FormatError struct {
	Name   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed delivery code %s: %s", e.Name, e.Reason)
}
func (e *FormatError) Kind() Kind    { return KindFormat }
func (e *FormatError) Field() string { return e.Name }

type TokenExpiredError struct {
	OrderID  string
	IssuedAt time.Time
	Age      time.Duration
}

func (e *TokenExpiredError) Error() string {
	return fmt.Sprintf("security token for order %s expired: issued %s (%s ago)",
		e.OrderID, e.IssuedAt.Format(time.RFC3339), e.Age.Truncate(time.Second))
}
func (e *TokenExpiredError) Kind() Kind    { return KindTokenExpired }
func (e *TokenExpiredError) Field() string { return "issuedAt" }

type TokenMismatchError struct {
	OrderID string
	Name    string
}

func (e *TokenMismatchError) Error() string {
	return fmt.Sprintf("invalid security token for order %s: %s does not match", e.OrderID, e.Name)
}
func (e *TokenMismatchError) Kind() Kind    { return KindTokenMismatch }
func (e *TokenMismatchError) Field() string { return e.Name }

type NotFoundError struct {
	Resource string
	ID       string
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}
func (e *NotFoundError) Kind() Kind    { return KindNotFound }
func (e *NotFoundError) Field() string { return e.Resource }

type TransitionError struct {
	OrderID string
	From    string
	Event   string
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("order %s: cannot %s from %s", e.OrderID, e.Event, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
func (e *TransitionError) Kind() Kind    { return KindTransition }
func (e *TransitionError) Field() string { return "status" }

type IntegrityError struct {
	Index  int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violated at block %d: %s", e.Index, e.Reason)
}
func (e *IntegrityError) Kind() Kind    { return KindIntegrity }
func (e *IntegrityError) Field() string { return fmt.Sprintf("blocks[%d]", e.Index) }

type AlreadyCompletedError struct {
	OrderID string
}

func (e *AlreadyCompletedError) Error() string {
	return fmt.Sprintf("order %s already completed", e.OrderID)
}
func (e *AlreadyCompletedError) Kind() Kind    { return KindAlreadyCompleted }
func (e *AlreadyCompletedError) Field() string { return "status" }
