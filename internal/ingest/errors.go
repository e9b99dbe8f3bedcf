package ingest

import (
	"errors"
	"fmt"
)

// Kind classifies an ingestion failure. Each kind maps to one response
// category on every transport.
type Kind int

const (
	KindInternal Kind = iota
	KindMalformedPayload
	KindInvalidInput
	KindUnauthorized
	KindStorageUnavailable
	// KindConflict is reserved; workflow creation races never produce it.
	KindConflict
)

// Code is the stable identifier exposed to callers.
func (k Kind) Code() string {
	switch k {
	case KindMalformedPayload:
		return "malformed_payload"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnauthorized:
		return "unauthorized"
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is a classified pipeline failure. Message is safe to show to the
// caller; Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindInternal when err was not
// classified by the pipeline.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

func malformed(op, msg string, err error) *Error {
	return &Error{Kind: KindMalformedPayload, Op: op, Message: msg, Err: err}
}

func invalid(op string, err error) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: err.Error(), Err: err}
}

func unauthorized(op string, err error) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: err.Error(), Err: err}
}

func unavailable(op string, err error) *Error {
	return &Error{Kind: KindStorageUnavailable, Op: op, Message: "storage is unavailable, retry later", Err: err}
}
