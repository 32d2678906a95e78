package database

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("comment not found")
	ErrForbidden   = errors.New("only the author may delete this comment")
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("persistence failure")
)

// ValidationError reports a missing or malformed field. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	field := e.Field
	if field != "" {
		field = strings.ToLower(field[:1]) + field[1:]
	}
	return fmt.Sprintf("%s %s", field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// PersistenceError wraps a failure of the backing store. It matches ErrPersistence.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
	return e.Op
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistenceErr(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
