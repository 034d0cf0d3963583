package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrForbidden          = errors.New("not permitted for this role")
	ErrNoSubmission       = errors.New("no submission found")
	ErrIncomplete         = errors.New("all sub-strands must be rated before submitting")
	ErrInvalidRating      = errors.New("invalid rating value")
	ErrUnknownField       = errors.New("unknown rubric field")
	ErrInvalidState       = errors.New("invalid or expired oauth state")
	ErrInvalidAuthType    = errors.New("invalid auth type")
	ErrAlreadySubmitted   = errors.New("self-assessment already submitted, edit the existing submission instead")
)

// ValidationError lists the offending fields of a rejected form.
type ValidationError struct {
	Err    error
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }
