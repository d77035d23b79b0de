package openfinance

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPollArgs    = errors.New("invalid poll arguments")
	ErrNoPendingChallenge = errors.New("connection has no pending MFA challenge")
	ErrResumeMismatch     = errors.New("resume context belongs to another connection")
)

// ValidationError is a field-level problem found before contacting the aggregator.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every failing field of one submission.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return "invalid credentials: " + strings.Join(parts, "; ")
}

func (e *ValidationErrors) add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// ChallengeRejectedError means the aggregator refused the MFA answer. The
// connection stays WAITING_INPUT and the user may try again.
type ChallengeRejectedError struct {
	ConnectionID string
	Message      string
	Err          error
}

func (e *ChallengeRejectedError) Error() string {
	return fmt.Sprintf("challenge rejected for %s: %s", e.ConnectionID, e.Message)
}

func (e *ChallengeRejectedError) Unwrap() error { return e.Err }

// AggregatorError wraps a failed aggregator call outside of polling.
type AggregatorError struct {
	Operation string
	Err       error
}

func (e *AggregatorError) Error() string {
	return fmt.Sprintf("aggregator %s failed: %v", e.Operation, e.Err)
}

func (e *AggregatorError) Unwrap() error { return e.Err }
