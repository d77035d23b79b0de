package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the aggregator-reported lifecycle state of a connection.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusUpdating     Status = "UPDATING"
	StatusUpdated      Status = "UPDATED"
	StatusWaitingInput Status = "WAITING_INPUT"
	StatusLoginError   Status = "LOGIN_ERROR"
	StatusOutdated     Status = "OUTDATED"
)

var validStatuses = map[Status]struct{}{
	StatusCreated:      {},
	StatusUpdating:     {},
	StatusUpdated:      {},
	StatusWaitingInput: {},
	StatusLoginError:   {},
	StatusOutdated:     {},
}

// ParseStatus reports false for statuses this service does not model.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	_, ok := validStatuses[st]
	return st, ok
}

// IsTerminal reports whether polling should stop on this status alone.
// WAITING_INPUT is not terminal by itself; it needs a challenge payload.
func (s Status) IsTerminal() bool {
	return s == StatusUpdated || s == StatusLoginError || s == StatusOutdated
}

// IsFatal reports whether the status needs the user to re-enter credentials.
func (s Status) IsFatal() bool {
	return s == StatusLoginError || s == StatusOutdated
}

type ExecutionStatus string

const (
	ExecutionUnset          ExecutionStatus = ""
	ExecutionSuccess        ExecutionStatus = "SUCCESS"
	ExecutionPartialSuccess ExecutionStatus = "PARTIAL_SUCCESS"
	ExecutionError          ExecutionStatus = "ERROR"
)

// ParseExecutionStatus maps anything outside the three known values to unset.
func ParseExecutionStatus(s string) ExecutionStatus {
	switch es := ExecutionStatus(s); es {
	case ExecutionSuccess, ExecutionPartialSuccess, ExecutionError:
		return es
	default:
		return ExecutionUnset
	}
}

type ChallengeKind string

const (
	ChallengeOAuth ChallengeKind = "OAUTH"
	ChallengeMFA   ChallengeKind = "MFA"
)

// ChallengePayload is the aggregator's parameter object, kept verbatim.
type ChallengePayload struct {
	Name              string          `json:"name"`
	Label             string          `json:"label,omitempty"`
	Type              string          `json:"type,omitempty"`
	Placeholder       string          `json:"placeholder,omitempty"`
	AssistiveText     string          `json:"assistiveText,omitempty"`
	Validation        string          `json:"validation,omitempty"`
	ValidationMessage string          `json:"validationMessage,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	ExpiresAt         *time.Time      `json:"expiresAt,omitempty"`
	Optional          bool            `json:"optional,omitempty"`
}

type Challenge struct {
	Kind    ChallengeKind    `json:"kind"`
	Payload ChallengePayload `json:"payload"`
}

// Domain errors
var (
	ErrNotFound            = errors.New("connection not found")
	ErrForbidden           = errors.New("access forbidden")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrChallengeInvariant  = errors.New("pending challenge must be set exactly when status is WAITING_INPUT")
)

// Connection is one user's link to one institution through the aggregator.
type Connection struct {
	LocalID          string          `json:"localId"`
	ConnectionID     string          `json:"connectionId"`
	UserID           int64           `json:"userId"`
	InstitutionID    int             `json:"institutionId"`
	Status           Status          `json:"status"`
	ExecutionStatus  ExecutionStatus `json:"executionStatus,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	PendingChallenge *Challenge      `json:"pendingChallenge,omitempty"`
	LastSyncAt       *time.Time      `json:"lastSyncAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// New returns a CREATED connection with a fresh local ID.
func New(userID int64, institutionID int, connectionID string, now time.Time) *Connection {
	return &Connection{
		LocalID:       uuid.NewString(),
		ConnectionID:  connectionID,
		UserID:        userID,
		InstitutionID: institutionID,
		Status:        StatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ApplyStatus moves the connection along one edge of the state machine. It
// is the only code that should change Status or PendingChallenge. challenge
// is required for WAITING_INPUT and dropped for every other status. Callers
// holding an observation that skipped UPDATING walk TransitionPath.
func (c *Connection) ApplyStatus(next Status, challenge *Challenge, now time.Time) error {
	if next == StatusWaitingInput && challenge == nil {
		return ErrChallengeInvariant
	}
	if !CanTransition(c.Status, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, next)
	}

	c.Status = next
	if next == StatusWaitingInput {
		ch := *challenge
		c.PendingChallenge = &ch
	} else {
		c.PendingChallenge = nil
	}
	if !next.IsFatal() {
		c.ErrorMessage = ""
	}
	c.UpdatedAt = now
	return nil
}

// MarkSynced records a completed reconciliation.
func (c *Connection) MarkSynced(es ExecutionStatus, at time.Time) {
	c.ExecutionStatus = es
	c.LastSyncAt = &at
	c.UpdatedAt = at
}

// Validate checks the fields and the challenge invariant before persisting.
func (c *Connection) Validate() error {
	if c.LocalID == "" {
		return errors.New("local ID is required")
	}
	if _, err := uuid.Parse(c.LocalID); err != nil {
		return errors.New("local ID must be a UUID")
	}
	if c.ConnectionID == "" {
		return errors.New("connection ID is required")
	}
	if c.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if _, ok := validStatuses[c.Status]; !ok {
		return errors.New("invalid status")
	}
	if (c.Status == StatusWaitingInput) != (c.PendingChallenge != nil) {
		return ErrChallengeInvariant
	}
	if c.PendingChallenge != nil {
		switch c.PendingChallenge.Kind {
		case ChallengeOAuth, ChallengeMFA:
		default:
			return errors.New("invalid challenge kind")
		}
	}
	return nil
}
