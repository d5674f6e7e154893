package types

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error kinds. Callers test for them with errors.Is.
var (
	ErrUnregisteredParticipant = errors.New("participant is not registered")
	ErrDuplicateUser           = errors.New("user already registered")
	ErrInsufficientCandidates  = errors.New("not enough available reviewers")
	ErrDeliveryFailure         = errors.New("delivery failed")
	ErrPersistenceFailure      = errors.New("persistence failed")
	ErrUserNotFound            = errors.New("user not found")
)

// Incident ties a failure to a correlation id that can be shown to users and grepped in logs.
type Incident struct {
	Err error
	ID  string
	Op  string
}

// NewIncident wraps err with a fresh correlation id.
func NewIncident(op string, err error) *Incident {
	return &Incident{
		ID:  uuid.NewString(),
		Op:  op,
		Err: err,
	}
}

func (i *Incident) Error() string {
	return fmt.Sprintf("[%s:%s] %v", i.Op, i.ID, i.Err)
}

func (i *Incident) Unwrap() error {
	return i.Err
}

// UserMessage is the text shown to a chat user for this incident.
func (i *Incident) UserMessage() string {
	return fmt.Sprintf("Something went wrong (ref `%s`). Please let an admin know.", i.ID)
}

// Delivery wraps an outbound call failure as ErrDeliveryFailure.
func Delivery(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDeliveryFailure, err)
}
