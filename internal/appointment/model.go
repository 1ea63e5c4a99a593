// Package appointment implements the booking state machine and its
// durable store.
package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Appointment is the persistent aggregate. The id is an opaque capability:
// possession authorizes cancel/modify in the core (an external auth
// boundary may wrap it).
type Appointment struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PatientName string    `json:"patient_name" db:"patient_name"`
	Phone       string    `json:"phone" db:"phone"`
	Reason      string    `json:"reason" db:"reason"`
	Date        string    `json:"date" db:"date"` // YYYY-MM-DD
	Time        string    `json:"time" db:"time"` // HH:MM, 24h
	Provider    string    `json:"provider,omitempty" db:"provider"`
	Status      Status    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Fields is the create/update payload.
type Fields struct {
	PatientName string `json:"patient_name"`
	Phone       string `json:"phone"`
	Reason      string `json:"reason"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Provider    string `json:"provider,omitempty"`
}
