package appointment

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// memoryStore is an in-process Store used by tests and the evaluation
// harness. Conflict-check-then-insert is atomic via a single mutex
// standing in for the Postgres transaction's row lock.
type memoryStore struct {
	mu   sync.Mutex
	data map[uuid.UUID]Appointment
}

func NewMemoryStore() Store {
	return &memoryStore{data: map[uuid.UUID]Appointment{}}
}

func (s *memoryStore) Insert(ctx context.Context, f Fields) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.data {
		if a.Status == StatusScheduled && a.Date == f.Date && a.Time == f.Time && a.Provider == f.Provider {
			return nil, ErrConflict
		}
	}

	appt := Appointment{
		ID:          uuid.New(),
		PatientName: f.PatientName,
		Phone:       f.Phone,
		Reason:      f.Reason,
		Date:        f.Date,
		Time:        f.Time,
		Provider:    f.Provider,
		Status:      StatusScheduled,
	}
	s.data[appt.ID] = appt
	out := appt
	return &out, nil
}

func (s *memoryStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := a
	return &out, nil
}

func (s *memoryStore) List(ctx context.Context, status Status) ([]Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Appointment
	for _, a := range s.data {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memoryStore) Update(ctx context.Context, id uuid.UUID, f Fields, status Status) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.PatientName, a.Phone, a.Reason, a.Date, a.Time, a.Provider, a.Status = f.PatientName, f.Phone, f.Reason, f.Date, f.Time, f.Provider, status
	s.data[id] = a
	out := a
	return &out, nil
}

func (s *memoryStore) ConflictExists(ctx context.Context, date, t, provider string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.data {
		if a.Status == StatusScheduled && a.Date == date && a.Time == t && a.Provider == provider {
			return true, nil
		}
	}
	return false, nil
}
