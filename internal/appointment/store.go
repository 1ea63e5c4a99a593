package appointment

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrConflict is returned when (date, time, provider) already has a
// scheduled appointment.
var ErrConflict = errors.New("appointment: conflicting slot")

// ErrNotFound indicates no appointment exists for the given id.
var ErrNotFound = errors.New("appointment: not found")

// Store is the appointment persistence contract: insert, get, list,
// update, conflict_exists, with insert failing on id collision and
// conflict-check+insert atomic at the store boundary.
type Store interface {
	Insert(ctx context.Context, f Fields) (*Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, status Status) ([]Appointment, error)
	Update(ctx context.Context, id uuid.UUID, fields Fields, status Status) (*Appointment, error)
	ConflictExists(ctx context.Context, date, t, provider string) (bool, error)
}

// postgresStore persists appointments in Postgres using database/sql and
// github.com/lib/pq, with a transactional conflict-check-then-insert using
// SELECT ... FOR UPDATE so the (date, time, provider) uniqueness is
// enforced atomically at the store boundary.
type postgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func (s *postgresStore) Insert(ctx context.Context, f Fields) (*Appointment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "appointment: begin tx")
	}
	defer tx.Rollback()

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE date = $1 AND time = $2 AND provider = $3 AND status = $4
			FOR UPDATE
		)`, f.Date, f.Time, f.Provider, StatusScheduled).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "appointment: conflict check")
	}
	if exists {
		return nil, ErrConflict
	}

	appt := &Appointment{
		ID:          uuid.New(),
		PatientName: f.PatientName,
		Phone:       f.Phone,
		Reason:      f.Reason,
		Date:        f.Date,
		Time:        f.Time,
		Provider:    f.Provider,
		Status:      StatusScheduled,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments (id, patient_name, phone, reason, date, time, provider, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, appt.ID, appt.PatientName, appt.Phone, appt.Reason, appt.Date, appt.Time, appt.Provider, appt.Status)
	if err != nil {
		return nil, errors.Wrap(err, "appointment: insert")
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "appointment: commit")
	}
	return appt, nil
}

func (s *postgresStore) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, patient_name, phone, reason, date, time, COALESCE(provider, ''), status, created_at
		FROM appointments WHERE id = $1`, id)

	var a Appointment
	if err := row.Scan(&a.ID, &a.PatientName, &a.Phone, &a.Reason, &a.Date, &a.Time, &a.Provider, &a.Status, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "appointment: get")
	}
	return &a, nil
}

func (s *postgresStore) List(ctx context.Context, status Status) ([]Appointment, error) {
	query := `SELECT id, patient_name, phone, reason, date, time, COALESCE(provider, ''), status, created_at FROM appointments`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "appointment: list")
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.PatientName, &a.Phone, &a.Reason, &a.Date, &a.Time, &a.Provider, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *postgresStore) Update(ctx context.Context, id uuid.UUID, f Fields, status Status) (*Appointment, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE appointments SET patient_name = $1, phone = $2, reason = $3, date = $4, time = $5, provider = $6, status = $7
		WHERE id = $8
	`, f.PatientName, f.Phone, f.Reason, f.Date, f.Time, f.Provider, status, id)
	if err != nil {
		return nil, errors.Wrap(err, "appointment: update")
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *postgresStore) ConflictExists(ctx context.Context, date, t, provider string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments WHERE date = $1 AND time = $2 AND provider = $3 AND status = $4
		)`, date, t, provider, StatusScheduled).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("appointment: conflict_exists: %w", err)
	}
	return exists, nil
}
