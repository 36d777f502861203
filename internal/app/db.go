package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrWindowOverlap   = errors.New("availability window overlaps an existing active window")
	ErrBlackoutOverlap = errors.New("blackout overlaps an existing blackout")
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the Postgres-backed persistence for windows, blackouts and bookings.
type Store struct {
	DB DB
}

func NewStore(db DB) *Store {
	return &Store{DB: db}
}

const windowColumns = `id,user_id,day_of_week,start_time,end_time,timezone,is_active,created_at,updated_at`

func scanWindows(rows pgx.Rows) ([]AvailabilityWindow, error) {
	defer rows.Close()

	var out []AvailabilityWindow
	for rows.Next() {
		var w AvailabilityWindow
		if err := rows.Scan(&w.ID, &w.UserID, &w.DayOfWeek, &w.StartTime, &w.EndTime,
			&w.Timezone, &w.IsActive, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveWindows(ctx context.Context, userID string, dayOfWeek int) ([]AvailabilityWindow, error) {
	q := `SELECT ` + windowColumns + `
	      FROM availability_windows
	      WHERE user_id=$1 AND day_of_week=$2 AND is_active=true
	      ORDER BY start_time`
	rows, err := s.DB.Query(ctx, q, userID, dayOfWeek)
	if err != nil {
		return nil, fmt.Errorf("list active windows: %w", err)
	}
	return scanWindows(rows)
}

func (s *Store) ListWindows(ctx context.Context, userID string) ([]AvailabilityWindow, error) {
	q := `SELECT ` + windowColumns + `
	      FROM availability_windows WHERE user_id=$1 ORDER BY day_of_week, start_time`
	rows, err := s.DB.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}
	return scanWindows(rows)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// lockUserWindows serialises window writes for one user until tx ends.
func lockUserWindows(ctx context.Context, tx pgx.Tx, userID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "windows:"+userID); err != nil {
		return fmt.Errorf("lock windows: %w", err)
	}
	return nil
}

// hasOverlappingWindow compares zero-padded "HH:MM" text, which orders like time.
func hasOverlappingWindow(ctx context.Context, q rowQuerier, w *AvailabilityWindow) (bool, error) {
	query := `SELECT id FROM availability_windows
	      WHERE user_id=$1 AND day_of_week=$2 AND is_active=true AND id<>$3
	        AND start_time < $4 AND end_time > $5
	      LIMIT 1`
	var existingID string
	err := q.QueryRow(ctx, query, w.UserID, w.DayOfWeek, w.ID, w.EndTime, w.StartTime).Scan(&existingID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check window overlap: %w", err)
	}
	return true, nil
}

// InsertWindows saves one user's windows atomically. Each active window is
// checked against the stored windows and the ones inserted before it, so a
// conflict anywhere in the batch leaves nothing behind.
func (s *Store) InsertWindows(ctx context.Context, windows []*AvailabilityWindow) error {
	if len(windows) == 0 {
		return nil
	}
	userID := windows[0].UserID
	for _, w := range windows[1:] {
		if w.UserID != userID {
			return fmt.Errorf("insert windows: mixed users %q and %q", userID, w.UserID)
		}
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockUserWindows(ctx, tx, userID); err != nil {
		return err
	}

	now := time.Now().UTC()
	q := `INSERT INTO availability_windows
          (id, user_id, day_of_week, start_time, end_time, timezone, is_active, created_at, updated_at)
          VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	for _, w := range windows {
		if w.ID == "" {
			w.ID = uuid.NewString()
		}
		if w.IsActive {
			overlap, err := hasOverlappingWindow(ctx, tx, w)
			if err != nil {
				return err
			}
			if overlap {
				return ErrWindowOverlap
			}
		}
		if _, err := tx.Exec(ctx, q, w.ID, w.UserID, w.DayOfWeek, w.StartTime, w.EndTime,
			w.Timezone, w.IsActive, now, now); err != nil {
			return fmt.Errorf("insert window: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	for _, w := range windows {
		w.CreatedAt = now
		w.UpdatedAt = now
	}
	return nil
}

// UpdateWindow returns pgx.ErrNoRows when the window does not belong to the user.
func (s *Store) UpdateWindow(ctx context.Context, w *AvailabilityWindow) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockUserWindows(ctx, tx, w.UserID); err != nil {
		return err
	}
	if w.IsActive {
		overlap, err := hasOverlappingWindow(ctx, tx, w)
		if err != nil {
			return err
		}
		if overlap {
			return ErrWindowOverlap
		}
	}

	now := time.Now().UTC()
	q := `UPDATE availability_windows
          SET day_of_week=$1, start_time=$2, end_time=$3, timezone=$4, is_active=$5, updated_at=$6
          WHERE id=$7 AND user_id=$8
          RETURNING created_at`
	if err := tx.QueryRow(ctx, q, w.DayOfWeek, w.StartTime, w.EndTime, w.Timezone, w.IsActive,
		now, w.ID, w.UserID).Scan(&w.CreatedAt); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	w.UpdatedAt = now
	return nil
}

func (s *Store) DeleteWindow(ctx context.Context, userID, windowID string) error {
	res, err := s.DB.Exec(ctx, `DELETE FROM availability_windows WHERE id=$1 AND user_id=$2`, windowID, userID)
	if err != nil {
		return fmt.Errorf("delete window: %w", err)
	}
	if res.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const blackoutColumns = `id,user_id,start_date,end_date,reason,created_at`

func scanBlackouts(rows pgx.Rows) ([]BlackoutDate, error) {
	defer rows.Close()

	var out []BlackoutDate
	for rows.Next() {
		var b BlackoutDate
		if err := rows.Scan(&b.ID, &b.UserID, &b.StartDate, &b.EndDate, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListOverlappingBlackouts(ctx context.Context, userID string, dayStart, dayEnd time.Time) ([]BlackoutDate, error) {
	q := `SELECT ` + blackoutColumns + `
	      FROM blackout_dates
	      WHERE user_id=$1 AND start_date <= $3 AND end_date >= $2`
	rows, err := s.DB.Query(ctx, q, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list overlapping blackouts: %w", err)
	}
	return scanBlackouts(rows)
}

func (s *Store) ListBlackouts(ctx context.Context, userID string) ([]BlackoutDate, error) {
	q := `SELECT ` + blackoutColumns + ` FROM blackout_dates WHERE user_id=$1 ORDER BY start_date`
	rows, err := s.DB.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list blackouts: %w", err)
	}
	return scanBlackouts(rows)
}

// InsertBlackout keeps a user's blackout ranges disjoint. The per-user advisory
// lock serialises concurrent inserts so two overlapping ranges cannot both pass
// the check.
func (s *Store) InsertBlackout(ctx context.Context, b *BlackoutDate) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "blackout:"+b.UserID); err != nil {
		return fmt.Errorf("lock blackouts: %w", err)
	}

	checkQ := `SELECT id FROM blackout_dates
	           WHERE user_id=$1 AND start_date <= $3 AND end_date >= $2
	           LIMIT 1`
	var existingID string
	err = tx.QueryRow(ctx, checkQ, b.UserID, b.StartDate, b.EndDate).Scan(&existingID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("check blackout overlap: %w", err)
	}
	if existingID != "" {
		return ErrBlackoutOverlap
	}

	now := time.Now().UTC()
	insertQ := `INSERT INTO blackout_dates (id, user_id, start_date, end_date, reason, created_at)
	            VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := tx.Exec(ctx, insertQ, b.ID, b.UserID, b.StartDate, b.EndDate, b.Reason, now); err != nil {
		return fmt.Errorf("insert blackout: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.CreatedAt = now
	return nil
}

func (s *Store) DeleteBlackout(ctx context.Context, userID, blackoutID string) error {
	res, err := s.DB.Exec(ctx, `DELETE FROM blackout_dates WHERE id=$1 AND user_id=$2`, blackoutID, userID)
	if err != nil {
		return fmt.Errorf("delete blackout: %w", err)
	}
	if res.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const bookingColumns = `id,user_id,customer_email,start_time,end_time,duration,status,created_at`

func scanBookings(rows pgx.Rows) ([]Booking, error) {
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		var status string
		if err := rows.Scan(&b.ID, &b.UserID, &b.CustomerEmail, &b.StartTime, &b.EndTime,
			&b.Duration, &status, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Status = BookingStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveBookingsOnDay(ctx context.Context, userID string, dayStart, dayEnd time.Time) ([]Booking, error) {
	q := `SELECT ` + bookingColumns + `
	      FROM bookings
	      WHERE user_id=$1 AND start_time >= $2 AND start_time <= $3
	        AND status IN ('PENDING','CONFIRMED')`
	rows, err := s.DB.Query(ctx, q, userID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list active bookings: %w", err)
	}
	return scanBookings(rows)
}

func (s *Store) ListBookings(ctx context.Context, userID string, from, to time.Time, filtered bool) ([]Booking, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if filtered {
		q := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE user_id=$1 AND start_time >= $2 AND start_time < $3
              ORDER BY start_time`
		rows, err = s.DB.Query(ctx, q, userID, from, to)
	} else {
		q := `SELECT ` + bookingColumns + `
              FROM bookings
              WHERE user_id=$1
              ORDER BY start_time`
		rows, err = s.DB.Query(ctx, q, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return scanBookings(rows)
}
