package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

var windowCols = []string{"id", "user_id", "day_of_week", "start_time", "end_time", "timezone", "is_active", "created_at", "updated_at"}

func TestStoreListActiveWindows(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Date(2029, 12, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM availability_windows").
		WithArgs(coach, 1).
		WillReturnRows(pgxmock.NewRows(windowCols).
			AddRow("w1", coach, 1, "09:00", "12:00", "UTC", true, created, created).
			AddRow("w2", coach, 1, "13:00", "17:00", "UTC", true, created, created))

	windows, err := store.ListActiveWindows(context.Background(), coach, 1)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, "09:00", windows[0].StartTime)
	assert.Equal(t, "17:00", windows[1].EndTime)
	assert.True(t, windows[1].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListActiveWindowsQueryError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("conn refused")

	mock.ExpectQuery("FROM availability_windows").WithArgs(coach, 3).WillReturnError(boom)

	_, err := store.ListActiveWindows(context.Background(), coach, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreListActiveBookingsOnDay(t *testing.T) {
	store, mock := newMockStore(t)
	dayStart := monday
	dayEnd := monday.Add(24*time.Hour - time.Nanosecond)

	mock.ExpectQuery(`FROM bookings\s+WHERE user_id=\$1 AND start_time >= \$2 AND start_time <= \$3\s+AND status IN \('PENDING','CONFIRMED'\)`).
		WithArgs(coach, dayStart, dayEnd).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "customer_email", "start_time", "end_time", "duration", "status", "created_at"}).
			AddRow("b1", coach, "client@example.com", at(10, 0), at(11, 0), 60, "CONFIRMED", monday))

	bookings, err := store.ListActiveBookingsOnDay(context.Background(), coach, dayStart, dayEnd)
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, BookingConfirmed, bookings[0].Status)
	assert.True(t, bookings[0].StartTime.Equal(at(10, 0)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func expectWindowLock(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("windows:" + coach).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestStoreInsertWindowsRollsBackOnLaterConflict(t *testing.T) {
	store, mock := newMockStore(t)

	expectWindowLock(mock)
	mock.ExpectQuery("SELECT id FROM availability_windows").
		WithArgs(coach, 1, pgxmock.AnyArg(), "10:00", "09:00").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO availability_windows").
		WithArgs(pgxmock.AnyArg(), coach, 1, "09:00", "10:00", "UTC", true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT id FROM availability_windows").
		WithArgs(coach, 1, pgxmock.AnyArg(), "10:30", "09:30").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("first-window"))
	mock.ExpectRollback()

	err := store.InsertWindows(context.Background(), []*AvailabilityWindow{
		{UserID: coach, DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00", Timezone: "UTC", IsActive: true},
		{UserID: coach, DayOfWeek: 1, StartTime: "09:30", EndTime: "10:30", Timezone: "UTC", IsActive: true},
	})
	assert.ErrorIs(t, err, ErrWindowOverlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertWindowsInactiveSkipsOverlapCheck(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("disk full")

	expectWindowLock(mock)
	mock.ExpectExec("INSERT INTO availability_windows").
		WithArgs(pgxmock.AnyArg(), coach, 2, "09:00", "10:00", "UTC", false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)
	mock.ExpectRollback()

	w := &AvailabilityWindow{UserID: coach, DayOfWeek: 2, StartTime: "09:00", EndTime: "10:00", Timezone: "UTC"}
	err := store.InsertWindows(context.Background(), []*AvailabilityWindow{w})
	assert.ErrorIs(t, err, boom)
	assert.NotEmpty(t, w.ID)
	assert.True(t, w.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertWindowsRejectsMixedUsers(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.InsertWindows(context.Background(), []*AvailabilityWindow{
		{UserID: coach, DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"},
		{UserID: "coach-2", DayOfWeek: 1, StartTime: "11:00", EndTime: "12:00"},
	})
	assert.Error(t, err)
	assert.NoError(t, store.InsertWindows(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateWindowNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	expectWindowLock(mock)
	mock.ExpectQuery("UPDATE availability_windows").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	w := &AvailabilityWindow{ID: "missing", UserID: coach, DayOfWeek: 2, StartTime: "09:00", EndTime: "10:00", Timezone: "UTC"}
	err := store.UpdateWindow(context.Background(), w)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpdateWindowRejectsOverlap(t *testing.T) {
	store, mock := newMockStore(t)

	expectWindowLock(mock)
	mock.ExpectQuery("SELECT id FROM availability_windows").
		WithArgs(coach, 3, "w-1", "12:00", "08:00").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("w-2"))
	mock.ExpectRollback()

	w := &AvailabilityWindow{ID: "w-1", UserID: coach, DayOfWeek: 3, StartTime: "08:00", EndTime: "12:00", Timezone: "UTC", IsActive: true}
	assert.ErrorIs(t, store.UpdateWindow(context.Background(), w), ErrWindowOverlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreDeleteNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM availability_windows").
		WithArgs("w1", coach).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("DELETE FROM blackout_dates").
		WithArgs("b1", coach).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	assert.ErrorIs(t, store.DeleteWindow(context.Background(), coach, "w1"), pgx.ErrNoRows)
	assert.NoError(t, store.DeleteBlackout(context.Background(), coach, "b1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertBlackoutRejectsOverlap(t *testing.T) {
	store, mock := newMockStore(t)
	start := monday
	end := monday.AddDate(0, 0, 2)

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").
		WithArgs("blackout:" + coach).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT id FROM blackout_dates").
		WithArgs(coach, start, end).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("bo-existing"))
	mock.ExpectRollback()

	err := store.InsertBlackout(context.Background(), &BlackoutDate{UserID: coach, StartDate: start, EndDate: end})
	assert.ErrorIs(t, err, ErrBlackoutOverlap)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreInsertBlackoutBeginFailure(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("pool exhausted")

	mock.ExpectBegin().WillReturnError(boom)

	err := store.InsertBlackout(context.Background(), &BlackoutDate{UserID: coach, StartDate: monday, EndDate: monday})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
