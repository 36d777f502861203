package app

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	appErrors "availability-service/internal/errors"
	"availability-service/internal/metrics"
)

// SlotTick is the stride used to scan a window for candidate start times. It is
// independent of the requested meeting duration.
const SlotTick = 30 * time.Minute

// MaxSlotMinutes is the longest meeting a single day can hold.
const MaxSlotMinutes = 24 * 60

type WindowStore interface {
	ListActiveWindows(ctx context.Context, userID string, dayOfWeek int) ([]AvailabilityWindow, error)
}

type BlackoutStore interface {
	ListOverlappingBlackouts(ctx context.Context, userID string, dayStart, dayEnd time.Time) ([]BlackoutDate, error)
}

type BookingStore interface {
	ListActiveBookingsOnDay(ctx context.Context, userID string, dayStart, dayEnd time.Time) ([]Booking, error)
}

// SlotStore is everything the generator reads.
type SlotStore interface {
	WindowStore
	BlackoutStore
	BookingStore
}

// SlotGenerator computes bookable slots for a coach on a given date. It holds no
// state between calls and reserves nothing: the booking write path must
// re-check a slot before claiming it.
type SlotGenerator struct {
	store   SlotStore
	loc     *time.Location
	now     func() time.Time
	metrics *metrics.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewSlotGenerator builds a generator. Window times are read as wall-clock
// times in loc; the window's own timezone column is not applied.
func NewSlotGenerator(store SlotStore, loc *time.Location, m *metrics.Metrics, logger *zap.Logger) *SlotGenerator {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlotGenerator{
		store:   store,
		loc:     loc,
		now:     time.Now,
		metrics: m,
		tracer:  otel.Tracer("availability-service/slots"),
		logger:  logger,
	}
}

// Location returns the zone in which dates and window times are interpreted.
func (g *SlotGenerator) Location() *time.Location {
	return g.loc
}

// ComputeAvailableSlots returns the open slots of durationMinutes on the calendar
// day of date, sorted by start. Only the date portion of date is used. Callers
// validate userID and durationMinutes beforehand.
func (g *SlotGenerator) ComputeAvailableSlots(ctx context.Context, userID string, date time.Time, durationMinutes int) ([]Slot, error) {
	ctx, span := g.tracer.Start(ctx, "ComputeAvailableSlots", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("date", date.Format(time.DateOnly)),
		attribute.Int("duration_minutes", durationMinutes),
	))
	defer span.End()

	started := time.Now()
	slots, outcome, err := g.compute(ctx, userID, date, durationMinutes)
	g.metrics.ObserveSlotComputation(outcome, len(slots), time.Since(started))
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("slots", len(slots)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("slot computation failed",
			zap.String("user_id", userID),
			zap.String("date", date.Format(time.DateOnly)),
			zap.Error(err))
		return nil, err
	}
	return slots, nil
}

func (g *SlotGenerator) compute(ctx context.Context, userID string, date time.Time, durationMinutes int) ([]Slot, string, error) {
	if durationMinutes <= 0 || durationMinutes > MaxSlotMinutes {
		return []Slot{}, metrics.OutcomeComputed, nil
	}

	year, month, day := date.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, g.loc)
	dayEnd := time.Date(year, month, day, 23, 59, 59, int(999*time.Millisecond), g.loc)

	windows, err := g.store.ListActiveWindows(ctx, userID, int(dayStart.Weekday()))
	if err != nil {
		return nil, metrics.OutcomeError, appErrors.Internal(err, "failed to load availability windows")
	}
	if len(windows) == 0 {
		return []Slot{}, metrics.OutcomeNoWindows, nil
	}

	blackouts, err := g.store.ListOverlappingBlackouts(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, metrics.OutcomeError, appErrors.Internal(err, "failed to load blackout dates")
	}
	if len(blackouts) > 0 {
		return []Slot{}, metrics.OutcomeBlackout, nil
	}

	bookings, err := g.store.ListActiveBookingsOnDay(ctx, userID, dayStart, dayEnd)
	if err != nil {
		return nil, metrics.OutcomeError, appErrors.Internal(err, "failed to load bookings")
	}

	duration := time.Duration(durationMinutes) * time.Minute
	now := g.now()
	slots := make([]Slot, 0)
	for _, w := range windows {
		start, end, err := windowBounds(dayStart, w)
		if err != nil {
			g.logger.Warn("skipping malformed availability window",
				zap.String("window_id", w.ID),
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		slots = append(slots, walkWindow(start, end, duration, bookings, now)...)
	}

	slices.SortStableFunc(slots, func(a, b Slot) int {
		return a.Start.Compare(b.Start)
	})
	return slots, metrics.OutcomeComputed, nil
}

// walkWindow emits every tick-aligned candidate in [start, end] that fits,
// has not started yet, and does not overlap a blocking booking.
func walkWindow(start, end time.Time, duration time.Duration, bookings []Booking, now time.Time) []Slot {
	var out []Slot
	for cursor := start; cursor.Before(end); cursor = cursor.Add(SlotTick) {
		slotEnd := cursor.Add(duration)
		if slotEnd.After(end) {
			continue
		}
		if cursor.Before(now) {
			continue
		}
		if overlapsAny(cursor, slotEnd, bookings) {
			continue
		}
		out = append(out, Slot{Start: cursor.UTC(), End: slotEnd.UTC()})
	}
	return out
}

func overlapsAny(start, end time.Time, bookings []Booking) bool {
	for _, b := range bookings {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.EndTime) && b.StartTime.Before(end) {
			return true
		}
	}
	return false
}

func windowBounds(dayStart time.Time, w AvailabilityWindow) (time.Time, time.Time, error) {
	startTOD, err := parseHHMM(w.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	endTOD, err := parseHHMM(w.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !endTOD.After(startTOD) {
		return time.Time{}, time.Time{}, fmt.Errorf("end_time must be after start_time for window %s", w.ID)
	}
	year, month, day := dayStart.Date()
	loc := dayStart.Location()
	start := time.Date(year, month, day, startTOD.Hour(), startTOD.Minute(), 0, 0, loc)
	end := time.Date(year, month, day, endTOD.Hour(), endTOD.Minute(), 0, 0, loc)
	return start, end, nil
}

func parseHHMM(s string) (time.Time, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t, nil
}
