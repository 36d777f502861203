package app

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	appErrors "availability-service/internal/errors"
)

var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

type settingsRepository interface {
	ListWindows(ctx context.Context, userID string) ([]AvailabilityWindow, error)
	InsertWindows(ctx context.Context, windows []*AvailabilityWindow) error
	UpdateWindow(ctx context.Context, w *AvailabilityWindow) error
	DeleteWindow(ctx context.Context, userID, windowID string) error
	ListBlackouts(ctx context.Context, userID string) ([]BlackoutDate, error)
	InsertBlackout(ctx context.Context, b *BlackoutDate) error
	DeleteBlackout(ctx context.Context, userID, blackoutID string) error
	ListBookings(ctx context.Context, userID string, from, to time.Time, filtered bool) ([]Booking, error)
}

// WindowRequest is the create/update payload for an availability window.
type WindowRequest struct {
	DayOfWeek *int   `json:"day_of_week" validate:"required,min=0,max=6"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
	Timezone  string `json:"timezone" validate:"omitempty,timezone"`
	IsActive  *bool  `json:"is_active"`
}

// BlackoutRequest is the create payload for a blackout range (inclusive dates).
type BlackoutRequest struct {
	StartDate string  `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate   string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason    *string `json:"reason" validate:"omitempty,max=255"`
}

// SettingsService manages the coach-edited configuration the slot generator reads.
type SettingsService struct {
	repo      settingsRepository
	validator *validator.Validate
	loc       *time.Location
	logger    *zap.Logger
}

func NewSettingsService(repo settingsRepository, validate *validator.Validate, loc *time.Location, logger *zap.Logger) *SettingsService {
	if validate == nil {
		validate = validator.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	_ = validate.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		return hhmmPattern.MatchString(fl.Field().String())
	})
	return &SettingsService{repo: repo, validator: validate, loc: loc, logger: logger}
}

func (s *SettingsService) validateWindow(req WindowRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Invalid(err, validationMessage(err))
	}
	if req.EndTime <= req.StartTime {
		return appErrors.Validation("end_time must be after start_time")
	}
	return nil
}

func (s *SettingsService) ListWindows(ctx context.Context, userID string) ([]AvailabilityWindow, error) {
	windows, err := s.repo.ListWindows(ctx, userID)
	if err != nil {
		s.logger.Error("list windows failed", zap.String("user_id", userID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to list availability windows")
	}
	if windows == nil {
		windows = []AvailabilityWindow{}
	}
	return windows, nil
}

// CreateWindows saves every request or none of them.
func (s *SettingsService) CreateWindows(ctx context.Context, userID string, reqs []WindowRequest) ([]AvailabilityWindow, error) {
	if len(reqs) == 0 {
		return nil, appErrors.Validation("at least one window is required")
	}
	for _, req := range reqs {
		if err := s.validateWindow(req); err != nil {
			return nil, err
		}
	}

	pending := make([]*AvailabilityWindow, 0, len(reqs))
	for _, req := range reqs {
		w := windowFromRequest(userID, req)
		pending = append(pending, &w)
	}
	if err := s.repo.InsertWindows(ctx, pending); err != nil {
		return nil, s.mapWriteError(err, "window", userID)
	}

	saved := make([]AvailabilityWindow, 0, len(pending))
	for _, w := range pending {
		saved = append(saved, *w)
	}
	return saved, nil
}

func (s *SettingsService) UpdateWindow(ctx context.Context, userID, windowID string, req WindowRequest) (*AvailabilityWindow, error) {
	if err := s.validateWindow(req); err != nil {
		return nil, err
	}
	w := windowFromRequest(userID, req)
	w.ID = windowID
	if err := s.repo.UpdateWindow(ctx, &w); err != nil {
		return nil, s.mapWriteError(err, "window", userID)
	}
	return &w, nil
}

func (s *SettingsService) DeleteWindow(ctx context.Context, userID, windowID string) error {
	if err := s.repo.DeleteWindow(ctx, userID, windowID); err != nil {
		return s.mapWriteError(err, "window", userID)
	}
	return nil
}

func (s *SettingsService) ListBlackouts(ctx context.Context, userID string) ([]BlackoutDate, error) {
	blackouts, err := s.repo.ListBlackouts(ctx, userID)
	if err != nil {
		s.logger.Error("list blackouts failed", zap.String("user_id", userID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to list blackout dates")
	}
	if blackouts == nil {
		blackouts = []BlackoutDate{}
	}
	return blackouts, nil
}

func (s *SettingsService) CreateBlackout(ctx context.Context, userID string, req BlackoutRequest) (*BlackoutDate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Invalid(err, validationMessage(err))
	}
	start, err := time.ParseInLocation(time.DateOnly, req.StartDate, s.loc)
	if err != nil {
		return nil, appErrors.Validation("invalid start_date, expected YYYY-MM-DD")
	}
	end, err := time.ParseInLocation(time.DateOnly, req.EndDate, s.loc)
	if err != nil {
		return nil, appErrors.Validation("invalid end_date, expected YYYY-MM-DD")
	}
	if end.Before(start) {
		return nil, appErrors.Validation("end_date must be on or after start_date")
	}

	b := &BlackoutDate{UserID: userID, StartDate: start, EndDate: end, Reason: req.Reason}
	if err := s.repo.InsertBlackout(ctx, b); err != nil {
		return nil, s.mapWriteError(err, "blackout", userID)
	}
	return b, nil
}

func (s *SettingsService) DeleteBlackout(ctx context.Context, userID, blackoutID string) error {
	if err := s.repo.DeleteBlackout(ctx, userID, blackoutID); err != nil {
		return s.mapWriteError(err, "blackout", userID)
	}
	return nil
}

// ListBookings returns the coach's bookings, optionally limited to [from, to).
func (s *SettingsService) ListBookings(ctx context.Context, userID string, from, to time.Time, filtered bool) ([]Booking, error) {
	bookings, err := s.repo.ListBookings(ctx, userID, from, to, filtered)
	if err != nil {
		s.logger.Error("list bookings failed", zap.String("user_id", userID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to list bookings")
	}
	if bookings == nil {
		bookings = []Booking{}
	}
	return bookings, nil
}

func (s *SettingsService) mapWriteError(err error, resource, userID string) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return appErrors.ErrNotFound.WithMessage(resource+" not found")
	case errors.Is(err, ErrWindowOverlap), errors.Is(err, ErrBlackoutOverlap):
		return appErrors.ErrConflict.Wrap(err, err.Error())
	}
	s.logger.Error("settings write failed", zap.String("resource", resource), zap.String("user_id", userID), zap.Error(err))
	return appErrors.Internal(err, "failed to save "+resource)
}

func windowFromRequest(userID string, req WindowRequest) AvailabilityWindow {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return AvailabilityWindow{
		UserID:    userID,
		DayOfWeek: *req.DayOfWeek,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Timezone:  tz,
		IsActive:  active,
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, toSnake(fe.Field()))
	}
	return "invalid " + strings.Join(fields, ", ")
}

func toSnake(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
