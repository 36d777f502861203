package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "availability-service/internal/errors"
	"availability-service/internal/response"
)

type slotComputer interface {
	ComputeAvailableSlots(ctx context.Context, userID string, date time.Time, durationMinutes int) ([]Slot, error)
	Location() *time.Location
}

type settingsManager interface {
	ListWindows(ctx context.Context, userID string) ([]AvailabilityWindow, error)
	CreateWindows(ctx context.Context, userID string, reqs []WindowRequest) ([]AvailabilityWindow, error)
	UpdateWindow(ctx context.Context, userID, windowID string, req WindowRequest) (*AvailabilityWindow, error)
	DeleteWindow(ctx context.Context, userID, windowID string) error
	ListBlackouts(ctx context.Context, userID string) ([]BlackoutDate, error)
	CreateBlackout(ctx context.Context, userID string, req BlackoutRequest) (*BlackoutDate, error)
	DeleteBlackout(ctx context.Context, userID, blackoutID string) error
	ListBookings(ctx context.Context, userID string, from, to time.Time, filtered bool) ([]Booking, error)
}

// App bundles the HTTP handlers of the service.
type App struct {
	Slots    slotComputer
	Settings settingsManager
	Calendar *CalendarService
}

// GET /api/availability/slots?userId=&date=YYYY-MM-DD&duration=
func (a *App) GetSlotsHandler(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("userId"))
	if userID == "" {
		response.Error(c, appErrors.Validation("userId is required"))
		return
	}

	dateStr := c.Query("date")
	if dateStr == "" {
		response.Error(c, appErrors.Validation("date is required (YYYY-MM-DD)"))
		return
	}
	date, err := time.ParseInLocation(time.DateOnly, dateStr, a.Slots.Location())
	if err != nil {
		response.Error(c, appErrors.Validation("invalid date, expected YYYY-MM-DD"))
		return
	}

	durationStr := c.Query("duration")
	if durationStr == "" {
		response.Error(c, appErrors.Validation("duration is required (minutes)"))
		return
	}
	duration, err := strconv.Atoi(durationStr)
	if err != nil || duration <= 0 {
		response.Error(c, appErrors.Validation("duration must be a positive integer"))
		return
	}
	if duration > MaxSlotMinutes {
		response.Error(c, appErrors.Validation(fmt.Sprintf("duration must not exceed %d minutes", MaxSlotMinutes)))
		return
	}

	slots, err := a.Slots.ComputeAvailableSlots(c.Request.Context(), userID, date, duration)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": slots})
}

// GET /users/:id/availability
func (a *App) ListAvailabilityHandler(c *gin.Context) {
	windows, err := a.Settings.ListWindows(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows)
}

// POST /users/:id/availability
// Accepts a single window or a list of windows.
func (a *App) SetAvailabilityHandler(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		response.Error(c, appErrors.Validation("unreadable body"))
		return
	}
	reqs, err := decodeWindowRequests(raw)
	if err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid JSON payload"))
		return
	}

	saved, err := a.Settings.CreateWindows(c.Request.Context(), c.Param("id"), reqs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, saved)
}

// PUT /users/:id/availability/:window_id
func (a *App) UpdateAvailabilityHandler(c *gin.Context) {
	var payload WindowRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid JSON payload"))
		return
	}

	w, err := a.Settings.UpdateWindow(c.Request.Context(), c.Param("id"), c.Param("window_id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, w)
}

// DELETE /users/:id/availability/:window_id
func (a *App) DeleteAvailabilityHandler(c *gin.Context) {
	if err := a.Settings.DeleteWindow(c.Request.Context(), c.Param("id"), c.Param("window_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GET /users/:id/blackouts
func (a *App) ListBlackoutsHandler(c *gin.Context) {
	blackouts, err := a.Settings.ListBlackouts(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blackouts)
}

// POST /users/:id/blackouts
func (a *App) CreateBlackoutHandler(c *gin.Context) {
	var payload BlackoutRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Invalid(err, "invalid JSON payload"))
		return
	}

	b, err := a.Settings.CreateBlackout(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, b)
}

// DELETE /users/:id/blackouts/:blackout_id
func (a *App) DeleteBlackoutHandler(c *gin.Context) {
	if err := a.Settings.DeleteBlackout(c.Request.Context(), c.Param("id"), c.Param("blackout_id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GET /users/:id/bookings?from=ISO&to=ISO
func (a *App) ListBookingsHandler(c *gin.Context) {
	fromStr := c.Query("from")
	toStr := c.Query("to")

	var from, to time.Time
	filtered := fromStr != "" || toStr != ""
	if filtered {
		if fromStr == "" || toStr == "" {
			response.Error(c, appErrors.Validation("from and to must be provided together (RFC3339)"))
			return
		}
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			response.Error(c, appErrors.Validation("invalid from"))
			return
		}
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			response.Error(c, appErrors.Validation("invalid to"))
			return
		}
		if !from.Before(to) {
			response.Error(c, appErrors.Validation("from must be before to"))
			return
		}
	}

	bookings, err := a.Settings.ListBookings(c.Request.Context(), c.Param("id"), from.UTC(), to.UTC(), filtered)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings)
}

func decodeWindowRequests(raw []byte) ([]WindowRequest, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var reqs []WindowRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, err
		}
		return reqs, nil
	}
	var req WindowRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, err
	}
	return []WindowRequest{req}, nil
}
