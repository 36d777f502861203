package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"availability-service/internal/config"
	appErrors "availability-service/internal/errors"
	"availability-service/internal/response"
)

const googleTokenHeader = "X-Google-Token"

var errCalendarDisabled = appErrors.ErrServiceUnavailable.WithMessage("Google Calendar not configured")

// CalendarEvent represents a Google Calendar event
type CalendarEvent struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Location    string    `json:"location,omitempty"`
	Status      string    `json:"status"`
	Creator     string    `json:"creator,omitempty"`
}

type CalendarInfo struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Primary     bool   `json:"primary"`
	AccessRole  string `json:"access_role"`
}

// CalendarService reads a coach's Google Calendar so they can line it up with
// their availability windows. A nil oauth config means the integration is off.
type CalendarService struct {
	oauth  *oauth2.Config
	logger *zap.Logger
}

func NewCalendarService(cfg config.GoogleConfig, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &CalendarService{logger: logger}
	if cfg.Enabled() {
		s.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		}
	}
	return s
}

func (s *CalendarService) Enabled() bool {
	return s != nil && s.oauth != nil
}

// AuthURL returns the consent URL and the state value echoed back on callback.
func (s *CalendarService) AuthURL(userID string, now time.Time) (string, string, error) {
	if !s.Enabled() {
		return "", "", errCalendarDisabled
	}
	state := fmt.Sprintf("user_%s_%d", userID, now.Unix())
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline), state, nil
}

func (s *CalendarService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if !s.Enabled() {
		return nil, errCalendarDisabled
	}
	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, appErrors.Invalid(err, "failed to exchange code for token")
	}
	return token, nil
}

func (s *CalendarService) client(ctx context.Context, token *oauth2.Token) (*calendar.Service, error) {
	if !s.Enabled() {
		return nil, errCalendarDisabled
	}
	srv, err := calendar.NewService(ctx, option.WithHTTPClient(s.oauth.Client(ctx, token)))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create calendar service")
	}
	return srv, nil
}

// ListEvents returns single (expanded) events ordered by start. timeMin and
// timeMax are optional RFC3339 bounds.
func (s *CalendarService) ListEvents(ctx context.Context, token *oauth2.Token, calendarID, timeMin, timeMax string) ([]CalendarEvent, error) {
	srv, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}

	call := srv.Events.List(calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(250).
		Context(ctx)
	if timeMin != "" {
		call = call.TimeMin(timeMin)
	}
	if timeMax != "" {
		call = call.TimeMax(timeMax)
	}

	events, err := call.Do()
	if err != nil {
		s.logger.Warn("google calendar events failed", zap.String("calendar_id", calendarID), zap.Error(err))
		return nil, appErrors.Internal(err, "failed to retrieve events")
	}

	out := make([]CalendarEvent, 0, len(events.Items))
	for _, item := range events.Items {
		event := CalendarEvent{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Location:    item.Location,
			Status:      item.Status,
			StartTime:   eventTime(item.Start),
			EndTime:     eventTime(item.End),
		}
		if item.Creator != nil {
			event.Creator = item.Creator.Email
		}
		out = append(out, event)
	}
	return out, nil
}

func (s *CalendarService) ListCalendars(ctx context.Context, token *oauth2.Token) ([]CalendarInfo, error) {
	srv, err := s.client(ctx, token)
	if err != nil {
		return nil, err
	}

	list, err := srv.CalendarList.List().Context(ctx).Do()
	if err != nil {
		s.logger.Warn("google calendar list failed", zap.Error(err))
		return nil, appErrors.Internal(err, "failed to retrieve calendars")
	}

	out := make([]CalendarInfo, 0, len(list.Items))
	for _, item := range list.Items {
		out = append(out, CalendarInfo{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Primary:     item.Primary,
			AccessRole:  item.AccessRole,
		})
	}
	return out, nil
}

// eventTime reads a timed event's DateTime or an all-day event's Date.
func eventTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(time.DateOnly, dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

func tokenFromHeader(c *gin.Context) (*oauth2.Token, error) {
	raw := c.GetHeader(googleTokenHeader)
	if raw == "" {
		return nil, appErrors.Validation("Google token required in X-Google-Token header")
	}
	var token oauth2.Token
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, appErrors.Validation("invalid token format")
	}
	return &token, nil
}

// GET /api/calendar/auth?user_id=
func (a *App) GoogleAuthHandler(c *gin.Context) {
	url, state, err := a.Calendar.AuthURL(c.Query("user_id"), time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auth_url": url, "state": state})
}

// GET /oauth2callback
func (a *App) GoogleOAuth2CallbackHandler(c *gin.Context) {
	if !a.Calendar.Enabled() {
		response.Error(c, errCalendarDisabled)
		return
	}
	code := c.Query("code")
	if code == "" {
		response.Error(c, appErrors.Validation("authorization code required"))
		return
	}

	token, err := a.Calendar.Exchange(c.Request.Context(), code)
	if err != nil {
		response.Error(c, err)
		return
	}

	// The caller keeps the token and replays it in X-Google-Token.
	tokenJSON, _ := json.Marshal(token)
	c.JSON(http.StatusOK, gin.H{
		"message": "Authorization successful",
		"state":   c.Query("state"),
		"token":   string(tokenJSON),
	})
}

// GET /api/calendar/events?calendar_id=&time_min=&time_max=
func (a *App) GetGoogleCalendarEvents(c *gin.Context) {
	if !a.Calendar.Enabled() {
		response.Error(c, errCalendarDisabled)
		return
	}
	token, err := tokenFromHeader(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	events, err := a.Calendar.ListEvents(c.Request.Context(), token,
		c.DefaultQuery("calendar_id", "primary"), c.Query("time_min"), c.Query("time_max"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

// GET /api/calendar/calendars
func (a *App) GetGoogleCalendarList(c *gin.Context) {
	if !a.Calendar.Enabled() {
		response.Error(c, errCalendarDisabled)
		return
	}
	token, err := tokenFromHeader(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	calendars, err := a.Calendar.ListCalendars(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calendars": calendars, "count": len(calendars)})
}
