package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"availability-service/internal/config"
	appErrors "availability-service/internal/errors"
)

type slotComputerStub struct {
	slots []Slot
	err   error
	loc   *time.Location

	userID   string
	date     time.Time
	duration int
	calls    int
}

func (s *slotComputerStub) ComputeAvailableSlots(_ context.Context, userID string, date time.Time, durationMinutes int) ([]Slot, error) {
	s.calls++
	s.userID = userID
	s.date = date
	s.duration = durationMinutes
	return s.slots, s.err
}

func (s *slotComputerStub) Location() *time.Location {
	if s.loc == nil {
		return time.UTC
	}
	return s.loc
}

func newTestRouter(a *App) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	a.RegisterRoutes(router,
		AuthMiddleware(config.AuthConfig{JWTSecret: testSecret, StaticTokens: []string{"service-token"}}),
		func(c *gin.Context) { c.Next() },
	)
	return router
}

func doRequest(router http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

var serviceAuth = map[string]string{"Authorization": "Bearer service-token"}

func TestGetSlotsHandlerValidation(t *testing.T) {
	cases := []struct {
		name    string
		query   string
		message string
	}{
		{"missing user", "?date=2030-01-07&duration=30", "userId is required"},
		{"blank user", "?userId=%20&date=2030-01-07&duration=30", "userId is required"},
		{"missing date", "?userId=u1&duration=30", "date is required (YYYY-MM-DD)"},
		{"bad date", "?userId=u1&date=07-01-2030&duration=30", "invalid date, expected YYYY-MM-DD"},
		{"impossible date", "?userId=u1&date=2030-02-30&duration=30", "invalid date, expected YYYY-MM-DD"},
		{"missing duration", "?userId=u1&date=2030-01-07", "duration is required (minutes)"},
		{"text duration", "?userId=u1&date=2030-01-07&duration=abc", "duration must be a positive integer"},
		{"zero duration", "?userId=u1&date=2030-01-07&duration=0", "duration must be a positive integer"},
		{"negative duration", "?userId=u1&date=2030-01-07&duration=-30", "duration must be a positive integer"},
		{"longer than a day", "?userId=u1&date=2030-01-07&duration=1441", "duration must not exceed 1440 minutes"},
		{"overflowing duration", "?userId=u1&date=2030-01-07&duration=200000000", "duration must not exceed 1440 minutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &slotComputerStub{}
			router := newTestRouter(&App{Slots: stub})

			w := doRequest(router, http.MethodGet, "/api/availability/slots"+tc.query, "", nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, appErrors.ErrValidation.Code, body.Error.Code)
			assert.Equal(t, tc.message, body.Error.Message)
			assert.Zero(t, stub.calls)
		})
	}
}

func TestGetSlotsHandlerReturnsSlots(t *testing.T) {
	stub := &slotComputerStub{slots: []Slot{{Start: at(9, 0), End: at(10, 0)}}}
	router := newTestRouter(&App{Slots: stub})

	w := doRequest(router, http.MethodGet, "/api/availability/slots?userId=coach-1&date=2030-01-07&duration=60", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"slots":[{"start":"2030-01-07T09:00:00Z","end":"2030-01-07T10:00:00Z"}]}`, w.Body.String())
	assert.Equal(t, "coach-1", stub.userID)
	assert.Equal(t, 60, stub.duration)
	assert.True(t, stub.date.Equal(monday))
}

func TestGetSlotsHandlerEmptyList(t *testing.T) {
	router := newTestRouter(&App{Slots: &slotComputerStub{slots: []Slot{}}})

	w := doRequest(router, http.MethodGet, "/api/availability/slots?userId=coach-1&date=2030-01-07&duration=30", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"slots":[]}`, w.Body.String())
}

func TestGetSlotsHandlerParsesDateInLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	stub := &slotComputerStub{slots: []Slot{}, loc: loc}
	router := newTestRouter(&App{Slots: stub})

	w := doRequest(router, http.MethodGet, "/api/availability/slots?userId=coach-1&date=2030-01-07&duration=30", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, stub.date.Equal(time.Date(2030, 1, 7, 0, 0, 0, 0, loc)))
}

func TestGetSlotsHandlerStoreFailure(t *testing.T) {
	stub := &slotComputerStub{err: appErrors.Internal(errors.New("db down"), "failed to compute slots")}
	router := newTestRouter(&App{Slots: stub})

	w := doRequest(router, http.MethodGet, "/api/availability/slots?userId=coach-1&date=2030-01-07&duration=30", "", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, appErrors.ErrInternal.Code, body.Error.Code)
	assert.NotContains(t, w.Body.String(), "db down")
}

func TestGetSlotsHandlerDirect(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := &App{Slots: &slotComputerStub{slots: []Slot{}}}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/availability/slots?userId=u&date=2030-01-07&duration=15", nil)

	a.GetSlotsHandler(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetAvailabilityAcceptsObjectOrArray(t *testing.T) {
	repo := &settingsRepoStub{}
	a := &App{Settings: NewSettingsService(repo, nil, nil, nil)}
	router := newTestRouter(a)

	w := doRequest(router, http.MethodPost, "/api/users/coach-1/availability",
		`{"day_of_week":1,"start_time":"09:00","end_time":"12:00"}`, serviceAuth)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(router, http.MethodPost, "/api/users/coach-1/availability",
		` [{"day_of_week":2,"start_time":"09:00","end_time":"10:00"},{"day_of_week":3,"start_time":"13:00","end_time":"14:00","timezone":"Europe/Berlin"}]`, serviceAuth)
	require.Equal(t, http.StatusCreated, w.Code)

	var body struct {
		Data []AvailabilityWindow `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "Europe/Berlin", body.Data[1].Timezone)
	assert.Len(t, repo.inserted, 3)
}

func TestSetAvailabilityRejectsBadPayloads(t *testing.T) {
	router := newTestRouter(&App{Settings: NewSettingsService(&settingsRepoStub{}, nil, nil, nil)})

	w := doRequest(router, http.MethodPost, "/api/users/coach-1/availability", `{"day_of_week":`, serviceAuth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid JSON payload", decodeError(t, w).Error.Message)

	w = doRequest(router, http.MethodPost, "/api/users/coach-1/availability", `[]`, serviceAuth)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/users/coach-1/availability",
		`{"day_of_week":1,"start_time":"12:00","end_time":"09:00"}`, serviceAuth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "end_time must be after start_time", decodeError(t, w).Error.Message)
}

func TestSetAvailabilityOverlapConflict(t *testing.T) {
	router := newTestRouter(&App{Settings: NewSettingsService(&settingsRepoStub{insertErr: ErrWindowOverlap}, nil, nil, nil)})

	w := doRequest(router, http.MethodPost, "/api/users/coach-1/availability",
		`{"day_of_week":1,"start_time":"09:00","end_time":"12:00"}`, serviceAuth)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrConflict.Code, decodeError(t, w).Error.Code)
}

func TestDeleteHandlersStatus(t *testing.T) {
	router := newTestRouter(&App{Settings: NewSettingsService(&settingsRepoStub{}, nil, nil, nil)})

	w := doRequest(router, http.MethodDelete, "/api/users/coach-1/availability/w1", "", serviceAuth)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doRequest(router, http.MethodDelete, "/api/users/coach-1/blackouts/b1", "", serviceAuth)
	assert.Equal(t, http.StatusNoContent, w.Code)

	missing := newTestRouter(&App{Settings: NewSettingsService(&settingsRepoStub{deleteErr: pgx.ErrNoRows}, nil, nil, nil)})
	w = doRequest(missing, http.MethodDelete, "/api/users/coach-1/availability/w1", "", serviceAuth)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateBlackoutHandler(t *testing.T) {
	repo := &settingsRepoStub{}
	router := newTestRouter(&App{Settings: NewSettingsService(repo, nil, nil, nil)})

	w := doRequest(router, http.MethodPost, "/api/users/coach-1/blackouts",
		`{"start_date":"2030-01-07","end_date":"2030-01-08","reason":"conference"}`, serviceAuth)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, repo.blackout)
	assert.Equal(t, "coach-1", repo.blackout.UserID)

	w = doRequest(router, http.MethodPost, "/api/users/coach-1/blackouts", `{"start_date":"2030-01-07"}`, serviceAuth)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBookingsHandlerRange(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		status   int
		filtered bool
	}{
		{"no range", "", http.StatusOK, false},
		{"full range", "?from=2030-01-07T00:00:00Z&to=2030-01-08T00:00:00Z", http.StatusOK, true},
		{"offset range", "?from=2030-01-07T00:00:00%2B02:00&to=2030-01-08T00:00:00%2B02:00", http.StatusOK, true},
		{"from only", "?from=2030-01-07T00:00:00Z", http.StatusBadRequest, false},
		{"to only", "?to=2030-01-07T00:00:00Z", http.StatusBadRequest, false},
		{"bad from", "?from=yesterday&to=2030-01-08T00:00:00Z", http.StatusBadRequest, false},
		{"inverted", "?from=2030-01-08T00:00:00Z&to=2030-01-07T00:00:00Z", http.StatusBadRequest, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &settingsRepoStub{}
			router := newTestRouter(&App{Settings: NewSettingsService(repo, nil, nil, nil)})

			w := doRequest(router, http.MethodGet, "/api/users/coach-1/bookings"+tc.query, "", serviceAuth)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusOK {
				assert.Equal(t, tc.filtered, repo.filtered)
				assert.JSONEq(t, `{"data":[]}`, w.Body.String())
			}
		})
	}
}

func TestSettingsRoutesRequireAuth(t *testing.T) {
	router := newTestRouter(&App{Settings: NewSettingsService(&settingsRepoStub{}, nil, nil, nil)})

	w := doRequest(router, http.MethodGet, "/api/users/coach-1/availability", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/users/coach-1/availability", "", serviceAuth)
	assert.Equal(t, http.StatusOK, w.Code)
}
