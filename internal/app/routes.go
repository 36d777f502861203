package app

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the service API. auth guards the coach settings and
// calendar routes; limiter guards the public slots endpoint.
func (a *App) RegisterRoutes(router gin.IRouter, auth, limiter gin.HandlerFunc) {
	// OAuth2 callback (must be before auth middleware)
	router.GET("/oauth2callback", a.GoogleOAuth2CallbackHandler)

	api := router.Group("/api")
	{
		api.GET("/availability/slots", limiter, a.GetSlotsHandler)

		users := api.Group("/users/:id", auth, RequireOwner())
		{
			users.GET("/availability", a.ListAvailabilityHandler)
			users.POST("/availability", a.SetAvailabilityHandler)
			users.PUT("/availability/:window_id", a.UpdateAvailabilityHandler)
			users.DELETE("/availability/:window_id", a.DeleteAvailabilityHandler)
			users.GET("/blackouts", a.ListBlackoutsHandler)
			users.POST("/blackouts", a.CreateBlackoutHandler)
			users.DELETE("/blackouts/:blackout_id", a.DeleteBlackoutHandler)
			users.GET("/bookings", a.ListBookingsHandler)
		}

		// Google Calendar integration routes
		calendar := api.Group("/calendar", auth)
		{
			calendar.GET("/auth", a.GoogleAuthHandler)
			calendar.GET("/events", a.GetGoogleCalendarEvents)
			calendar.GET("/calendars", a.GetGoogleCalendarList)
		}
	}
}
