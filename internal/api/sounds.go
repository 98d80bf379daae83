package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mainthub/notifier/internal/alertsound"
	"github.com/mainthub/notifier/internal/notification"
)

// GetSound serves the WAV alert tone of a priority for browser playback.
func (s *Server) GetSound(c echo.Context) error {
	name := strings.TrimSuffix(strings.ToUpper(c.Param("priority")), ".WAV")
	priority := notification.Priority(name)
	if !priority.Valid() {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown priority"})
	}

	data, err := alertsound.WAV(priority)
	if err != nil {
		return s.errorResponse(c, err, "Failed to render alert tone")
	}

	c.Response().Header().Set("Cache-Control", "public, max-age=86400")
	return c.Blob(http.StatusOK, "audio/wav", data)
}
