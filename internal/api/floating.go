package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mainthub/notifier/internal/notification"
)

// FloatingView is a visible toast with its render state at request time.
type FloatingView struct {
	notification.FloatingEntry
	Persistent bool               `json:"persistent"`
	Phase      notification.Phase `json:"phase"`
	Progress   float64            `json:"progress"`
}

// ListFloating returns the visible toasts, newest first.
func (s *Server) ListFloating(c echo.Context) error {
	now := s.clock.Now()
	presenter := s.service.Presenter()

	entries := s.service.Floating()
	views := make([]FloatingView, 0, len(entries))
	for _, e := range entries {
		views = append(views, FloatingView{
			FloatingEntry: e,
			Persistent:    e.Persistent(),
			Phase:         presenter.Phase(e, now),
			Progress:      notification.Progress(e, now),
		})
	}
	return c.JSON(http.StatusOK, views)
}

// DismissFloating closes a toast without touching its record.
func (s *Server) DismissFloating(c echo.Context) error {
	if !s.service.Dismiss(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Toast not visible"})
	}
	return c.NoContent(http.StatusNoContent)
}

// ClickFloating marks the toast's record read and closes the toast.
func (s *Server) ClickFloating(c echo.Context) error {
	if !s.service.Click(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Toast not visible"})
	}
	return c.NoContent(http.StatusNoContent)
}
