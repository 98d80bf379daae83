package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mainthub/notifier/internal/errors"
	"github.com/mainthub/notifier/internal/listview"
	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

// SummaryResponse carries the list screen counters and channel state.
type SummaryResponse struct {
	UnreadCount       int                     `json:"unreadCount"`
	CriticalCount     int                     `json:"criticalCount"`
	TodayCount        int                     `json:"todayCount"`
	TotalCount        int                     `json:"totalCount"`
	FloatingCount     int                     `json:"floatingCount"`
	IsConnected       bool                    `json:"isConnected"`
	UsingRealData     bool                    `json:"usingRealData"`
	Transport         string                  `json:"transport,omitempty"`
	DesktopPermission notification.Permission `json:"desktopPermission"`
}

// SendRequest is the body of POST /notifications.
type SendRequest struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Priority   string         `json:"priority,omitempty"`
	Project    string         `json:"project,omitempty"`
	Actions    []string       `json:"actions,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Persistent bool           `json:"persistent,omitempty"`
}

// ReloadResponse reports the outcome of a manual reload.
type ReloadResponse struct {
	Count         int    `json:"count"`
	UsingRealData bool   `json:"usingRealData"`
	Error         string `json:"error,omitempty"`
}

// ListNotifications returns one page of the filtered, sorted notification list.
func (s *Server) ListNotifications(c echo.Context) error {
	q := listview.ParseQuery(c.QueryParams())
	if len(q.SearchFields) == 0 {
		q.SearchFields = notification.DefaultSearchFields
	}
	if q.PerPage <= 0 {
		q.PerPage = s.config.PerPage
	}
	if q.Locale == "" {
		q.Locale = s.config.Locale
	}

	result := listview.View(s.service.Store().All(), q, notification.RecordField)
	return c.JSON(http.StatusOK, result)
}

// GetSummary returns unread, critical and today counters plus channel state.
func (s *Server) GetSummary(c echo.Context) error {
	vm := s.service.View(s.clock.Now())
	return c.JSON(http.StatusOK, SummaryResponse{
		UnreadCount:       vm.UnreadCount,
		CriticalCount:     vm.CriticalCount,
		TodayCount:        vm.TodayCount,
		TotalCount:        len(vm.Notifications),
		FloatingCount:     len(s.service.Floating()),
		IsConnected:       vm.IsConnected,
		UsingRealData:     vm.UsingRealData,
		Transport:         vm.Transport,
		DesktopPermission: s.service.DesktopPermission(),
	})
}

// GetNotification returns a single notification by ID.
func (s *Server) GetNotification(c echo.Context) error {
	rec, err := s.service.Get(c.Param("id"))
	if err != nil {
		return s.errorResponse(c, err, "Failed to retrieve notification")
	}
	return c.JSON(http.StatusOK, rec)
}

// SendNotification sends a notification over the channel, or delivers it
// locally when offline.
func (s *Server) SendNotification(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Message = strings.TrimSpace(req.Message)
	if req.Title == "" && req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Title or message is required"})
	}
	priority := notification.Priority(strings.ToUpper(req.Priority))
	if priority != "" && !priority.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unknown priority"})
	}

	rec, err := s.service.SendNotification(c.Request().Context(),
		notification.Type(strings.ToUpper(req.Type)), req.Title, req.Message,
		notification.SendOptions{
			Priority:   priority,
			Project:    req.Project,
			Actions:    req.Actions,
			Metadata:   req.Metadata,
			Persistent: req.Persistent,
		})
	if err != nil {
		return s.errorResponse(c, err, "Failed to send notification")
	}
	return c.JSON(http.StatusCreated, rec)
}

// MarkRead marks a notification as read.
func (s *Server) MarkRead(c echo.Context) error {
	if err := s.service.MarkRead(c.Param("id")); err != nil {
		return s.errorResponse(c, err, "Failed to mark notification as read")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

// MarkAllRead marks every notification as read.
func (s *Server) MarkAllRead(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]int{"updated": s.service.MarkAllRead()})
}

// DeleteNotification removes a notification.
func (s *Server) DeleteNotification(c echo.Context) error {
	if err := s.service.Remove(c.Param("id")); err != nil {
		return s.errorResponse(c, err, "Failed to delete notification")
	}
	return c.NoContent(http.StatusNoContent)
}

// ClearNotifications empties the list.
func (s *Server) ClearNotifications(c echo.Context) error {
	s.service.Clear()
	return c.NoContent(http.StatusNoContent)
}

// Reload refetches the list from the backend; a failed fetch is reported in
// the body, not the status. The fetch outlives a client that hangs up.
func (s *Server) Reload(c echo.Context) error {
	err := s.service.Reload(context.WithoutCancel(c.Request().Context()))
	if errors.Is(err, notification.ErrServiceStopped) {
		return s.errorResponse(c, err, "")
	}

	resp := ReloadResponse{
		Count:         s.service.Store().Len(),
		UsingRealData: s.service.UsingRealData(),
	}
	if err != nil {
		resp.Error = logger.RedactSensitiveData(err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// TriggerAction routes one of a notification's actions and marks it read.
func (s *Server) TriggerAction(c echo.Context) error {
	id, action := c.Param("id"), c.Param("action")
	if err := s.service.TriggerAction(c.Request().Context(), id, action); err != nil {
		return s.errorResponse(c, err, "Failed to trigger action")
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Action triggered", "action": action})
}

// errorResponse maps service errors to HTTP status codes.
func (s *Server) errorResponse(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, notification.ErrNotificationNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Notification not found"})
	case errors.Is(err, notification.ErrUnknownAction):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown action"})
	case errors.Is(err, notification.ErrServiceStopped):
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Notification service not available"})
	case errors.IsCategory(err, errors.CategoryLimit):
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many notifications, please wait"})
	case errors.IsCategory(err, errors.CategoryValidation), errors.IsCategory(err, errors.CategoryPayload):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	s.log.Error(strings.ToLower(fallback), logger.Error(err), logger.String("path", c.Path()))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": fallback})
}
