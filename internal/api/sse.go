package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mainthub/notifier/internal/logger"
	"github.com/mainthub/notifier/internal/notification"
)

const sseWriteTimeout = 10 * time.Second

// StreamEvent is the data of one store change on the SSE stream.
type StreamEvent struct {
	Kind        notification.EventKind `json:"kind"`
	Record      *notification.Record   `json:"record,omitempty"`
	UnreadCount int                    `json:"unreadCount"`
	Timestamp   time.Time              `json:"timestamp"`
}

// StreamNotifications streams store changes as server-sent events. Event
// names are "connected", the store event kinds and "heartbeat".
func (s *Server) StreamNotifications(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), s.config.MaxStreamDuration)
	defer cancel()

	store := s.service.Store()
	events, subCtx := store.Subscribe()
	defer store.Unsubscribe(events)

	httpMetrics := s.httpMetrics()
	httpMetrics.SSEConnected()
	defer httpMetrics.SSEDisconnected()

	clientID := uuid.New().String()
	log := s.log.Module("sse").With(logger.String("client_id", clientID))
	log.Debug("SSE client connected", logger.String("ip", c.RealIP()))
	defer log.Debug("SSE client disconnected")

	setSSEHeaders(c)
	c.Response().WriteHeader(http.StatusOK)

	if err := s.sendSSEMessage(c, "connected", map[string]any{
		"clientId":    clientID,
		"unreadCount": store.UnreadCount(),
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := s.sendSSEMessage(c, string(ev.Kind), StreamEvent{
				Kind:        ev.Kind,
				Record:      ev.Record,
				UnreadCount: store.UnreadCount(),
				Timestamp:   s.clock.Now(),
			}); err != nil {
				log.Debug("SSE write failed", logger.Error(err))
				return nil
			}

		case <-ticker.C:
			if err := s.sendSSEMessage(c, "heartbeat", map[string]string{
				"timestamp": s.clock.Now().Format(time.RFC3339),
			}); err != nil {
				return nil
			}

		case <-ctx.Done():
			return nil
		case <-subCtx.Done():
			return nil
		case <-s.ctx.Done():
			return nil
		}
	}
}

func setSSEHeaders(c echo.Context) {
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// sendSSEMessage writes one event and flushes it.
func (s *Server) sendSSEMessage(c echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal SSE data: %w", err)
	}

	rc := http.NewResponseController(c.Response().Writer)
	// not every writer supports deadlines
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteTimeout))

	if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("failed to write SSE message: %w", err)
	}
	c.Response().Flush()

	s.httpMetrics().RecordSSEMessage(event)
	return nil
}
