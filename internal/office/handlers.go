// Package office exposes the REST surface around the realtime layer: chat
// message history, the office schedule, and a health probe. Message creation
// fans out to the conversation's live subscribers through the realtime
// handler.
package office

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/officeverse/presence/internal/observability"
	"github.com/officeverse/presence/internal/presence"
	"github.com/officeverse/presence/internal/storage/postgres"
)

// MessageStore is the message persistence surface the handlers need.
type MessageStore interface {
	Create(ctx context.Context, conversationID, userID, username, body string) (postgres.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]postgres.Message, error)
}

// ScheduleStore is the calendar persistence surface the handlers need.
type ScheduleStore interface {
	Create(ctx context.Context, ev postgres.ScheduleEvent) (postgres.ScheduleEvent, error)
	ListUpcoming(ctx context.Context, after time.Time, limit int) ([]postgres.ScheduleEvent, error)
	Delete(ctx context.Context, id int64) error
}

// Notifier pushes a stored message to a conversation's live subscribers.
type Notifier interface {
	NotifyNewMessage(conversationID string, message json.RawMessage)
}

// Handlers carries the REST endpoint dependencies.
type Handlers struct {
	messages MessageStore
	schedule ScheduleStore
	notifier Notifier
	registry *presence.Registry
	logger   *zap.Logger
}

// NewHandlers creates the REST handler set.
//
// Precondition: registry, notifier, and logger must be non-nil. messages and
// schedule may be nil when the server runs without a database; their routes
// then answer 503.
func NewHandlers(messages MessageStore, schedule ScheduleStore, notifier Notifier, registry *presence.Registry, logger *zap.Logger) *Handlers {
	return &Handlers{
		messages: messages,
		schedule: schedule,
		notifier: notifier,
		registry: registry,
		logger:   logger,
	}
}

// Register mounts the REST routes.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/healthz", h.health)
	r.GET("/conversations/:id/messages", h.listMessages)
	r.POST("/conversations/:id/messages", h.createMessage)
	r.GET("/schedule", h.listSchedule)
	r.POST("/schedule", h.createScheduleEvent)
	r.DELETE("/schedule/:id", h.deleteScheduleEvent)
}

func (h *Handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"participants": h.registry.Count(),
		"rooms":        h.registry.RoomCount(),
	})
}

// messageJSON is the wire shape shared by the REST response and the
// new_message socket fan-out.
type messageJSON struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

func toMessageJSON(m postgres.Message) messageJSON {
	return messageJSON{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Username:       m.Username,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
}

type createMessageRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Username string `json:"username" binding:"required"`
	Body     string `json:"body" binding:"required"`
}

func (h *Handlers) createMessage(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message storage not configured"})
		return
	}
	conversationID := c.Param("id")

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Create(c.Request.Context(), conversationID, req.UserID, req.Username, req.Body)
	if err != nil {
		h.logger.Error("storing message", observability.Conversation(conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storing message failed"})
		return
	}

	out := toMessageJSON(msg)
	if raw, err := json.Marshal(out); err == nil {
		h.notifier.NotifyNewMessage(conversationID, raw)
	}

	c.JSON(http.StatusCreated, out)
}

func (h *Handlers) listMessages(c *gin.Context) {
	if h.messages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "message storage not configured"})
		return
	}
	conversationID := c.Param("id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	msgs, err := h.messages.ListByConversation(c.Request.Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("listing messages", observability.Conversation(conversationID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing messages failed"})
		return
	}

	out := make([]messageJSON, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessageJSON(msg))
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type scheduleEventJSON struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func toScheduleEventJSON(ev postgres.ScheduleEvent) scheduleEventJSON {
	return scheduleEventJSON{
		ID:          ev.ID,
		Title:       ev.Title,
		Description: ev.Description,
		StartsAt:    ev.StartsAt,
		EndsAt:      ev.EndsAt,
		CreatedBy:   ev.CreatedBy,
		CreatedAt:   ev.CreatedAt,
	}
}

type createScheduleEventRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
	CreatedBy   string    `json:"created_by" binding:"required"`
}

func (h *Handlers) createScheduleEvent(c *gin.Context) {
	if h.schedule == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schedule storage not configured"})
		return
	}

	var req createScheduleEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ends_at must be after starts_at"})
		return
	}

	ev, err := h.schedule.Create(c.Request.Context(), postgres.ScheduleEvent{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		CreatedBy:   req.CreatedBy,
	})
	if err != nil {
		h.logger.Error("storing schedule event", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storing schedule event failed"})
		return
	}

	c.JSON(http.StatusCreated, toScheduleEventJSON(ev))
}

func (h *Handlers) listSchedule(c *gin.Context) {
	if h.schedule == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schedule storage not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	events, err := h.schedule.ListUpcoming(c.Request.Context(), time.Now(), limit)
	if err != nil {
		h.logger.Error("listing schedule events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing schedule events failed"})
		return
	}

	out := make([]scheduleEventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, toScheduleEventJSON(ev))
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

func (h *Handlers) deleteScheduleEvent(c *gin.Context) {
	if h.schedule == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "schedule storage not configured"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	if err := h.schedule.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, postgres.ErrEventNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return
		}
		h.logger.Error("deleting schedule event", zap.Int64("id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "deleting schedule event failed"})
		return
	}

	c.Status(http.StatusNoContent)
}
