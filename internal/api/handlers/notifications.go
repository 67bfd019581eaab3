package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdesk/internal/api/middleware"
	"github.com/orrn/printdesk/internal/db"
	"github.com/orrn/printdesk/internal/notify"
)

type NotificationStore interface {
	ListNotifications(ctx context.Context, ownerID string, limit int) ([]*db.Notification, error)
	MarkRead(ctx context.Context, ownerID string, id int64) error
}

type ContactStore interface {
	GetContact(ctx context.Context, ownerID string) (*db.Contact, error)
	UpsertContact(ctx context.Context, c *db.Contact) error
}

// NotificationHandler serves the in-app inbox and the contact details used by
// the email and SMS channels.
type NotificationHandler struct {
	notifications NotificationStore
	contacts      ContactStore
}

type ContactRequest struct {
	Email string `json:"email" binding:"omitempty,email"`
	Phone string `json:"phone" binding:"omitempty,e164"`
}

func NewNotificationHandler(notifications NotificationStore, contacts ContactStore) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, contacts: contacts}
}

func (h *NotificationHandler) ListOwnerNotifications(c *gin.Context) {
	h.list(c, middleware.OwnerID(c))
}

func (h *NotificationHandler) ListStaffNotifications(c *gin.Context) {
	h.list(c, notify.StaffInbox)
}

func (h *NotificationHandler) list(c *gin.Context, inbox string) {
	limit, _ := pagination(c)
	items, err := h.notifications.ListNotifications(c.Request.Context(), inbox, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve notifications"})
		return
	}
	if items == nil {
		items = []*db.Notification{}
	}
	c.JSON(http.StatusOK, items)
}

func (h *NotificationHandler) MarkOwnerRead(c *gin.Context) {
	h.markRead(c, middleware.OwnerID(c))
}

func (h *NotificationHandler) MarkStaffRead(c *gin.Context) {
	h.markRead(c, notify.StaffInbox)
}

func (h *NotificationHandler) markRead(c *gin.Context, inbox string) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_id", Message: "Invalid notification ID"})
		return
	}
	if err := h.notifications.MarkRead(c.Request.Context(), inbox, id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to update notification"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NotificationHandler) GetContact(c *gin.Context) {
	contact, err := h.contacts.GetContact(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusOK, db.Contact{OwnerID: middleware.OwnerID(c)})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to retrieve contact"})
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (h *NotificationHandler) UpdateContact(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	contact := &db.Contact{OwnerID: middleware.OwnerID(c), Email: req.Email, Phone: req.Phone}
	if err := h.contacts.UpsertContact(c.Request.Context(), contact); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "database_error", Message: "Failed to update contact"})
		return
	}
	c.JSON(http.StatusOK, contact)
}

func RegisterNotificationRoutes(r *gin.RouterGroup, h *NotificationHandler) {
	r.GET("/notifications", h.ListOwnerNotifications)
	r.POST("/notifications/:id/read", h.MarkOwnerRead)
	r.GET("/me/contact", h.GetContact)
	r.PUT("/me/contact", h.UpdateContact)
}

func RegisterStaffNotificationRoutes(r *gin.RouterGroup, h *NotificationHandler) {
	r.GET("/notifications", h.ListStaffNotifications)
	r.POST("/notifications/:id/read", h.MarkStaffRead)
}
