package notifications

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"atlas-system/internal/api/types"
	"atlas-system/internal/storage"
)

const (
	defaultTestSubject = "[Atlas] Test notification"
	defaultTestMessage = "This is a test message from Atlas System."
)

// Sender delivers one message through a channel.
type Sender interface {
	Send(ctx context.Context, n *storage.Notification, subject, message string) error
}

// Handler manages the notification channel endpoints.
type Handler struct {
	storage *storage.Storage
	sender  Sender
	secrets encrypter
}

// NewHandler creates a notification handler.
func NewHandler(storage *storage.Storage, sender Sender, secrets encrypter) *Handler {
	return &Handler{
		storage: storage,
		sender:  sender,
		secrets: secrets,
	}
}

// List handles GET /api/v1/notifications
//
// Returns:
//   - 200 OK with the paginated channel list
//   - 400 Bad Request for invalid pagination parameters
func (h *Handler) List(c *gin.Context) {
	var pagination types.PaginationRequest
	if err := c.ShouldBindQuery(&pagination); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}
	pagination.Normalize()

	ctx := c.Request.Context()
	repo := h.storage.Repos.Notifications

	total, err := repo.Count(ctx, "")
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to count notifications", err))
		return
	}
	items, err := repo.List(ctx, pagination.PageSize, pagination.Offset())
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to retrieve notifications", err))
		return
	}

	responses := make([]NotificationResponse, 0, len(items))
	for i := range items {
		responses = append(responses, newNotificationResponse(&items[i]))
	}

	c.JSON(http.StatusOK, types.SuccessResponseWithPagination(responses, types.NewPagination(pagination, total)))
}

// Create handles POST /api/v1/notifications
//
// The SMTP password and the Telegram bot token are encrypted before they
// are stored and are never returned.
//
// Returns:
//   - 201 Created with the channel
//   - 400 Bad Request for invalid input
func (h *Handler) Create(c *gin.Context) {
	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	n := &storage.Notification{SMTPSecurity: storage.SMTPSecurityNone}
	if err := req.apply(n, h.secrets); err != nil {
		types.AbortWithError(c, types.InternalError("failed to encrypt credentials", err))
		return
	}
	if err := storage.ValidateNotification(n); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	if _, err := h.storage.Repos.Notifications.Create(c.Request.Context(), n); err != nil {
		types.AbortWithError(c, types.InternalError("failed to create notification", err))
		return
	}

	log.Info().Int64("notification_id", n.ID).Str("type", n.Type).Msg("Notification created")
	c.JSON(http.StatusCreated, types.SuccessResponse(newNotificationResponse(n)))
}

// Get handles GET /api/v1/notifications/:id
func (h *Handler) Get(c *gin.Context) {
	n, ok := h.notification(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(newNotificationResponse(n)))
}

// Update handles PATCH /api/v1/notifications/:id
//
// Returns:
//   - 200 OK with the updated channel
//   - 400 Bad Request for invalid input
//   - 404 Not Found when the channel does not exist
func (h *Handler) Update(c *gin.Context) {
	n, ok := h.notification(c)
	if !ok {
		return
	}

	var req NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}
	if err := req.apply(n, h.secrets); err != nil {
		types.AbortWithError(c, types.InternalError("failed to encrypt credentials", err))
		return
	}
	if err := storage.ValidateNotification(n); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	if err := h.storage.Repos.Notifications.Update(c.Request.Context(), n); err != nil {
		if storage.IsNotFound(err) {
			types.AbortWithError(c, types.NotFoundError("notification"))
			return
		}
		types.AbortWithError(c, types.InternalError("failed to update notification", err))
		return
	}

	log.Info().Int64("notification_id", n.ID).Msg("Notification updated")
	c.JSON(http.StatusOK, types.SuccessResponse(newNotificationResponse(n)))
}

// Delete handles DELETE /api/v1/notifications/:id
//
// Links to the channel are removed with it.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.storage.Repos.Notifications.Delete(c.Request.Context(), id); err != nil {
		if storage.IsNotFound(err) {
			types.AbortWithError(c, types.NotFoundError("notification"))
			return
		}
		types.AbortWithError(c, types.InternalError("failed to delete notification", err))
		return
	}

	log.Info().Int64("notification_id", id).Msg("Notification deleted")
	c.Status(http.StatusNoContent)
}

// Test handles POST /api/v1/notifications/:id/test
//
// Sends one message through the channel. A body is optional and overrides
// the default subject and message.
//
// Returns:
//   - 200 OK with delivered=true
//   - 404 Not Found when the channel does not exist
//   - 502 Bad Gateway with delivered=false when the channel rejected it
func (h *Handler) Test(c *gin.Context) {
	n, ok := h.notification(c)
	if !ok {
		return
	}

	var req TestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			types.AbortWithError(c, types.ValidationError(err.Error()))
			return
		}
	}
	if req.Subject == "" {
		req.Subject = defaultTestSubject
	}
	if req.Message == "" {
		req.Message = defaultTestMessage
	}

	start := time.Now()
	err := h.sender.Send(c.Request.Context(), n, req.Subject, req.Message)
	resp := TestResponse{Delivered: err == nil, DurationMs: time.Since(start).Milliseconds()}

	if err != nil {
		log.Warn().Err(err).Int64("notification_id", n.ID).Msg("Test notification failed")
		resp.Error = err.Error()
		c.JSON(http.StatusBadGateway, types.Response{
			Success: false,
			Data:    resp,
			Error:   &types.Error{Code: "DISPATCH_FAILED", Message: "Notification could not be delivered", Details: err.Error()},
		})
		return
	}

	c.JSON(http.StatusOK, types.SuccessResponse(resp))
}

func (h *Handler) notification(c *gin.Context) (*storage.Notification, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	n, err := h.storage.Gateway.GetNotification(c.Request.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			types.AbortWithError(c, types.NotFoundError("notification"))
			return nil, false
		}
		types.AbortWithError(c, types.InternalError("failed to retrieve notification", err))
		return nil, false
	}
	return n, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		types.AbortWithError(c, types.ValidationError("invalid notification ID"))
		return 0, false
	}
	return id, true
}
