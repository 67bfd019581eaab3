package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/printdesk/internal/api/handlers"
	"github.com/orrn/printdesk/internal/api/middleware"
)

type RouterDeps struct {
	Auth          *middleware.AuthMiddleware
	Jobs          handlers.JobService
	Printers      handlers.PrinterService
	Archives      handlers.ArchiveService
	Webhooks      handlers.WebhookStore
	WebhookSender handlers.WebhookDeliverer
	Notifications handlers.NotificationStore
	Contacts      handlers.ContactStore
	MaxUploadSize int64
	Logger        *zap.Logger
}

// NewRouter builds the HTTP surface. Owner routes live under /api, staff routes
// under /api/admin.
func NewRouter(deps RouterDeps) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(requestLogger(logger.Named("http")), gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := r.Group("/api")
	owner := api.Group("", deps.Auth.RequireOwner())
	handlers.RegisterJobRoutes(owner, handlers.NewJobHandler(deps.Jobs, deps.MaxUploadSize))
	handlers.RegisterPaymentRoutes(owner, handlers.NewPaymentHandler(deps.Jobs))

	notifications := handlers.NewNotificationHandler(deps.Notifications, deps.Contacts)
	handlers.RegisterNotificationRoutes(owner, notifications)

	api.POST("/admin/login", deps.Auth.LoginHandler)
	admin := api.Group("/admin", deps.Auth.RequireStaff())
	admin.POST("/password", deps.Auth.ChangePasswordHandler)
	handlers.RegisterAdminRoutes(admin, handlers.NewAdminHandler(deps.Jobs, deps.Printers, deps.Archives))
	handlers.RegisterWebhookRoutes(admin, handlers.NewWebhookHandler(deps.Webhooks, deps.WebhookSender))
	handlers.RegisterStaffNotificationRoutes(admin, notifications)

	return r
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
