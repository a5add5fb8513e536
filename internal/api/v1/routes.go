package v1

import (
	"github.com/gin-gonic/gin"

	"atlas-system/internal/api/v1/monitors"
	"atlas-system/internal/api/v1/notifications"
	"atlas-system/internal/secret"
	"atlas-system/internal/storage"
)

// Deps are the services the v1 handlers are built on.
type Deps struct {
	Storage *storage.Storage
	Queue   monitors.Enqueuer
	Checker monitors.Checker
	Sender  notifications.Sender
	Secrets *secret.Codec

	// MaxRedirects is the redirect limit given to new monitors.
	MaxRedirects int
}

// SetupRoutes configures API routes.
func SetupRoutes(routerGroup *gin.RouterGroup, deps Deps) {
	// Initialize handlers
	monitorsHandler := monitors.NewHandler(deps.Storage, deps.Queue, deps.Checker, deps.Secrets, deps.MaxRedirects)
	notificationsHandler := notifications.NewHandler(deps.Storage, deps.Sender, deps.Secrets)

	// Monitors management
	monitorsGroup := routerGroup.Group("/monitors")
	{
		monitorsGroup.GET("", monitorsHandler.List)
		monitorsGroup.POST("", monitorsHandler.Create)
		monitorsGroup.POST("/test", monitorsHandler.Test)
		monitorsGroup.GET("/:id", monitorsHandler.Get)
		monitorsGroup.PATCH("/:id", monitorsHandler.Update)
		monitorsGroup.DELETE("/:id", monitorsHandler.Delete)
		monitorsGroup.POST("/:id/run", monitorsHandler.Run)
		monitorsGroup.GET("/:id/logs", monitorsHandler.Logs)
		monitorsGroup.GET("/:id/notify", monitorsHandler.NotifyLinks)
		monitorsGroup.PUT("/:id/notify/:dimension", monitorsHandler.SetMonitorLinks)
		monitorsGroup.GET("/:id/drives", monitorsHandler.Drives)
		monitorsGroup.PATCH("/:id/drives/:drive_id", monitorsHandler.UpdateDrive)
		monitorsGroup.PUT("/:id/drives/:drive_id/notify/:dimension", monitorsHandler.SetDriveLinks)
		monitorsGroup.GET("/:id/files", monitorsHandler.Files)
		monitorsGroup.PATCH("/:id/files/:file_id", monitorsHandler.UpdateFile)
		monitorsGroup.PUT("/:id/files/:file_id/notify/:dimension", monitorsHandler.SetFileLinks)
	}

	// Notification channels
	notificationsGroup := routerGroup.Group("/notifications")
	{
		notificationsGroup.GET("", notificationsHandler.List)
		notificationsGroup.POST("", notificationsHandler.Create)
		notificationsGroup.GET("/:id", notificationsHandler.Get)
		notificationsGroup.PATCH("/:id", notificationsHandler.Update)
		notificationsGroup.DELETE("/:id", notificationsHandler.Delete)
		notificationsGroup.POST("/:id/test", notificationsHandler.Test)
	}
}
