package router

import (
	"github.com/gin-gonic/gin"

	"github.com/qbsync/backend/internal/interfaces/http/handler"
	"github.com/qbsync/backend/internal/interfaces/http/middleware"
)

// Handlers are the HTTP handlers of the upload service. A nil handler
// leaves its routes unregistered.
type Handlers struct {
	Upload  *handler.UploadHandler
	Auth    *handler.AuthHandler
	History *handler.HistoryHandler
	Health  *handler.HealthHandler
}

// Groups returns the route groups for the given handlers
func Groups(h Handlers) []*Group {
	var groups []*Group

	if h.Upload != nil {
		g := NewGroup("upload", "/")
		g.GET("", h.Upload.Index).
			POST("/upload", middleware.BodyLimit(h.Upload.MaxSize()), h.Upload.Upload)
		groups = append(groups, g)
	}

	if h.Auth != nil {
		g := NewGroup("auth", "/")
		g.GET("/login", h.Auth.Login).
			GET("/callback", h.Auth.Callback)
		groups = append(groups, g)
	}

	if h.History != nil {
		g := NewGroup("history", "/history")
		g.GET("", h.History.ListHistory).
			GET("/:id", h.History.GetHistory).
			GET("/:id/errors", h.History.GetErrors).
			DELETE("/:id", h.History.DeleteHistory)
		groups = append(groups, g)
	}

	if h.Health != nil {
		g := NewGroup("health", "/health")
		g.GET("", h.Health.Health)
		groups = append(groups, g)
	}

	return groups
}

// RegisterHandlers registers every route group of h
func (r *Router) RegisterHandlers(h Handlers) *Router {
	return r.Add(Groups(h)...)
}

// NotFound answers unknown routes in the JSON error shape
func NotFound(c *gin.Context) {
	(&handler.BaseHandler{}).NotFound(c, "Route not found")
}
