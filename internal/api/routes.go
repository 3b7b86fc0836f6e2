// routes.go - Route registration helpers
package api

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers all API routes with the Echo instance.
func RegisterRoutes(e *echo.Echo, h *Handler, hub *FeedHub) {
	e.HTTPErrorHandler = ErrorHandler

	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", h.HandleHealth)

	// Live feed
	apiGroup.GET("/ws/feed", hub.HandleFeed)

	// Diagram management
	apiGroup.GET("/diagrams", h.HandleListDiagrams)
	apiGroup.POST("/diagram/load", h.HandleLoadDiagram)
	apiGroup.GET("/diagram/state", h.HandleGetDiagramState)
	apiGroup.GET("/diagram/state/msgpack", h.HandleGetDiagramStateMsgpack)

	// Update ingest (REST variant of the feed)
	apiGroup.POST("/update", h.HandleUpdate)

	// Timeline / history
	apiGroup.GET("/timeline", h.HandleGetTimeline)
	apiGroup.POST("/timeline/bounds", h.HandleSetTimelineBounds)
	apiGroup.GET("/timeline/range", h.HandleGetTimelineRange)
	apiGroup.POST("/timeline/history", h.HandleSetHistoryMode)
	apiGroup.POST("/timeline/seek", h.HandleSeekHistory)
}
