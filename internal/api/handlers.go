package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/synoptic-visualizer/backend/internal/engine"
	"github.com/synoptic-visualizer/backend/internal/history"
	"github.com/synoptic-visualizer/backend/internal/models"
	"github.com/synoptic-visualizer/backend/internal/storage"
	"github.com/vmihailenco/msgpack/v5"
)

// Handler wires the HTTP surface to the engine and its collaborators.
type Handler struct {
	store   storage.Store
	engine  *engine.Engine
	history *history.Store
	version string
}

// NewHandler creates the API handler.
func NewHandler(store storage.Store, eng *engine.Engine, hist *history.Store, version string) *Handler {
	return &Handler{
		store:   store,
		engine:  eng,
		history: hist,
		version: version,
	}
}

// HandleHealth reports service liveness and the active diagram.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"diagram": h.engine.DiagramName(),
		"mode":    h.engine.Timeline().Mode,
	})
}

// HandleListDiagrams returns the available diagram documents.
func (h *Handler) HandleListDiagrams(c echo.Context) error {
	files, err := h.store.List(0)
	if err != nil {
		return NewInternalError("failed to list diagrams", err)
	}
	diagrams := make([]*models.FileInfo, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f.Name), ".svg") {
			diagrams = append(diagrams, f)
		}
	}
	return c.JSON(http.StatusOK, diagrams)
}

type loadDiagramRequest struct {
	Name string `json:"name"`
}

// HandleLoadDiagram selects the active diagram. A failed load surfaces an
// inline error and leaves the engine on its previous session.
func (h *Handler) HandleLoadDiagram(c echo.Context) error {
	var req loadDiagramRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	if err := h.engine.LoadDiagram(req.Name); err != nil {
		return NewNotFoundError("diagram", req.Name)
	}

	return c.JSON(http.StatusOK, map[string]string{
		"name":      req.Name,
		"sessionId": h.engine.SessionID(),
	})
}

// HandleGetDiagramState returns the full current visual state, so a viewer
// attaching mid-session can catch up in one fetch.
func (h *Handler) HandleGetDiagramState(c echo.Context) error {
	state := h.engine.State()
	if state == nil {
		return NewNotFoundError("diagram", "no diagram loaded")
	}
	return c.JSON(http.StatusOK, state)
}

// HandleGetDiagramStateMsgpack is the compact variant of the state endpoint.
func (h *Handler) HandleGetDiagramStateMsgpack(c echo.Context) error {
	state := h.engine.State()
	if state == nil {
		return NewNotFoundError("diagram", "no diagram loaded")
	}
	data, err := msgpack.Marshal(state)
	if err != nil {
		return NewInternalError("failed to encode state", err)
	}
	return c.Blob(http.StatusOK, "application/x-msgpack", data)
}

// HandleUpdate ingests one live update over REST. The update is always
// recorded to history; the engine drops it while in history mode.
func (h *Handler) HandleUpdate(c echo.Context) error {
	var req models.UpdateRecord
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.SourceID == "" || req.TopicID == "" {
		return NewValidationError("sourceId/topicId")
	}

	if err := h.history.Record(req.SourceID, req.TopicID, req.RawPayload); err != nil {
		return NewInternalError("failed to record update", err)
	}
	h.engine.Update(req.SourceID, req.TopicID, req.RawPayload)
	return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
}

// HandleGetTimeline reports mode, cursor and bounds.
func (h *Handler) HandleGetTimeline(c echo.Context) error {
	return c.JSON(http.StatusOK, h.engine.Timeline())
}

type timelineBoundsRequest struct {
	Min int64 `json:"min"` // unix millis
	Max int64 `json:"max"`
}

// HandleSetTimelineBounds sets the seekable range.
func (h *Handler) HandleSetTimelineBounds(c echo.Context) error {
	var req timelineBoundsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Max != 0 && req.Max < req.Min {
		return NewValidationError("max")
	}
	h.engine.SetTimelineBounds(time.UnixMilli(req.Min), time.UnixMilli(req.Max))
	return c.JSON(http.StatusOK, h.engine.Timeline())
}

// HandleGetTimelineRange returns the recorded history span, useful for
// initializing the seek slider.
func (h *Handler) HandleGetTimelineRange(c echo.Context) error {
	min, max, ok := h.history.TimeRange()
	if !ok {
		return c.JSON(http.StatusOK, models.TimeRange{Empty: true})
	}
	return c.JSON(http.StatusOK, models.TimeRange{
		Min: min.UnixMilli(),
		Max: max.UnixMilli(),
	})
}

type historyModeRequest struct {
	Enabled bool `json:"enabled"`
}

// HandleSetHistoryMode toggles historical replay.
func (h *Handler) HandleSetHistoryMode(c echo.Context) error {
	var req historyModeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := h.engine.SetHistoryMode(req.Enabled); err != nil {
		return NewConflictError(err.Error())
	}
	return c.JSON(http.StatusOK, h.engine.Timeline())
}

// HandleSeekHistory moves the replay cursor. Clients call this on seek
// commit (drag end), not continuously.
func (h *Handler) HandleSeekHistory(c echo.Context) error {
	tsParam := c.QueryParam("ts")
	if tsParam == "" {
		var req struct {
			Ts int64 `json:"ts"`
		}
		if err := c.Bind(&req); err != nil || req.Ts == 0 {
			return NewValidationError("ts")
		}
		tsParam = strconv.FormatInt(req.Ts, 10)
	}

	ts, err := parseTimestamp(tsParam)
	if err != nil {
		return NewBadRequestError("invalid timestamp", err)
	}
	if err := h.engine.SeekHistory(ts); err != nil {
		return NewConflictError(err.Error())
	}
	return c.JSON(http.StatusOK, h.engine.Timeline())
}

// parseTimestamp accepts unix milliseconds or RFC3339.
func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}
