package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synoptic-visualizer/backend/internal/engine"
	"github.com/synoptic-visualizer/backend/internal/history"
	"github.com/synoptic-visualizer/backend/internal/models"
	"github.com/synoptic-visualizer/backend/internal/plugin"
	"github.com/synoptic-visualizer/backend/internal/testutil"
	"github.com/vmihailenco/msgpack/v5"
)

const handlerTestSVG = `<svg id="plant" xmlns="http://www.w3.org/2000/svg">
  <g id="dev1-temp">
    <text id="dev1-temp-value" data-field="value">--</text>
  </g>
</svg>`

type handlerFixture struct {
	h     *Handler
	e     *echo.Echo
	eng   *engine.Engine
	sched *engine.ManualScheduler
	hist  *history.Store
	store *testutil.MockStorage
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := testutil.NewMockStorage()
	_, err := store.SaveBytes("plant.svg", []byte(handlerTestSVG))
	require.NoError(t, err)
	_, err = store.SaveBytes("notes.txt", []byte("not a diagram"))
	require.NoError(t, err)

	hist, err := history.NewStore(t.TempDir(), history.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	sched := engine.NewManualScheduler()
	eng := engine.New(store, plugin.NewRegistry(), hist, sched)
	eng.Initialize(engine.Config{HighlightDuration: time.Hour, SnapshotTimeout: 5 * time.Second}, nil)

	return &handlerFixture{
		h:     NewHandler(store, eng, hist, "test"),
		e:     echo.New(),
		eng:   eng,
		sched: sched,
		hist:  hist,
		store: store,
	}
}

func (f *handlerFixture) request(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return f.e.NewContext(req, rec), rec
}

func (f *handlerFixture) loadPlant(t *testing.T) {
	t.Helper()
	c, rec := f.request(http.MethodPost, "/api/diagram/load", `{"name":"plant.svg"}`)
	require.NoError(t, f.h.HandleLoadDiagram(c))
	require.Equal(t, http.StatusOK, rec.Code)
}

func apiStatus(t *testing.T, err error) int {
	t.Helper()
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.Status
}

func TestHandleHealth(t *testing.T) {
	f := newHandlerFixture(t)
	c, rec := f.request(http.MethodGet, "/api/health", "")

	require.NoError(t, f.h.HandleHealth(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.Equal(t, "live", body["mode"])
}

func TestHandleListDiagramsFiltersByExtension(t *testing.T) {
	f := newHandlerFixture(t)
	c, rec := f.request(http.MethodGet, "/api/diagrams", "")

	require.NoError(t, f.h.HandleListDiagrams(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var files []models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, "plant.svg", files[0].Name)
}

func TestHandleLoadDiagram(t *testing.T) {
	f := newHandlerFixture(t)

	c, rec := f.request(http.MethodPost, "/api/diagram/load", `{"name":"plant.svg"}`)
	require.NoError(t, f.h.HandleLoadDiagram(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "plant.svg", body["name"])
	assert.NotEmpty(t, body["sessionId"])
	assert.Equal(t, "plant.svg", f.eng.DiagramName())
}

func TestHandleLoadDiagramErrors(t *testing.T) {
	f := newHandlerFixture(t)

	c, _ := f.request(http.MethodPost, "/api/diagram/load", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, f.h.HandleLoadDiagram(c)))

	c, _ = f.request(http.MethodPost, "/api/diagram/load", `{"name":"missing.svg"}`)
	assert.Equal(t, http.StatusNotFound, apiStatus(t, f.h.HandleLoadDiagram(c)))
}

func TestHandleGetDiagramState(t *testing.T) {
	f := newHandlerFixture(t)

	c, _ := f.request(http.MethodGet, "/api/diagram/state", "")
	assert.Equal(t, http.StatusNotFound, apiStatus(t, f.h.HandleGetDiagramState(c)))

	f.loadPlant(t)

	c, rec := f.request(http.MethodGet, "/api/diagram/state", "")
	require.NoError(t, f.h.HandleGetDiagramState(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var states []models.ElementState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	ids := make([]string, 0, len(states))
	for _, st := range states {
		ids = append(ids, st.ID)
	}
	assert.Contains(t, ids, "plant")
	assert.Contains(t, ids, "dev1-temp-value")
}

func TestHandleGetDiagramStateMsgpack(t *testing.T) {
	f := newHandlerFixture(t)
	f.loadPlant(t)

	c, rec := f.request(http.MethodGet, "/api/diagram/state/msgpack", "")
	require.NoError(t, f.h.HandleGetDiagramStateMsgpack(c))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-msgpack", rec.Header().Get(echo.HeaderContentType))

	var states []models.ElementState
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &states))
	assert.NotEmpty(t, states)
}

func TestHandleUpdate(t *testing.T) {
	f := newHandlerFixture(t)
	f.loadPlant(t)

	c, rec := f.request(http.MethodPost, "/api/update", `{"sourceId":"dev1","topicId":"temp","payload":"23"}`)
	require.NoError(t, f.h.HandleUpdate(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, f.hist.Count(), "updates are always recorded")

	f.sched.Tick()
	var value string
	for _, st := range f.eng.State() {
		if st.ID == "dev1-temp-value" {
			value = st.Text
		}
	}
	assert.Equal(t, "23", value)
}

func TestHandleUpdateValidation(t *testing.T) {
	f := newHandlerFixture(t)

	c, _ := f.request(http.MethodPost, "/api/update", `{"topicId":"temp","payload":"23"}`)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, f.h.HandleUpdate(c)))

	c, _ = f.request(http.MethodPost, "/api/update", `{"sourceId":"dev1","payload":"23"}`)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, f.h.HandleUpdate(c)))
}

func TestHandleTimelineBounds(t *testing.T) {
	f := newHandlerFixture(t)
	f.loadPlant(t)

	c, _ := f.request(http.MethodPost, "/api/timeline/bounds", `{"min":9000,"max":1000}`)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, f.h.HandleSetTimelineBounds(c)))

	c, rec := f.request(http.MethodPost, "/api/timeline/bounds", `{"min":1000,"max":9000}`)
	require.NoError(t, f.h.HandleSetTimelineBounds(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.TimelineStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, int64(1000), status.BoundsMin)
	assert.Equal(t, int64(9000), status.BoundsMax)
	assert.Equal(t, models.TimelineLive, status.Mode)
}

func TestHandleTimelineRange(t *testing.T) {
	f := newHandlerFixture(t)

	c, rec := f.request(http.MethodGet, "/api/timeline/range", "")
	require.NoError(t, f.h.HandleGetTimelineRange(c))
	var span models.TimeRange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &span))
	assert.True(t, span.Empty)

	require.NoError(t, f.hist.Record("dev1", "temp", "21"))
	c, rec = f.request(http.MethodGet, "/api/timeline/range", "")
	require.NoError(t, f.h.HandleGetTimelineRange(c))
	span = models.TimeRange{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &span))
	assert.False(t, span.Empty)
	assert.Greater(t, span.Min, int64(0))
	assert.GreaterOrEqual(t, span.Max, span.Min)
}

func TestHandleSeekHistoryRequiresHistoryMode(t *testing.T) {
	f := newHandlerFixture(t)
	f.loadPlant(t)

	c, _ := f.request(http.MethodPost, "/api/timeline/seek?ts=1000", "")
	assert.Equal(t, http.StatusConflict, apiStatus(t, f.h.HandleSeekHistory(c)))

	c, _ = f.request(http.MethodPost, "/api/timeline/seek?ts=not-a-time", "")
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, f.h.HandleSeekHistory(c)))

	c, _ = f.request(http.MethodPost, "/api/timeline/seek", `{}`)
	assert.Equal(t, http.StatusBadRequest, apiStatus(t, f.h.HandleSeekHistory(c)))
}

func TestHandleHistoryModeRoundTrip(t *testing.T) {
	f := newHandlerFixture(t)
	f.loadPlant(t)

	// Record through the REST ingest so history has real rows.
	c, _ := f.request(http.MethodPost, "/api/update", `{"sourceId":"dev1","topicId":"temp","payload":"31"}`)
	require.NoError(t, f.h.HandleUpdate(c))
	f.sched.Tick()

	c, rec := f.request(http.MethodPost, "/api/timeline/history", `{"enabled":true}`)
	require.NoError(t, f.h.HandleSetHistoryMode(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var status models.TimelineStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.TimelineHistory, status.Mode)

	// The snapshot query runs against DuckDB and reproduces the live value.
	require.Eventually(t, func() bool {
		for _, st := range f.eng.State() {
			if st.ID == "dev1-temp-value" {
				return st.Text == "31"
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	c, rec = f.request(http.MethodPost, "/api/timeline/history", `{"enabled":false}`)
	require.NoError(t, f.h.HandleSetHistoryMode(c))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.TimelineLive, status.Mode)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := parseTimestamp("1724577600000")
	require.NoError(t, err)
	assert.Equal(t, int64(1724577600000), ts.UnixMilli())

	ts, err = parseTimestamp("2026-08-25T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2026, ts.UTC().Year())

	_, err = parseTimestamp("noon")
	assert.Error(t, err)
}
