package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/wanderday/trip-itinerary-api/app/observability/metrics"
	"github.com/wanderday/trip-itinerary-api/internal/api/itinerary"
	"github.com/wanderday/trip-itinerary-api/internal/api/routeplan"
	"github.com/wanderday/trip-itinerary-api/internal/models"
	api "github.com/wanderday/trip-itinerary-api/internal/router"
)

func TestMain(m *testing.M) {
	metrics.InitAppMetrics()
	os.Exit(m.Run())
}

// fakeSheetsBackend simulates the Apps Script deployment: GET returns the
// stored JSON array, POST overwrites it wholesale.
type fakeSheetsBackend struct {
	mu    sync.Mutex
	data  []byte
	posts int
}

func (f *fakeSheetsBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			w.Write(f.data)
		case http.MethodPost:
			body, _ := io.ReadAll(r.Body)
			f.data = body
			f.posts++
			w.Write([]byte("ok"))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}

func (f *fakeSheetsBackend) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.posts
}

func (f *fakeSheetsBackend) stored() models.Trip {
	f.mu.Lock()
	defer f.mu.Unlock()
	var trip models.Trip
	_ = json.Unmarshal(f.data, &trip)
	return trip
}

// E2ETestSuite drives the full stack: router, handler, store, repository,
// against a fake spreadsheet backend.
type E2ETestSuite struct {
	suite.Suite
	backend *fakeSheetsBackend
	sheets  *httptest.Server
	server  *httptest.Server
	service *itinerary.ServiceImpl
	client  *http.Client
}

func (s *E2ETestSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	s.backend = &fakeSheetsBackend{data: []byte(`[
		{"day": 1, "summary": "Arrival", "items": [
			{"id": "airport", "time": "1899-12-30T10:30:00.000Z", "title": "Chubu Airport", "note": "", "type": "transport",
			 "mapsUrl": "https://www.google.com/maps/place/Chubu+Centrair/@34.858,136.805,15z"},
			{"id": "castle", "time": "14:00", "title": "Nagoya Castle", "note": "", "type": "sight",
			 "mapsUrl": "https://www.google.com/maps/place/Nagoya+Castle/data=!3d35.1855!4d136.8997"}
		]},
		{"day": "3 (museum)", "summary": "Science day", "items": [
			{"id": "museum", "time": "09:30", "title": "Science Museum", "note": "", "type": "sight", "mapsUrl": ""}
		]}
	]`)}
	s.sheets = httptest.NewServer(s.backend.handler())

	repo := itinerary.NewSheetsRepository(s.sheets.URL, 2*time.Second, logger)
	s.service = itinerary.NewServiceImpl(repo, "https://maps.app.goo.gl/shared", logger)
	builder := routeplan.NewBuilder(routeplan.NewHeuristicResolver(), "Nagoya")
	handler := itinerary.NewHandler(s.service, builder, logger)

	s.server = httptest.NewServer(api.SetupRouter(&api.Config{ItineraryHandler: handler}))
	s.client = &http.Client{Timeout: 5 * time.Second}
}

func (s *E2ETestSuite) TearDownTest() {
	s.server.Close()
	s.sheets.Close()
}

func (s *E2ETestSuite) request(method, path string, body interface{}) (*http.Response, itinerary.Snapshot) {
	t := s.T()
	t.Helper()

	var reqBody *bytes.Buffer
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(jsonBody)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, s.server.URL+path, reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var snap itinerary.Snapshot
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(raw, &snap), "body: %s", raw)
	}
	return resp, snap
}

func (s *E2ETestSuite) drain() {
	require.NoError(s.T(), s.service.Drain(s.T().Context()))
}

func (s *E2ETestSuite) TestViewerWorkflow() {
	t := s.T()

	// Initial load via refresh: days renumber 1..2, items sort by time.
	resp, snap := s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, snap.Trip, 2)
	assert.Equal(t, models.DayNumber(2), snap.Trip[1].Day, "sparse day 3 renumbers to 2")
	assert.Equal(t, "airport", snap.Trip[0].Items[0].ID)
	assert.Equal(t, "https://maps.app.goo.gl/shared", snap.SavedPlacesURL)

	// Select day 2.
	resp, snap = s.request(http.MethodPut, "/api/v1/itinerary/active-day", map[string]int{"day": 2})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, snap.ActiveDay)

	// Selecting a missing day is a 404 and the selection stays put.
	resp, _ = s.request(http.MethodPut, "/api/v1/itinerary/active-day", map[string]int{"day": 7})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, snap = s.request(http.MethodGet, "/api/v1/itinerary", nil)
	assert.Equal(t, 2, snap.ActiveDay)
}

func (s *E2ETestSuite) TestEditWorkflow() {
	t := s.T()

	s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)

	// Add an item with defaults into the active day (day 1).
	resp, snap := s.request(http.MethodPost, "/api/v1/itinerary/items", map[string]string{
		"title": "Osu Shopping Street",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, snap.Trip[0].Items, 3)

	var addedID string
	for _, it := range snap.Trip[0].Items {
		if it.Title == "Osu Shopping Street" {
			addedID = it.ID
			assert.Equal(t, "12:00", it.Time)
			assert.Equal(t, models.ItemTypeSight, it.Type)
		}
	}
	require.NotEmpty(t, addedID)

	// Edit it by id; the path wins over any body id.
	resp, snap = s.request(http.MethodPut, "/api/v1/itinerary/items/"+addedID, models.ItineraryItem{
		ID: "ignored", Time: "08:00", Title: "Osu at opening", Type: models.ItemTypeShopping,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, addedID, snap.Trip[0].Items[0].ID, "08:00 sorts first")
	assert.Equal(t, "Osu at opening", snap.Trip[0].Items[0].Title)

	// Delete it again.
	resp, snap = s.request(http.MethodDelete, "/api/v1/itinerary/items/"+addedID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, snap.Trip[0].Items, 2)

	// Every edit was pushed to the backend; the last stored state matches.
	s.drain()
	assert.GreaterOrEqual(t, s.backend.postCount(), 1)
	stored := s.backend.stored()
	require.Len(t, stored, 2)
	assert.Len(t, stored[0].Items, 2)
}

func (s *E2ETestSuite) TestDayManagementWorkflow() {
	t := s.T()

	s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)

	// Add a day: numbered 3, becomes active.
	resp, snap := s.request(http.MethodPost, "/api/v1/itinerary/days", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, snap.Trip, 3)
	assert.Equal(t, 3, snap.ActiveDay)

	// Summary edits go to the active day; the path must agree.
	resp, snap = s.request(http.MethodPut, "/api/v1/itinerary/days/3/summary", map[string]string{
		"summary": "Day trip to Inuyama",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Day trip to Inuyama", snap.Trip[2].Summary)

	resp, _ = s.request(http.MethodPut, "/api/v1/itinerary/days/1/summary", map[string]string{
		"summary": "should not land",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Delete day 1: remaining days renumber and the selection tracks the
	// same logical day.
	resp, snap = s.request(http.MethodDelete, "/api/v1/itinerary/days/1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, snap.Trip, 2)
	assert.Equal(t, models.DayNumber(1), snap.Trip[0].Day)
	assert.Equal(t, models.DayNumber(2), snap.Trip[1].Day)
	assert.Equal(t, 2, snap.ActiveDay)
	assert.Equal(t, "Day trip to Inuyama", snap.Trip[1].Summary)
	s.drain()
}

func (s *E2ETestSuite) TestReorderWorkflow() {
	t := s.T()

	s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)

	_, snap := s.request(http.MethodGet, "/api/v1/itinerary", nil)
	items := snap.Trip[0].Items
	require.Len(t, items, 2)

	// Drag the castle above the airport, with a rendering placeholder mixed in.
	payload := map[string]interface{}{
		"items": []interface{}{
			items[1],
			map[string]interface{}{"id": "add-row", "itemType": "placeholder"},
			items[0],
		},
	}
	resp, snap := s.request(http.MethodPut, "/api/v1/itinerary/days/1/order", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, snap.Trip[0].Items, 2)
	assert.Equal(t, "castle", snap.Trip[0].Items[0].ID, "dragged order survives, even against time order")
	assert.Equal(t, "airport", snap.Trip[0].Items[1].ID)
	s.drain()
}

func (s *E2ETestSuite) TestRouteLinks() {
	t := s.T()

	s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/itinerary/days/1/routes", nil)
	require.NoError(t, err)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var links []itinerary.RouteLink
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&links))
	require.Len(t, links, 1)
	assert.Equal(t, "airport", links[0].FromID)
	assert.Equal(t, "castle", links[0].ToID)
	assert.Contains(t, links[0].URL, "travelmode=transit")
	assert.Contains(t, links[0].URL, "destination=35.1855%2C136.8997", "coordinate markers beat the place name")

	// Day 2's single item pairs with nothing.
	req, err = http.NewRequest(http.MethodGet, s.server.URL+"/api/v1/itinerary/days/2/routes", nil)
	require.NoError(t, err)
	resp2, err := s.client.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&links))
	assert.Empty(t, links)
}

func (s *E2ETestSuite) TestBackendFailureResetsState() {
	t := s.T()

	s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)

	// Backend starts returning an HTML error page.
	s.backend.mu.Lock()
	s.backend.data = []byte(`<html>Service unavailable</html>`)
	s.backend.mu.Unlock()

	resp, snap := s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, snap.Trip)
	assert.Equal(t, 0, snap.ActiveDay)
	assert.NotEmpty(t, snap.LastLoadError)
}

func (s *E2ETestSuite) TestPing() {
	resp, err := s.client.Get(s.server.URL + "/ping")
	require.NoError(s.T(), err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(s.T(), http.StatusOK, resp.StatusCode)
	assert.Equal(s.T(), "pong", string(body))
}

func (s *E2ETestSuite) TestBadRequests() {
	t := s.T()
	s.request(http.MethodPost, "/api/v1/itinerary/refresh", nil)

	cases := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPut, "/api/v1/itinerary/active-day", map[string]string{"day": "two"}},
		{http.MethodDelete, "/api/v1/itinerary/days/zero", nil},
		{http.MethodDelete, "/api/v1/itinerary/days/-1", nil},
		{http.MethodPost, "/api/v1/itinerary/items", map[string]string{"unknown": "field"}},
	}
	for _, tc := range cases {
		resp, _ := s.request(tc.method, tc.path, tc.body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, fmt.Sprintf("%s %s", tc.method, tc.path))
	}
}

func TestE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping E2E tests in short mode")
	}
	suite.Run(t, new(E2ETestSuite))
}
