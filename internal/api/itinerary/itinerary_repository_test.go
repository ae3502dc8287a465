package itinerary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderday/trip-itinerary-api/internal/models"
)

func TestSheetsRepository_FetchTrip(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"day": "2 (arrival)", "summary": "Landing", "items": [
				{"id": "a", "time": "1899-12-30T09:00:00.000Z", "title": "Chubu Airport", "type": "transport"}
			]},
			{"day": 1, "summary": "", "items": []}
		]`))
	}))
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL, time.Second, testLogger())
	trip, err := repo.FetchTrip(context.Background())
	require.NoError(t, err)

	require.Len(t, trip, 2)
	assert.Equal(t, models.DayNumber(2), trip[0].Day, "day strings coerce to their leading integer")
	assert.Equal(t, "1899-12-30T09:00:00.000Z", trip[0].Items[0].Time, "raw times pass through, normalization is the store's job")
	assert.Regexp(t, `^t=\d+$`, gotQuery, "cache buster is appended")
}

func TestSheetsRepository_FetchTrip_CacheBusterAppends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sheet", r.URL.Query().Get("key"))
		assert.NotEmpty(t, r.URL.Query().Get("t"))
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL+"?key=sheet", time.Second, testLogger())
	_, err := repo.FetchTrip(context.Background())
	require.NoError(t, err)
}

func TestSheetsRepository_FetchTrip_NonArrayPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "quota exceeded"}`))
	}))
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL, time.Second, testLogger())
	_, err := repo.FetchTrip(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding trip payload")
}

func TestSheetsRepository_FetchTrip_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL, time.Second, testLogger())
	_, err := repo.FetchTrip(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestSheetsRepository_FetchTrip_NoEndpoint(t *testing.T) {
	repo := NewSheetsRepository("", 0, testLogger())
	_, err := repo.FetchTrip(context.Background())
	require.Error(t, err)
}

func TestSheetsRepository_PushTrip(t *testing.T) {
	var gotContentType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL, time.Second, testLogger())
	err := repo.PushTrip(context.Background(), models.Trip{
		{Day: 1, Summary: "Castle day", Items: []models.ItineraryItem{
			{ID: "a", Time: "09:00", Title: "Nagoya Castle", Type: models.ItemTypeSight},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "text/plain;charset=utf-8", gotContentType)
	assert.JSONEq(t, `[
		{"day": 1, "summary": "Castle day", "items": [
			{"id": "a", "time": "09:00", "title": "Nagoya Castle", "note": "", "type": "sight", "mapsUrl": ""}
		]}
	]`, string(gotBody))
}

func TestSheetsRepository_PushTrip_FollowsRedirect(t *testing.T) {
	var landed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/result", http.StatusFound)
	})
	mux.HandleFunc("/result", func(w http.ResponseWriter, r *http.Request) {
		landed = true
		w.Write([]byte("stored"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL+"/exec", time.Second, testLogger())
	err := repo.PushTrip(context.Background(), models.Trip{})
	require.NoError(t, err)
	assert.True(t, landed, "Apps Script style 302 is followed")
}

func TestSheetsRepository_PushTrip_IgnoresResponseStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not really json", http.StatusBadGateway)
	}))
	defer srv.Close()

	repo := NewSheetsRepository(srv.URL, time.Second, testLogger())
	err := repo.PushTrip(context.Background(), models.Trip{})
	assert.NoError(t, err, "the push response body is logged, never parsed or enforced")
}
