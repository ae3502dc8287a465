package itinerary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wanderday/trip-itinerary-api/app/observability/metrics"
	"github.com/wanderday/trip-itinerary-api/internal/models"
)

// DefaultRequestTimeout bounds every remote call so a dead backend can
// never hang the load path.
const DefaultRequestTimeout = 8 * time.Second

var _ Repository = (*SheetsRepository)(nil)

// Repository is the contract the itinerary store expects from the remote
// spreadsheet-backed endpoint.
type Repository interface {
	FetchTrip(ctx context.Context) (models.Trip, error)
	PushTrip(ctx context.Context, trip models.Trip) error
}

// SheetsRepository talks to a Google Apps Script web app backed by a
// spreadsheet. The contract is deliberately loose: GET returns a JSON array
// of day plans, POST accepts the whole trip and its response body is logged
// but never parsed.
type SheetsRepository struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewSheetsRepository(endpoint string, timeout time.Duration, logger *slog.Logger) *SheetsRepository {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &SheetsRepository{
		endpoint: endpoint,
		// The default client follows redirects, which the Apps Script
		// deployment requires on POST (it 302s to the result page).
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// FetchTrip downloads the full trip. A cache-buster timestamp is appended
// because the web deployment sits behind an aggressive edge cache.
func (r *SheetsRepository) FetchTrip(ctx context.Context) (models.Trip, error) {
	ctx, span := otel.Tracer("SheetsRepository").Start(ctx, "FetchTrip")
	defer span.End()

	if r.endpoint == "" {
		span.SetStatus(codes.Error, "Endpoint not configured")
		return nil, fmt.Errorf("sheets endpoint not configured")
	}

	start := r.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.bustedURL(), nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("building fetch request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Fetch failed")
		return nil, fmt.Errorf("fetching trip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		span.SetStatus(codes.Error, "Unexpected status")
		return nil, fmt.Errorf("fetching trip: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("reading trip response: %w", err)
	}

	// The backend must return a JSON array of day plans; anything else
	// (an HTML error page, an {"error": ...} object) is a failed load.
	var trip models.Trip
	if err := json.Unmarshal(body, &trip); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Malformed payload")
		return nil, fmt.Errorf("decoding trip payload: %w", err)
	}

	metrics.Get().TripLoadDurationSeconds.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("trip.days", len(trip)))
	span.SetStatus(codes.Ok, "Trip fetched")
	return trip, nil
}

// PushTrip uploads the whole trip. Content type is text/plain because the
// Apps Script runtime rejects preflighted application/json posts.
func (r *SheetsRepository) PushTrip(ctx context.Context, trip models.Trip) error {
	ctx, span := otel.Tracer("SheetsRepository").Start(ctx, "PushTrip", trace.WithAttributes(
		attribute.Int("trip.days", len(trip)),
	))
	defer span.End()

	if r.endpoint == "" {
		span.SetStatus(codes.Error, "Endpoint not configured")
		return fmt.Errorf("sheets endpoint not configured")
	}

	payload, err := json.Marshal(trip)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("encoding trip: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("building push request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := r.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Push failed")
		return fmt.Errorf("pushing trip: %w", err)
	}
	defer resp.Body.Close()

	// No response contract is enforced; log what came back for diagnosis.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	r.logger.DebugContext(ctx, "Trip push response",
		slog.Int("status", resp.StatusCode),
		slog.String("body", strings.TrimSpace(string(body))),
	)

	span.SetStatus(codes.Ok, "Trip pushed")
	return nil
}

func (r *SheetsRepository) bustedURL() string {
	sep := "?"
	if strings.Contains(r.endpoint, "?") {
		sep = "&"
	}
	return r.endpoint + sep + "t=" + strconv.FormatInt(r.now().UnixMilli(), 10)
}
