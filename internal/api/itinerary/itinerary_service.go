package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wanderday/trip-itinerary-api/app/observability/metrics"
	"github.com/wanderday/trip-itinerary-api/internal/models"
)

// ErrDayNotFound is returned when an active-day selection does not resolve
// to an existing day.
var ErrDayNotFound = errors.New("day not found")

// Snapshot is the read-only view of the store handed to the rendering
// layer. It never aliases internal state.
type Snapshot struct {
	Trip           models.Trip `json:"trip"`
	ActiveDay      int         `json:"activeDay"`
	Loading        bool        `json:"loading"`
	Refreshing     bool        `json:"refreshing"`
	LastLoadError  string      `json:"lastLoadError,omitempty"`
	SavedPlacesURL string      `json:"savedPlacesUrl,omitempty"`
}

var _ Service = (*ServiceImpl)(nil)

// Service is the itinerary store: it owns the in-memory trip, applies
// local mutations optimistically and synchronizes with the remote store.
// Every mutation installs its full next-state atomically and triggers a
// fire-and-forget push; no operation waits for the push to land.
type Service interface {
	Load(ctx context.Context, manual bool) Snapshot
	Snapshot(ctx context.Context) Snapshot
	SetActiveDay(ctx context.Context, day int) (Snapshot, error)
	AddItem(ctx context.Context, item models.ItineraryItem) Snapshot
	UpsertItem(ctx context.Context, item models.ItineraryItem) Snapshot
	DeleteItem(ctx context.Context, id string) Snapshot
	ReorderItems(ctx context.Context, order []models.ItineraryItem) Snapshot
	AddDay(ctx context.Context) Snapshot
	DeleteDay(ctx context.Context, day int) Snapshot
	SetDaySummary(ctx context.Context, summary string) Snapshot
}

// ServiceImpl guards all state behind a single mutex. The original client
// was single-threaded by construction; under a multi-threaded HTTP runtime
// the single-writer discipline keeps mutate-then-sync atomic per call.
type ServiceImpl struct {
	logger         *slog.Logger
	repo           Repository
	pusher         *pusher
	savedPlacesURL string

	mu            sync.Mutex
	trip          models.Trip
	activeDay     int
	loading       bool
	refreshing    bool
	lastLoadError string
}

// NewServiceImpl creates a new instance of ServiceImpl.
func NewServiceImpl(repo Repository, savedPlacesURL string, logger *slog.Logger) *ServiceImpl {
	return &ServiceImpl{
		logger:         logger,
		repo:           repo,
		pusher:         newPusher(repo, logger),
		savedPlacesURL: savedPlacesURL,
		trip:           models.Trip{},
		activeDay:      1,
	}
}

// Load replaces the in-memory trip wholesale from the remote store.
// On success each day's items are time-sorted, days are ordered and
// renumbered to the contiguous run 1..N. On any failure the trip resets to
// empty and a short notice is kept for the snapshot; the full error goes to
// the log. Load never hangs: the repository bounds the request.
func (s *ServiceImpl) Load(ctx context.Context, manual bool) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "Load", trace.WithAttributes(
		attribute.Bool("load.manual", manual),
	))
	defer span.End()

	l := s.logger.With(slog.String("method", "Load"), slog.Bool("manual", manual))

	s.mu.Lock()
	if manual {
		s.refreshing = true
	} else {
		s.loading = true
	}
	s.mu.Unlock()

	metrics.Get().TripLoadsTotal.Add(ctx, 1)
	trip, err := s.repo.FetchTrip(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.loading = false
	s.refreshing = false

	if err != nil {
		l.ErrorContext(ctx, "Trip load failed, resetting local state", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Load failed")
		metrics.Get().TripLoadFailuresTotal.Add(ctx, 1)
		// Data loss on error is an accepted simplification: an empty
		// itinerary beats a crash, and a later refresh restores it.
		s.trip = models.Trip{}
		s.lastLoadError = loadErrorNotice(err)
		s.normalizeActiveLocked()
		return s.snapshotLocked()
	}

	for i := range trip {
		trip[i].Items = models.SortItemsByTime(trip[i].Items)
	}
	trip = models.RenumberDays(models.SortDaysByNumber(trip))

	s.trip = trip
	s.lastLoadError = ""
	s.normalizeActiveLocked()

	l.InfoContext(ctx, "Trip loaded", slog.Int("days", len(trip)))
	span.SetAttributes(attribute.Int("trip.days", len(trip)))
	span.SetStatus(codes.Ok, "Trip loaded")
	return s.snapshotLocked()
}

// Snapshot returns a copy of the current state.
func (s *ServiceImpl) Snapshot(ctx context.Context) Snapshot {
	_, span := otel.Tracer("ItineraryService").Start(ctx, "Snapshot")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// SetActiveDay selects the day the UI renders. The selection must resolve
// to an existing day; 0 means no day (empty trip state).
func (s *ServiceImpl) SetActiveDay(ctx context.Context, day int) (Snapshot, error) {
	_, span := otel.Tracer("ItineraryService").Start(ctx, "SetActiveDay", trace.WithAttributes(
		attribute.Int("day", day),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if day == 0 && len(s.trip) == 0 {
		s.activeDay = 0
		return s.snapshotLocked(), nil
	}
	if s.dayIndexLocked(day) < 0 {
		span.SetStatus(codes.Error, "Day not found")
		return s.snapshotLocked(), fmt.Errorf("selecting day %d: %w", day, ErrDayNotFound)
	}
	s.activeDay = day
	return s.snapshotLocked(), nil
}

// AddItem inserts a candidate item into the active day. Missing fields get
// defaults: fresh id, 12:00, type sight. Create funnels through the same
// upsert as edit; the caller's create-vs-edit intent only matters for
// modal titles, never for dispatch.
func (s *ServiceImpl) AddItem(ctx context.Context, item models.ItineraryItem) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "AddItem")
	defer span.End()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Time == "" {
		item.Time = models.DefaultClock
	}
	if item.Type == "" {
		item.Type = models.ItemTypeSight
	}
	return s.UpsertItem(ctx, item)
}

// UpsertItem replaces the item with a matching id within the active day,
// or appends it when no match exists, then re-sorts the day. The
// not-found case degrades to append, never to an error.
func (s *ServiceImpl) UpsertItem(ctx context.Context, item models.ItineraryItem) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "UpsertItem", trace.WithAttributes(
		attribute.String("item.id", item.ID),
	))
	defer span.End()

	// Transient rendering tags must never reach the persisted trip.
	item.RowKind = ""
	item.IsDummy = false

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.dayIndexLocked(s.activeDay)
	if idx < 0 {
		span.SetStatus(codes.Ok, "No active day, no-op")
		return s.snapshotLocked()
	}

	day := s.trip[idx]
	replaced := false
	items := make([]models.ItineraryItem, len(day.Items))
	copy(items, day.Items)
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, item)
	}
	day.Items = models.SortItemsByTime(items)
	s.trip[idx] = day

	s.afterMutationLocked(ctx, "upsert_item")
	span.SetAttributes(attribute.Bool("item.replaced", replaced))
	span.SetStatus(codes.Ok, "Item upserted")
	return s.snapshotLocked()
}

// DeleteItem removes the item by id from whichever day holds it, not just
// the active one.
func (s *ServiceImpl) DeleteItem(ctx context.Context, id string) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "DeleteItem", trace.WithAttributes(
		attribute.String("item.id", id),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for i := range s.trip {
		items := s.trip[i].Items[:0:0]
		for _, it := range s.trip[i].Items {
			if it.ID == id {
				removed = true
				continue
			}
			items = append(items, it)
		}
		s.trip[i].Items = items
	}

	if removed {
		s.afterMutationLocked(ctx, "delete_item")
	}
	span.SetAttributes(attribute.Bool("item.removed", removed))
	span.SetStatus(codes.Ok, "Delete handled")
	return s.snapshotLocked()
}

// ReorderItems installs a new ordering for the active day verbatim (a
// drag-reorder may deliberately break time order). Placeholder rows from
// the rendering layer are filtered out first.
func (s *ServiceImpl) ReorderItems(ctx context.Context, order []models.ItineraryItem) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "ReorderItems", trace.WithAttributes(
		attribute.Int("order.len", len(order)),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.dayIndexLocked(s.activeDay)
	if idx < 0 {
		span.SetStatus(codes.Ok, "No active day, no-op")
		return s.snapshotLocked()
	}

	items := make([]models.ItineraryItem, 0, len(order))
	for _, it := range order {
		if it.IsPlaceholder() {
			continue
		}
		it.RowKind = ""
		it.IsDummy = false
		items = append(items, it)
	}
	s.trip[idx].Items = items

	s.afterMutationLocked(ctx, "reorder_items")
	span.SetStatus(codes.Ok, "Items reordered")
	return s.snapshotLocked()
}

// AddDay appends a new empty day numbered count+1 and selects it.
func (s *ServiceImpl) AddDay(ctx context.Context) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "AddDay")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := len(s.trip) + 1
	s.trip = append(s.trip, models.DayPlan{
		Day:     models.DayNumber(next),
		Summary: "",
		Items:   []models.ItineraryItem{},
	})
	s.activeDay = next

	s.afterMutationLocked(ctx, "add_day")
	span.SetAttributes(attribute.Int("day", next))
	span.SetStatus(codes.Ok, "Day added")
	return s.snapshotLocked()
}

// DeleteDay removes a day and renumbers the rest down to keep the 1..N
// run contiguous. Active-day recovery: deleting the active day falls back
// to day 1 (or no day when the trip empties); deleting an earlier day
// decrements the selection so it tracks the same logical day. The user
// confirmation happens in the UI before this is called.
func (s *ServiceImpl) DeleteDay(ctx context.Context, day int) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "DeleteDay", trace.WithAttributes(
		attribute.Int("day", day),
	))
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.dayIndexLocked(day)
	if idx < 0 {
		span.SetStatus(codes.Ok, "Day not found, no-op")
		return s.snapshotLocked()
	}

	s.trip = models.RenumberDays(append(s.trip[:idx:idx], s.trip[idx+1:]...))

	switch {
	case s.activeDay == day:
		if len(s.trip) > 0 {
			s.activeDay = 1
		} else {
			s.activeDay = 0
		}
	case s.activeDay > day:
		s.activeDay--
	}

	s.afterMutationLocked(ctx, "delete_day")
	span.SetStatus(codes.Ok, "Day deleted")
	return s.snapshotLocked()
}

// SetDaySummary replaces the active day's summary.
func (s *ServiceImpl) SetDaySummary(ctx context.Context, summary string) Snapshot {
	ctx, span := otel.Tracer("ItineraryService").Start(ctx, "SetDaySummary")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.dayIndexLocked(s.activeDay)
	if idx < 0 {
		span.SetStatus(codes.Ok, "No active day, no-op")
		return s.snapshotLocked()
	}
	s.trip[idx].Summary = summary

	s.afterMutationLocked(ctx, "set_day_summary")
	span.SetStatus(codes.Ok, "Summary updated")
	return s.snapshotLocked()
}

// Drain waits for queued pushes to land; called on graceful shutdown so a
// final edit is not lost with the process.
func (s *ServiceImpl) Drain(ctx context.Context) error {
	return s.pusher.Drain(ctx)
}

// --- internals (callers hold s.mu) ---

func (s *ServiceImpl) snapshotLocked() Snapshot {
	return Snapshot{
		Trip:           s.trip.Clone(),
		ActiveDay:      s.activeDay,
		Loading:        s.loading,
		Refreshing:     s.refreshing,
		LastLoadError:  s.lastLoadError,
		SavedPlacesURL: s.savedPlacesURL,
	}
}

func (s *ServiceImpl) dayIndexLocked(day int) int {
	for i := range s.trip {
		if int(s.trip[i].Day) == day {
			return i
		}
	}
	return -1
}

// normalizeActiveLocked re-anchors the active-day selection after a
// wholesale trip replacement: empty trip means no day, otherwise a
// selection that no longer resolves falls back to day 1.
func (s *ServiceImpl) normalizeActiveLocked() {
	if len(s.trip) == 0 {
		s.activeDay = 0
		return
	}
	if s.dayIndexLocked(s.activeDay) < 0 {
		s.activeDay = 1
	}
}

// afterMutationLocked is the sync half of mutate-then-sync: the local
// state is already installed, so count the mutation and hand the new trip
// to the pusher without waiting for it.
func (s *ServiceImpl) afterMutationLocked(ctx context.Context, op string) {
	metrics.Get().MutationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
	s.pusher.Enqueue(s.trip.Clone())
}

// loadErrorNotice maps a load failure onto the short, user-facing notice
// kept in the snapshot; the full error is logged separately.
func loadErrorNotice(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return "connection timed out, check the network or the itinerary API URL"
	case isDecodeError(err):
		return "the itinerary backend returned data in an unexpected format"
	default:
		return "could not reach the itinerary backend"
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}
