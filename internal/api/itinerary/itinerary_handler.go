package itinerary

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wanderday/trip-itinerary-api/internal/api"
	"github.com/wanderday/trip-itinerary-api/internal/api/routeplan"
	"github.com/wanderday/trip-itinerary-api/internal/models"
)

var _ Handler = (*HandlerImpl)(nil)

// Handler is the HTTP surface the rendering layer talks to. It only ever
// reads snapshots and routes mutation intents into the store.
type Handler interface {
	GetSnapshot(w http.ResponseWriter, r *http.Request)
	Refresh(w http.ResponseWriter, r *http.Request)
	SetActiveDay(w http.ResponseWriter, r *http.Request)
	AddDay(w http.ResponseWriter, r *http.Request)
	DeleteDay(w http.ResponseWriter, r *http.Request)
	SetDaySummary(w http.ResponseWriter, r *http.Request)
	ReorderItems(w http.ResponseWriter, r *http.Request)
	GetDayRoutes(w http.ResponseWriter, r *http.Request)
	AddItem(w http.ResponseWriter, r *http.Request)
	UpsertItem(w http.ResponseWriter, r *http.Request)
	DeleteItem(w http.ResponseWriter, r *http.Request)
}

type HandlerImpl struct {
	service Service
	routes  *routeplan.Builder
	logger  *slog.Logger
}

func NewHandler(service Service, routes *routeplan.Builder, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		service: service,
		routes:  routes,
		logger:  logger,
	}
}

type setActiveDayRequest struct {
	Day int `json:"day"`
}

type setSummaryRequest struct {
	Summary string `json:"summary"`
}

type reorderRequest struct {
	Items []models.ItineraryItem `json:"items"`
}

// RouteLink is one "plan route" affordance between two adjacent stops.
type RouteLink struct {
	FromID string `json:"fromId"`
	ToID   string `json:"toId"`
	URL    string `json:"url"`
}

// GetSnapshot returns the current trip state
// @Summary Get the itinerary snapshot
// @Description Returns the full trip, active day, loading flags and last load error
// @Tags itinerary
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Router /api/v1/itinerary [get]
func (h *HandlerImpl) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "GetSnapshot")
	defer span.End()

	snap := h.service.Snapshot(ctx)
	span.SetAttributes(attribute.Int("trip.days", len(snap.Trip)))
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// Refresh reloads the trip from the remote store
// @Summary Manually refresh the itinerary
// @Description Reloads the full trip from the remote spreadsheet store (pull-to-refresh)
// @Tags itinerary
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Router /api/v1/itinerary/refresh [post]
func (h *HandlerImpl) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "Refresh")
	defer span.End()

	l := h.logger.With(slog.String("method", "Refresh"))
	l.InfoContext(ctx, "Manual refresh requested")

	snap := h.service.Load(ctx, true)
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// SetActiveDay selects the day the UI renders
// @Summary Select the active day
// @Tags itinerary
// @Accept json
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Failure 400 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/itinerary/active-day [put]
func (h *HandlerImpl) SetActiveDay(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "SetActiveDay")
	defer span.End()

	var req setActiveDayRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		span.SetStatus(codes.Error, "Bad request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.service.SetActiveDay(ctx, req.Day)
	if err != nil {
		if errors.Is(err, ErrDayNotFound) {
			api.ErrorResponse(w, r, http.StatusNotFound, err.Error())
			return
		}
		span.RecordError(err)
		api.ErrorResponse(w, r, http.StatusInternalServerError, "failed to select day")
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// AddDay appends a new day and selects it
// @Summary Add a day
// @Tags itinerary
// @Produce json
// @Success 201 {object} itinerary.Snapshot
// @Router /api/v1/itinerary/days [post]
func (h *HandlerImpl) AddDay(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "AddDay")
	defer span.End()

	snap := h.service.AddDay(ctx)
	api.WriteJSONResponse(w, r, http.StatusCreated, snap)
}

// DeleteDay removes a day and renumbers the rest
// @Summary Delete a day
// @Description Removes the day and renumbers following days; the UI confirms with the user first
// @Tags itinerary
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/itinerary/days/{day} [delete]
func (h *HandlerImpl) DeleteDay(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "DeleteDay")
	defer span.End()

	day, ok := h.dayParam(w, r)
	if !ok {
		span.SetStatus(codes.Error, "Bad day parameter")
		return
	}
	span.SetAttributes(attribute.Int("day", day))

	snap := h.service.DeleteDay(ctx, day)
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// SetDaySummary edits the active day's summary
// @Summary Edit the active day's summary
// @Tags itinerary
// @Accept json
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/itinerary/days/{day}/summary [put]
func (h *HandlerImpl) SetDaySummary(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "SetDaySummary")
	defer span.End()

	day, ok := h.dayParam(w, r)
	if !ok {
		span.SetStatus(codes.Error, "Bad day parameter")
		return
	}
	if !h.requireActiveDay(w, r, day) {
		span.SetStatus(codes.Error, "Day is not active")
		return
	}

	var req setSummaryRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.service.SetDaySummary(ctx, req.Summary)
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// ReorderItems installs a new item ordering for the active day
// @Summary Reorder the active day's items
// @Description Installs a drag-reorder result verbatim; placeholder rows are filtered out
// @Tags itinerary
// @Accept json
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Failure 409 {object} map[string]interface{}
// @Router /api/v1/itinerary/days/{day}/order [put]
func (h *HandlerImpl) ReorderItems(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "ReorderItems")
	defer span.End()

	day, ok := h.dayParam(w, r)
	if !ok {
		span.SetStatus(codes.Error, "Bad day parameter")
		return
	}
	if !h.requireActiveDay(w, r, day) {
		span.SetStatus(codes.Error, "Day is not active")
		return
	}

	var req reorderRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.service.ReorderItems(ctx, req.Items)
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// GetDayRoutes returns the route links between adjacent stops of a day
// @Summary Get route links for a day
// @Description One link per adjacent pair where both stops carry a valid maps URL
// @Tags itinerary
// @Produce json
// @Success 200 {array} itinerary.RouteLink
// @Failure 404 {object} map[string]interface{}
// @Router /api/v1/itinerary/days/{day}/routes [get]
func (h *HandlerImpl) GetDayRoutes(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "GetDayRoutes")
	defer span.End()

	day, ok := h.dayParam(w, r)
	if !ok {
		span.SetStatus(codes.Error, "Bad day parameter")
		return
	}

	snap := h.service.Snapshot(ctx)
	var plan *models.DayPlan
	for i := range snap.Trip {
		if int(snap.Trip[i].Day) == day {
			plan = &snap.Trip[i]
			break
		}
	}
	if plan == nil {
		api.ErrorResponse(w, r, http.StatusNotFound, "day not found")
		return
	}

	// Route links follow the rendered order, so sort before pairing.
	items := models.SortItemsByTime(plan.Items)
	links := make([]RouteLink, 0, len(items))
	for i := 0; i+1 < len(items); i++ {
		url, ok := h.routes.BuildRouteQuery(items[i], items[i+1])
		if !ok {
			continue
		}
		links = append(links, RouteLink{FromID: items[i].ID, ToID: items[i+1].ID, URL: url})
	}

	span.SetAttributes(attribute.Int("routes.count", len(links)))
	api.WriteJSONResponse(w, r, http.StatusOK, links)
}

// AddItem creates a new stop in the active day
// @Summary Add an itinerary item
// @Description Missing fields default to a fresh id, time 12:00 and type sight
// @Tags itinerary
// @Accept json
// @Produce json
// @Success 201 {object} itinerary.Snapshot
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/itinerary/items [post]
func (h *HandlerImpl) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "AddItem")
	defer span.End()

	var item models.ItineraryItem
	if err := api.DecodeJSONBody(w, r, &item); err != nil {
		span.SetStatus(codes.Error, "Bad request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	snap := h.service.AddItem(ctx, item)
	api.WriteJSONResponse(w, r, http.StatusCreated, snap)
}

// UpsertItem edits a stop by id, appending when the id is unknown
// @Summary Edit an itinerary item
// @Tags itinerary
// @Accept json
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/itinerary/items/{id} [put]
func (h *HandlerImpl) UpsertItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "UpsertItem")
	defer span.End()

	id := chi.URLParam(r, "id")
	if id == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "item id is required")
		return
	}
	span.SetAttributes(attribute.String("item.id", id))

	var item models.ItineraryItem
	if err := api.DecodeJSONBody(w, r, &item); err != nil {
		span.SetStatus(codes.Error, "Bad request body")
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}
	// The path is authoritative for the id.
	item.ID = id

	snap := h.service.UpsertItem(ctx, item)
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

// DeleteItem removes a stop by id from any day
// @Summary Delete an itinerary item
// @Tags itinerary
// @Produce json
// @Success 200 {object} itinerary.Snapshot
// @Failure 400 {object} map[string]interface{}
// @Router /api/v1/itinerary/items/{id} [delete]
func (h *HandlerImpl) DeleteItem(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("ItineraryHandler").Start(r.Context(), "DeleteItem")
	defer span.End()

	id := chi.URLParam(r, "id")
	if id == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "item id is required")
		return
	}
	span.SetAttributes(attribute.String("item.id", id))

	snap := h.service.DeleteItem(ctx, id)
	api.WriteJSONResponse(w, r, http.StatusOK, snap)
}

func (h *HandlerImpl) dayParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "day")
	day, err := strconv.Atoi(raw)
	if err != nil || day < 1 {
		api.ErrorResponse(w, r, http.StatusBadRequest, "day must be a positive integer")
		return 0, false
	}
	return day, true
}

// requireActiveDay rejects summary/order edits addressed to a day the UI
// is not rendering; those operations are active-day-scoped in the store.
func (h *HandlerImpl) requireActiveDay(w http.ResponseWriter, r *http.Request, day int) bool {
	if snap := h.service.Snapshot(r.Context()); snap.ActiveDay != day {
		api.ErrorResponse(w, r, http.StatusConflict, "day is not the active day")
		return false
	}
	return true
}
