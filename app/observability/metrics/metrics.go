package metrics

import (
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// AppMetrics holds the application's metric instruments.
// Fields are public so they can be recorded from other packages.
type AppMetrics struct {
	TripLoadsTotal          metric.Int64Counter
	TripLoadFailuresTotal   metric.Int64Counter
	TripLoadDurationSeconds metric.Float64Histogram
	TripSyncsTotal          metric.Int64Counter
	TripSyncFailuresTotal   metric.Int64Counter
	MutationsTotal          metric.Int64Counter
}

var (
	appMetrics *AppMetrics
	once       sync.Once
)

// InitAppMetrics initializes the global metric instruments ONLY ONCE,
// using the Meter from the globally configured MeterProvider.
func InitAppMetrics() {
	once.Do(func() {
		meter := otel.GetMeterProvider().Meter("TripItineraryAPI")
		var err error
		m := &AppMetrics{}

		m.TripLoadsTotal, err = meter.Int64Counter(
			"trip_loads_total",
			metric.WithDescription("Total number of trip loads from the remote store"),
			metric.WithUnit("{load}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create trip_loads_total: %v", err)
		}

		m.TripLoadFailuresTotal, err = meter.Int64Counter(
			"trip_load_failures_total",
			metric.WithDescription("Total number of trip loads that failed and reset local state"),
			metric.WithUnit("{load}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create trip_load_failures_total: %v", err)
		}

		m.TripLoadDurationSeconds, err = meter.Float64Histogram(
			"trip_load_duration_seconds",
			metric.WithDescription("Duration of remote trip fetches in seconds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create trip_load_duration_seconds: %v", err)
		}

		m.TripSyncsTotal, err = meter.Int64Counter(
			"trip_syncs_total",
			metric.WithDescription("Total number of trip pushes to the remote store"),
			metric.WithUnit("{push}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create trip_syncs_total: %v", err)
		}

		m.TripSyncFailuresTotal, err = meter.Int64Counter(
			"trip_sync_failures_total",
			metric.WithDescription("Total number of trip pushes that failed (local state keeps the edit)"),
			metric.WithUnit("{push}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create trip_sync_failures_total: %v", err)
		}

		m.MutationsTotal, err = meter.Int64Counter(
			"itinerary_mutations_total",
			metric.WithDescription("Total number of local itinerary mutations applied"),
			metric.WithUnit("{mutation}"),
		)
		if err != nil {
			log.Fatalf("Metrics: Failed to create itinerary_mutations_total: %v", err)
		}

		log.Println("Application metrics instruments initialized.")
		appMetrics = m
	})
}

// Get returns the globally initialized AppMetrics instance.
// Panics if InitAppMetrics was not called first.
func Get() *AppMetrics {
	if appMetrics == nil {
		// This indicates a programming error - InitAppMetrics must be called at startup.
		panic("metrics instruments not initialized. Call metrics.InitAppMetrics() first.")
	}
	return appMetrics
}
