package itinerary

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wanderday/trip-itinerary-api/app/observability/metrics"
	"github.com/wanderday/trip-itinerary-api/internal/models"
)

const pushTimeout = 15 * time.Second

// pusher persists trips to the remote store in the background. It keeps at
// most one push in flight and coalesces everything queued behind it into
// the single latest snapshot, so rapid edits can never race two writes
// against the last-writer-wins backend.
//
// Push failures are logged and counted, never surfaced to the mutation
// that triggered them: local state already reflects the edit.
type pusher struct {
	repo   Repository
	logger *slog.Logger

	mu         sync.Mutex
	pending    models.Trip
	hasPending bool
	inflight   bool
	idle       *sync.Cond
}

func newPusher(repo Repository, logger *slog.Logger) *pusher {
	p := &pusher{repo: repo, logger: logger}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Enqueue records the trip as the latest pending state and starts the
// background worker if none is running. Never blocks on the network.
func (p *pusher) Enqueue(trip models.Trip) {
	p.mu.Lock()
	p.pending = trip
	p.hasPending = true
	if p.inflight {
		p.mu.Unlock()
		return
	}
	p.inflight = true
	p.mu.Unlock()

	go p.run()
}

func (p *pusher) run() {
	for {
		p.mu.Lock()
		if !p.hasPending {
			p.inflight = false
			p.idle.Broadcast()
			p.mu.Unlock()
			return
		}
		next := p.pending
		p.hasPending = false
		p.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		metrics.Get().TripSyncsTotal.Add(ctx, 1)
		if err := p.repo.PushTrip(ctx, next); err != nil {
			metrics.Get().TripSyncFailuresTotal.Add(ctx, 1)
			p.logger.Error("Trip push failed, local state keeps the edit",
				slog.Any("error", err),
				slog.Int("days", len(next)),
			)
		}
		cancel()
	}
}

// Drain blocks until no push is in flight or queued, or the context ends.
// Used by graceful shutdown and tests; mutations never call it.
func (p *pusher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.mu.Lock()
		for p.inflight || p.hasPending {
			p.idle.Wait()
		}
		p.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
