package stream

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc"

	"github.com/efreitasn/fractionex/internal/domain"
)

// Sink receives batches of trades in emission order. A sink must not retain
// the slice after Write returns.
type Sink interface {
	Name() string
	Write(ctx context.Context, trades []domain.Trade) error
}

// Hub is a buffered asynchronous fan-out. Publish enqueues a batch; a single
// worker delivers batches to every sink in the order they were published.
// Sink failures are logged and counted, never returned to the publisher.
type Hub struct {
	queue   chan []domain.Trade
	done    chan struct{}
	sinks   []Sink
	logger  *slog.Logger
	onError func(sink string)
}

// NewHub creates a Hub with room for buffer pending batches.
func NewHub(buffer int, logger *slog.Logger, sinks ...Sink) *Hub {
	return &Hub{
		queue:  make(chan []domain.Trade, buffer),
		done:   make(chan struct{}),
		sinks:  sinks,
		logger: logger,
	}
}

// OnError registers a callback invoked with the sink name after each failed
// write. Call it before Run.
func (h *Hub) OnError(fn func(sink string)) {
	h.onError = fn
}

// Publish enqueues a batch of trades. It blocks while the buffer is full and
// drops the batch once the hub has stopped.
func (h *Hub) Publish(trades []domain.Trade) {
	if len(trades) == 0 {
		return
	}
	batch := append([]domain.Trade(nil), trades...)
	select {
	case h.queue <- batch:
	case <-h.done:
		h.logger.Warn("trade stream stopped, dropping trades",
			slog.Int("count", len(batch)),
			slog.Uint64("first_seq", batch[0].Seq),
		)
	}
}

// Run delivers batches until ctx is cancelled, then flushes what is already
// queued and returns.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case batch := <-h.queue:
			h.deliver(ctx, batch)
		case <-ctx.Done():
			h.drain()
			return nil
		}
	}
}

func (h *Hub) drain() {
	for {
		select {
		case batch := <-h.queue:
			h.deliver(context.Background(), batch)
		default:
			return
		}
	}
}

// deliver writes one batch to all sinks concurrently and waits for all of
// them, so each sink still sees batches in publish order.
func (h *Hub) deliver(ctx context.Context, batch []domain.Trade) {
	var wg conc.WaitGroup
	for _, s := range h.sinks {
		s := s
		wg.Go(func() {
			if err := s.Write(ctx, batch); err != nil {
				h.logger.Warn("trade sink write failed",
					slog.String("sink", s.Name()),
					slog.Int("count", len(batch)),
					slog.String("error", err.Error()),
				)
				if h.onError != nil {
					h.onError(s.Name())
				}
			}
		})
	}
	wg.Wait()
}
