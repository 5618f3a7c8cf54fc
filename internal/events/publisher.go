// Package events ships committed grant events to external sinks.
package events

import (
	"context"
	"errors"

	"grant-workers/internal/common/logger"
	"grant-workers/internal/common/metrics"
	"grant-workers/internal/grants"
)

// Sink is one destination for committed events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, events []grants.Event) error
}

// MultiPublisher hands every batch to all sinks. A failing sink does not
// stop the others; their errors are joined.
type MultiPublisher struct {
	sinks  []Sink
	logger logger.Logger
}

func NewMultiPublisher(log logger.Logger, sinks ...Sink) *MultiPublisher {
	return &MultiPublisher{sinks: sinks, logger: log}
}

func (m *MultiPublisher) Sinks() int { return len(m.sinks) }

func (m *MultiPublisher) Publish(ctx context.Context, events []grants.Event) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			metrics.EventsPublished.WithLabelValues(sink.Name(), "failed").Add(float64(len(events)))
			m.logger.Warn("event sink failed", map[string]interface{}{
				"sink":   sink.Name(),
				"events": len(events),
				"error":  err.Error(),
			})
			errs = append(errs, err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(sink.Name(), "ok").Add(float64(len(events)))
	}
	return errors.Join(errs...)
}

var _ grants.EventPublisher = (*MultiPublisher)(nil)
