// Package events carries execution phase changes from the engine to
// whoever is watching: the HTTP websocket, a Redis stream, an AMQP exchange.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"DefiFlow/pkg/logger"
)

// Event is one published phase transition.
type Event struct {
	ID       string    `json:"id"`
	RunID    string    `json:"runId,omitempty"`
	Phase    string    `json:"phase"`
	Step     int       `json:"step"`
	StepName string    `json:"stepName,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Code     string    `json:"code,omitempty"`
	TxRef    string    `json:"txRef,omitempty"`
	Summary  string    `json:"summary,omitempty"`
	At       time.Time `json:"at"`
}

// Stamp fills the id and timestamp if they are missing.
func (e Event) Stamp() Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Sink is a named publisher that can be released.
type Sink interface {
	Publisher
	Name() string
	Close() error
}

// Fanout delivers each event to every sink. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout builds a fanout over the non-nil sinks.
func NewFanout(sinks ...Sink) *Fanout {
	list := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			list = append(list, s)
		}
	}
	return &Fanout{sinks: list, logger: logger.Named("events")}
}

// Publish stamps the event and hands it to all sinks.
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	event = event.Stamp()
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		f.logger.Warn("事件投递失败", slog.String("event_id", event.ID), slog.String("phase", event.Phase), slog.Any("error", err))
		return err
	}
	return nil
}

// Close releases every sink.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
