package core

import (
	"context"
	"reflect"
	"time"
)

// Event is something that already happened, e.g. a finished execution.
type Event interface {
	EventID() string
	EventName() string
	OccurredOn() time.Time
}

// EventHandler handles one kind of event.
type EventHandler[E Event] interface {
	Handle(ctx context.Context, event E) error
}

// EventHandlerFunc is the raw handler signature used by bus middlewares.
type EventHandlerFunc func(context.Context, Event) error

// EventBus publishes events and dispatches them to subscribers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(prototype Event, handler EventHandler[Event]) error
	Run(ctx context.Context) error
}

// SubscribeEvent registers a typed handler for events of type E.
func SubscribeEvent[E Event](bus EventBus, handler EventHandler[E]) error {
	var zero E
	// A nil pointer prototype cannot answer EventName, so allocate one.
	val := reflect.ValueOf(zero)
	if val.Kind() == reflect.Ptr && val.IsNil() {
		val = reflect.New(val.Type().Elem())
		zero = val.Interface().(E)
	}

	return bus.Subscribe(zero, &eventHandlerWrapper[E]{handler: handler})
}

type eventHandlerWrapper[E Event] struct {
	handler EventHandler[E]
}

func (w *eventHandlerWrapper[E]) Handle(ctx context.Context, event Event) error {
	return w.handler.Handle(ctx, event.(E))
}
