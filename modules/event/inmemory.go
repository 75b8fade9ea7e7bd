package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
)

const PoisonQueueTopic = "scheduler.poison_queue"

// InMemory is a watermill gochannel backed core.EventBus. Handlers are
// retried and, once exhausted, the message goes to PoisonQueueTopic.
type InMemory struct {
	router *message.Router
	pubSub *gochannel.GoChannel
	logger watermill.LoggerAdapter
}

var _ core.EventBus = (*InMemory)(nil)

func NewInMemory(sl *slog.Logger) (*InMemory, error) {
	if sl == nil {
		sl = slog.Default()
	}
	logger := watermill.NewSlogLogger(sl)
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, errors.InfraError(fmt.Errorf("event: create router: %w", err))
	}
	// PreserveContext keeps trace context flowing into handlers.
	pubSub := gochannel.NewGoChannel(gochannel.Config{PreserveContext: true}, logger)
	return &InMemory{router: router, pubSub: pubSub, logger: logger}, nil
}

func (b *InMemory) Use(middleware ...message.HandlerMiddleware) {
	b.router.AddMiddleware(middleware...)
}

func (b *InMemory) AddPublisherDecorator(decorators ...message.PublisherDecorator) {
	b.router.AddPublisherDecorators(decorators...)
}

func (b *InMemory) Publish(ctx context.Context, event core.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return errors.ValidationError(fmt.Errorf("event: marshal %s: %w", event.EventName(), err))
	}
	msg := message.NewMessageWithContext(ctx, watermill.NewUUID(), payload)
	msg.Metadata.Set("event_name", event.EventName())
	return b.pubSub.Publish(event.EventName(), msg)
}

// Subscribe routes every event published under prototype's name to handler.
// Each message is decoded into a fresh value of prototype's type.
func (b *InMemory) Subscribe(prototype core.Event, handler core.EventHandler[core.Event]) error {
	eventName := prototype.EventName()
	eventType := reflect.TypeOf(prototype)
	if eventType.Kind() == reflect.Ptr {
		eventType = eventType.Elem()
	}

	b.router.AddNoPublisherHandler(
		eventName+"."+watermill.NewShortUUID(),
		eventName,
		b.pubSub,
		func(msg *message.Message) error {
			newEvent := reflect.New(eventType).Interface()
			if err := json.Unmarshal(msg.Payload, newEvent); err != nil {
				return err
			}
			evt, ok := newEvent.(core.Event)
			if !ok {
				return fmt.Errorf("event: %T does not implement core.Event", newEvent)
			}
			return handler.Handle(msg.Context(), evt)
		},
	)
	return nil
}

// Run blocks until ctx is cancelled or the bus is closed. Subscriptions
// must be made before Run.
func (b *InMemory) Run(ctx context.Context) error {
	poisonQueueMiddleware, err := middleware.PoisonQueue(b.pubSub, PoisonQueueTopic)
	if err != nil {
		return err
	}

	retryMiddleware := middleware.Retry{
		MaxRetries:      3,
		InitialInterval: time.Millisecond * 100,
		MaxInterval:     time.Second * 1,
		Multiplier:      2.0,
		Logger:          b.logger,
	}

	b.router.AddMiddleware(
		poisonQueueMiddleware,
		retryMiddleware.Middleware,
		OTelMiddleware,
		middleware.Recoverer,
	)
	b.AddPublisherDecorator(TraceContextDecorator)

	// The router only closes itself through its handlers' subscriptions;
	// with no handlers cancelling ctx alone would never stop it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := b.router.Close(); err != nil {
				b.logger.Error("event: router close failed", err, nil)
			}
		case <-done:
		}
	}()

	return b.router.Run(ctx)
}

// Running is closed once the router is ready to deliver messages.
func (b *InMemory) Running() chan struct{} {
	return b.router.Running()
}

// Close shuts the router and the underlying channels down.
func (b *InMemory) Close() error {
	if err := b.router.Close(); err != nil {
		return err
	}
	return b.pubSub.Close()
}
