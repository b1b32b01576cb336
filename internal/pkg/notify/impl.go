package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/samber/do/v2"
	"github.com/vreid/arena/internal/pkg/common"
)

const webhookTimeout = 5 * time.Second

// Sink receives lifecycle events for delivery to clients.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

type WatermillSink struct {
	Publisher message.Publisher
	Topic     string
}

func (s *WatermillSink) Publish(_ context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", event.Type)
	msg.Metadata.Set("entity_id", event.EntityID)

	err = s.Publisher.Publish(s.Topic, msg)
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}

	return nil
}

func NewPubSub(i do.Injector) (*gochannel.GoChannel, error) {
	logger := do.MustInvoke[*slog.Logger](i)

	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(logger)), nil
}

// NotificationService is the fire-and-forget front of a Sink: publish
// failures are logged and counted, never returned. Sink only has to reach the
// in-process topic; Forwarder carries events to slower sinks off the request
// path.
type NotificationService struct {
	Sink      Sink
	Forwarder *Forwarder
	Logger    *slog.Logger
	Metrics   *common.MetricsService
}

func NewNotificationService(i do.Injector) (*NotificationService, error) {
	pubSub := do.MustInvoke[*gochannel.GoChannel](i)
	valkeyAddress := do.MustInvokeNamed[string](i, "valkey-address")
	webhookURL := do.MustInvokeNamed[string](i, "webhook-url")
	logger := do.MustInvoke[*slog.Logger](i)
	metrics := do.MustInvoke[*common.MetricsService](i)

	var remote MultiSink

	if valkeyAddress != "" {
		valkeySink, err := NewValkeySink(valkeyAddress, Topic)
		if err != nil {
			return nil, err
		}

		remote = append(remote, valkeySink)
	}

	if webhookURL != "" {
		remote = append(remote, NewWebhookSink(webhookURL, webhookTimeout))
	}

	result := &NotificationService{
		Sink:    &WatermillSink{Publisher: pubSub, Topic: Topic},
		Logger:  logger,
		Metrics: metrics,
	}

	if len(remote) > 0 {
		result.Forwarder = &Forwarder{
			Subscriber: pubSub,
			Sink:       remote,
			Logger:     logger,
			Metrics:    metrics,
		}
	}

	return result, nil
}

// Start begins forwarding to the remote sinks, if any are configured.
func (s *NotificationService) Start(ctx context.Context) error {
	if s.Forwarder == nil {
		return nil
	}

	return s.Forwarder.Start(ctx)
}

// Shutdown closes sinks that hold connections.
func (s *NotificationService) Shutdown() {
	if s.Forwarder == nil {
		return
	}

	sinks, ok := s.Forwarder.Sink.(MultiSink)
	if !ok {
		return
	}

	for _, sink := range sinks {
		if valkeySink, ok := sink.(*ValkeySink); ok {
			valkeySink.Shutdown()
		}
	}
}

func failed(logger *slog.Logger, metrics *common.MetricsService, event Event, err error) {
	if metrics != nil {
		metrics.NotificationFailed()
	}

	if logger != nil {
		logger.Error("failed to publish event",
			slog.String("event", event.Type),
			slog.String("entity_id", event.EntityID),
			slog.Any("error", err),
		)
	}
}

func NewEvent(eventType, entityID, actor string, payload any) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     eventType,
		EntityID: entityID,
		Actor:    actor,
		At:       time.Now().UTC(),
		Payload:  payload,
	}
}

func (s *NotificationService) Emit(ctx context.Context, events ...Event) {
	if s == nil || s.Sink == nil {
		return
	}

	for _, event := range events {
		err := s.Sink.Publish(ctx, event)
		if err != nil {
			failed(s.Logger, s.Metrics, event, err)
		}
	}
}

// Drain logs every event on the topic until ctx ends. It stands in for the
// delivery transport, which lives outside this service.
func Drain(ctx context.Context, subscriber message.Subscriber, logger *slog.Logger) error {
	messages, err := subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	go func() {
		for msg := range messages {
			logger.Debug("event delivered",
				slog.String("event", msg.Metadata.Get("event_type")),
				slog.String("entity_id", msg.Metadata.Get("entity_id")),
				slog.String("message_id", msg.UUID),
			)
			msg.Ack()
		}
	}()

	return nil
}
