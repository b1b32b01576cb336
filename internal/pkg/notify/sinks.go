package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-resty/resty/v2"
	"github.com/valkey-io/valkey-go"
	"github.com/vreid/arena/internal/pkg/common"
)

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Publish(ctx context.Context, event Event) error {
	var errs []error

	for _, sink := range m {
		err := sink.Publish(ctx, event)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// ValkeySink fans events out on a Valkey pub/sub channel for push clients.
type ValkeySink struct {
	Client  valkey.Client
	Channel string
}

func NewValkeySink(address, channel string) (*ValkeySink, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{address}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", address, err)
	}

	return &ValkeySink{Client: client, Channel: channel}, nil
}

func (s *ValkeySink) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Type, err)
	}

	cmd := s.Client.B().Publish().Channel(s.Channel).Message(string(payload)).Build()

	err = s.Client.Do(ctx, cmd).Error()
	if err != nil {
		return fmt.Errorf("failed to publish event %s to valkey: %w", event.Type, err)
	}

	return nil
}

func (s *ValkeySink) Shutdown() {
	s.Client.Close()
}

// WebhookSink posts every event as JSON to an integrator endpoint.
type WebhookSink struct {
	Client *resty.Client
	URL    string
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	return &WebhookSink{
		Client: resty.New().SetTimeout(timeout),
		URL:    url,
	}
}

func (s *WebhookSink) Publish(ctx context.Context, event Event) error {
	resp, err := s.Client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-Type", event.Type).
		SetBody(event).
		Post(s.URL)
	if err != nil {
		return fmt.Errorf("failed to post event %s: %w", event.Type, err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook rejected event %s with status %d", event.Type, resp.StatusCode())
	}

	return nil
}

// Forwarder reads the topic and hands every event to Sink. Failures are
// logged and counted; the message is acked either way.
type Forwarder struct {
	Subscriber message.Subscriber
	Sink       Sink
	Logger     *slog.Logger
	Metrics    *common.MetricsService
}

func (f *Forwarder) Start(ctx context.Context) error {
	messages, err := f.Subscriber.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", Topic, err)
	}

	go f.forward(ctx, messages)

	return nil
}

func (f *Forwarder) forward(ctx context.Context, messages <-chan *message.Message) {
	for msg := range messages {
		var event Event

		err := json.Unmarshal(msg.Payload, &event)
		if err != nil {
			failed(f.Logger, f.Metrics, Event{ID: msg.UUID, Type: msg.Metadata.Get("event_type")}, err)
			msg.Ack()

			continue
		}

		err = f.Sink.Publish(ctx, event)
		if err != nil {
			failed(f.Logger, f.Metrics, event, err)
		}

		msg.Ack()
	}
}
