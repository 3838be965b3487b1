// Package alert publishes service status transitions to Pub/Sub so paging
// and chat integrations can react to outages without polling the dashboard.
package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/pulseboard/pulseboard/internal/health"
)

// Event describes one service status transition.
type Event struct {
	Service    string        `json:"service"`
	From       health.Status `json:"from"`
	To         health.Status `json:"to"`
	ResponseMs int64         `json:"responseMs"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// Sink delivers events to the alerting backend.
type Sink interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NotifierConfig holds configuration for the alert notifier.
type NotifierConfig struct {
	// PublishTimeout bounds each publish call.
	// Default: 10 seconds
	PublishTimeout time.Duration

	Logger zerolog.Logger
}

// Notifier tracks the previous monitor cycle and emits an Event for every
// service whose status changed. The first cycle establishes a baseline;
// transitions from unknown are not alerted.
type Notifier struct {
	sink    Sink
	timeout time.Duration
	logger  zerolog.Logger

	previous map[string]health.Status
}

// NewNotifier creates a notifier delivering to the given sink.
func NewNotifier(sink Sink, cfg NotifierConfig) *Notifier {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	return &Notifier{
		sink:    sink,
		timeout: cfg.PublishTimeout,
		logger:  cfg.Logger.With().Str("component", "alert_notifier").Logger(),
	}
}

// Attach subscribes the notifier to the monitor. The returned function
// removes the subscription. The monitor serializes cycles, so the
// previous-state map needs no locking.
func (n *Notifier) Attach(monitor *health.Monitor) func() {
	return monitor.Subscribe(func(checks map[string]health.Check) {
		for _, event := range n.diff(checks) {
			n.deliver(event)
		}
	})
}

func (n *Notifier) diff(checks map[string]health.Check) []Event {
	var events []Event
	for service, check := range checks {
		prev, seen := n.previous[service]
		if seen && prev != health.StatusUnknown && prev != check.Status {
			events = append(events, Event{
				Service:    service,
				From:       prev,
				To:         check.Status,
				ResponseMs: check.ResponseTime.Milliseconds(),
				OccurredAt: check.Timestamp,
			})
		}
	}

	next := make(map[string]health.Status, len(checks))
	for service, check := range checks {
		next[service] = check.Status
	}
	n.previous = next

	return events
}

func (n *Notifier) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.sink.Publish(ctx, event); err != nil {
		n.logger.Error().
			Err(err).
			Str("service", event.Service).
			Str("from", string(event.From)).
			Str("to", string(event.To)).
			Msg("failed to publish status change")
		return
	}

	n.logger.Info().
		Str("service", event.Service).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Msg("status change published")
}

// PubSubSink publishes events to a Google Cloud Pub/Sub topic.
type PubSubSink struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewPubSubSink creates a sink for the given project and topic.
func NewPubSubSink(ctx context.Context, projectID, topicName string) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &PubSubSink{
		client:    client,
		publisher: client.Publisher(topicName),
	}, nil
}

// Publish sends one event and waits for the server acknowledgement.
func (s *PubSubSink) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	result := s.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"service": event.Service,
			"status":  string(event.To),
		},
	})

	_, err = result.Get(ctx)
	return err
}

// Close stops the publisher and releases the client.
func (s *PubSubSink) Close() error {
	s.publisher.Stop()
	return s.client.Close()
}
