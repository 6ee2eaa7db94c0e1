package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"fieldplan/internal/config"
	"fieldplan/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Sink receives events in ID order. A failed delivery is retried from the
// same event on the next pass.
type Sink interface {
	ID() string
	Accepts(evtType string) bool
	Deliver(ctx context.Context, evt domain.Event) error
}

// message is the JSON body shared by every sink.
type message struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func encode(evt domain.Event) ([]byte, error) {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	return json.Marshal(message{
		ID:         evt.ID,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
}

// WebhookSink POSTs each event as JSON.
type WebhookSink struct {
	Hook   config.Webhook
	Client *http.Client
	filter eventFilter
}

func NewWebhookSink(hook config.Webhook, client *http.Client) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	return &WebhookSink{Hook: hook, Client: client, filter: newEventFilter(hook.Events)}
}

func (s *WebhookSink) ID() string { return "webhook:" + s.Hook.ID }

func (s *WebhookSink) Accepts(evtType string) bool { return s.filter.match(evtType) }

func (s *WebhookSink) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fieldplan-Event", evt.Type)
	req.Header.Set("X-Fieldplan-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Fieldplan-Project", evt.ProjectID)
	if strings.TrimSpace(s.Hook.Secret) != "" {
		req.Header.Set("X-Fieldplan-Secret", s.Hook.Secret)
	}
	res, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// MessageWriter is the part of *kafka.Writer the sink needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg config.Kafka) MessageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// KafkaSink publishes events keyed by project ID so one project's events
// stay ordered on a single partition.
type KafkaSink struct {
	Topic  string
	Writer MessageWriter
}

func (s *KafkaSink) ID() string { return "kafka:" + s.Topic }

func (s *KafkaSink) Accepts(string) bool { return true }

func (s *KafkaSink) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := encode(evt)
	if err != nil {
		return err
	}
	return s.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.ProjectID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
		},
	})
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
