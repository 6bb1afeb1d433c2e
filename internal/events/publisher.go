package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/clinic-availability-engine/internal/calendar"
)

type Publisher interface {
	Publish(ctx context.Context, batch []calendar.EventLog) error
}

// Envelope is the JSON value of every published message.
type Envelope struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	BookingID      *uuid.UUID      `json:"booking_id,omitempty"`
	PractitionerID *uuid.UUID      `json:"practitioner_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type KafkaPublisher struct {
	writer  *kafka.Writer
	brokers []string
}

// NewKafkaPublisher writes to one topic keyed by practitioner, so a consumer
// sees each practitioner's events in commit order.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		brokers: brokers,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, batch []calendar.EventLog) error {
	msgs := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		msg, err := Message(ctx, ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(msgs), err)
	}
	return nil
}

// Message renders ev as a Kafka message carrying the trace context the event
// was logged under.
func Message(ctx context.Context, ev calendar.EventLog) (kafka.Message, error) {
	value, err := json.Marshal(Envelope{
		ID:             ev.ID,
		Type:           ev.EventType,
		BookingID:      ev.BookingID,
		PractitionerID: ev.PractitionerID,
		Payload:        json.RawMessage(ev.Payload),
		CreatedAt:      ev.CreatedAt.UTC(),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event %d: %w", ev.ID, err)
	}

	var key []byte
	if ev.PractitionerID != nil {
		key = []byte(ev.PractitionerID.String())
	}

	msgCtx := ctx
	if ev.Traceparent != "" {
		msgCtx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
			"traceparent": ev.Traceparent,
			"tracestate":  ev.Tracestate,
		})
	}

	carrier := headerCarrier{headers: []kafka.Header{
		{Key: "event_id", Value: []byte(strconv.FormatInt(ev.ID, 10))},
		{Key: "event_type", Value: []byte(ev.EventType)},
	}}
	otel.GetTextMapPropagator().Inject(msgCtx, &carrier)

	return kafka.Message{Key: key, Value: value, Headers: carrier.headers}, nil
}

// Ping dials the first broker.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	dialer := kafka.Dialer{Timeout: 2 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
