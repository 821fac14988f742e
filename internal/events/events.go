// Package events publishes domain events (registrations, clicks, messages,
// votes) to Kafka for downstream consumers.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/envie2sortir/envie2sortir/internal/metrics"
)

// Event types.
const (
	ProfessionalRegistered = "professional.registered"
	EstablishmentApproved  = "establishment.approved"
	EstablishmentRejected  = "establishment.rejected"
	ClickTracked           = "click.tracked"
	MessageSent            = "message.sent"
	DealEngaged            = "deal.engaged"
	NewsletterSubscribed   = "newsletter.subscribed"
	NewsletterConfirmed    = "newsletter.confirmed"
	WaitlistActivated      = "waitlist.activated"
)

var ErrClosed = errors.New("events: publisher closed")

type Event struct {
	Type       string    `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// New stamps an event with the current time.
func New(eventType, key string, payload any) Event {
	return Event{Type: eventType, Key: key, OccurredAt: time.Now().UTC(), Payload: payload}
}

// Family is the part of the type before the first dot.
func (e Event) Family() string {
	family, _, _ := strings.Cut(e.Type, ".")
	return family
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// MemoryPublisher keeps events in memory; handy for tests and dev.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemoryPublisher) Publish(_ context.Context, e Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPublisher) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types lists the recorded event types in order.
func (m *MemoryPublisher) Types() []string {
	var out []string
	for _, e := range m.Events() {
		out = append(out, e.Type)
	}
	return out
}

// messageWriter is the subset of *kafka.Writer we use.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each event to "<prefix>.<family>", keyed by Event.Key.
type KafkaPublisher struct {
	writer messageWriter
	prefix string
}

func NewKafkaPublisher(brokers []string, prefix string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
		prefix: prefix,
	}
}

func (k *KafkaPublisher) Topic(e Event) string {
	return k.prefix + "." + e.Family()
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.Topic(e),
		Key:   []byte(e.Key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	})
}

func (k *KafkaPublisher) Close() error { return k.writer.Close() }

// AsyncPublisher hands events to a background goroutine so request
// handlers never wait on the broker. A full buffer drops the event.
type AsyncPublisher struct {
	next    Publisher
	log     logrus.FieldLogger
	queue   chan Event
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	timeout time.Duration
}

func NewAsyncPublisher(next Publisher, buffer int, log logrus.FieldLogger) *AsyncPublisher {
	a := &AsyncPublisher{
		next:    next,
		log:     log,
		queue:   make(chan Event, buffer),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
	}
	go a.run()
	return a
}

func (a *AsyncPublisher) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, e); err != nil {
			a.log.WithError(err).WithField("event", e.Type).Warn("publish event failed")
		}
		cancel()
	}
}

func (a *AsyncPublisher) Publish(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- e:
		return nil
	default:
		metrics.EventDropped()
		a.log.WithField("event", e.Type).Warn("event buffer full, dropping")
		return nil
	}
}

// Close stops accepting events and waits until queued ones are sent or
// ctx expires.
func (a *AsyncPublisher) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
