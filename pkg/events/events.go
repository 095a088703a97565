package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/coworking-spaces/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

// Subscription is a live subscriber registration. Unsubscribe must be called
// when the consumer goes away.
type Subscription interface {
	Unsubscribe() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) (Subscription, error)
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("coworking-spaces"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) (Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(newMessage(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func newMessage(msg *nats.Msg) *Message {
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
	}
}

// Booking change subjects. Every insert, update or delete of a booking row is
// announced on the per-space subject so listeners can scope by space.
const (
	spaceSubjectPrefix = "spaces."
	bookingsSuffix     = ".bookings.changed"

	// AllBookingChanges matches the change subject of every space.
	AllBookingChanges = spaceSubjectPrefix + "*" + bookingsSuffix
)

func SpaceBookingsSubject(spaceID string) string {
	return spaceSubjectPrefix + spaceID + bookingsSuffix
}

// SpaceIDFromSubject extracts the space id from a per-space change subject.
func SpaceIDFromSubject(subject string) (string, bool) {
	if !strings.HasPrefix(subject, spaceSubjectPrefix) || !strings.HasSuffix(subject, bookingsSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(subject, spaceSubjectPrefix), bookingsSuffix)
	if id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
)

type BookingChangedEvent struct {
	Op        ChangeOp  `json:"op"`
	BookingID string    `json:"booking_id"`
	SpaceID   string    `json:"space_id"`
	Date      string    `json:"booking_date,omitempty"`
	Status    string    `json:"status,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

func DecodeBookingChanged(msg *Message) (*BookingChangedEvent, error) {
	var ev BookingChangedEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode booking change: %w", err)
	}
	if ev.SpaceID == "" {
		if id, ok := SpaceIDFromSubject(msg.Subject); ok {
			ev.SpaceID = id
		}
	}
	return &ev, nil
}
