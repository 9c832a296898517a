package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/types"
)

// Type names a user lifecycle event.
type Type string

const (
	UserRegistered            Type = "user.registered"
	UserCreated               Type = "user.created"
	UserUpdated               Type = "user.updated"
	UserDeleted               Type = "user.deleted"
	UserStatusChanged         Type = "user.status_changed"
	UserLoggedIn              Type = "user.logged_in"
	UserProfilePictureUpdated Type = "user.profile_picture_updated"
)

const (
	typeAttr        = "event-type"
	contentTypeAttr = "content-type"
	publishTimeout  = 5 * time.Second
)

// Event is the JSON payload published for every user mutation.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	UserID     int64             `json:"userId"`
	Username   string            `json:"username"`
	OccurredAt time.Time         `json:"occurredAt"`
	Data       map[string]string `json:"data,omitempty"`
}

// ForUser builds an event of type t about user.
func ForUser(t Type, user types.User) Event {
	return Event{Type: t, UserID: user.ID, Username: user.Username}
}

// With returns a copy of e carrying key=value in its data.
func (e Event) With(key, value string) Event {
	data := make(map[string]string, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = value
	e.Data = data
	return e
}

// Publisher emits events. Publishing is best-effort: failures are logged and
// never surface to the caller.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// Broker is the transport a BrokerPublisher writes to; *mq.MQ satisfies it.
type Broker interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// BrokerPublisher serializes events as JSON onto a single channel.
type BrokerPublisher struct {
	broker  Broker
	channel string
	logger  *zap.Logger
	now     func() time.Time
}

func NewBrokerPublisher(broker Broker, channel string, logger *zap.Logger) *BrokerPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BrokerPublisher{
		broker:  broker,
		channel: channel,
		logger:  logger.With(zap.String("component", "events")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Publish assigns the event an ID and timestamp when missing and sends it.
// The request context's cancellation does not abort an in-flight publish.
func (p *BrokerPublisher) Publish(ctx context.Context, evt Event) {
	if evt.ID == "" {
		evt.ID = ksuid.New().String()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = p.now()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("type", string(evt.Type)), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	attrs := map[string]string{
		typeAttr:        string(evt.Type),
		contentTypeAttr: "application/json",
	}
	messageID, err := p.broker.Publish(ctx, p.channel, payload, attrs)
	if err != nil {
		p.logger.Warn("failed to publish event",
			zap.String("event_id", evt.ID),
			zap.String("type", string(evt.Type)),
			zap.Int64("user_id", evt.UserID),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("event published",
		zap.String("event_id", evt.ID),
		zap.String("message_id", messageID),
		zap.String("type", string(evt.Type)),
	)
}
