package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/jjudge-oj/accounts/internal/mq"
)

// Subscriber is the consuming side of the transport; *mq.MQ satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// Decode parses a delivered message into an Event. The type attribute fills
// in Type when the payload omits it.
func Decode(msg mq.Message) (Event, error) {
	var evt Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.ID, err)
	}
	if evt.Type == "" {
		evt.Type = Type(msg.Attributes[typeAttr])
	}
	if evt.ID == "" {
		evt.ID = msg.ID
	}
	return evt, nil
}

// Consume delivers every event on channel to handle until ctx is done.
// Payloads that cannot be decoded are logged and acknowledged so they do not
// block the queue. An error from handle is returned to the broker, which
// redelivers the message.
func Consume(ctx context.Context, sub Subscriber, channel string, logger *zap.Logger, handle func(context.Context, Event) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "events"), zap.String("channel", channel))

	return sub.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
		evt, err := Decode(msg)
		if err != nil {
			logger.Warn("dropping malformed event", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		if err := handle(ctx, evt); err != nil {
			logger.Warn("event handler failed",
				zap.String("event_id", evt.ID),
				zap.String("type", string(evt.Type)),
				zap.Error(err),
			)
			return err
		}
		return nil
	})
}
