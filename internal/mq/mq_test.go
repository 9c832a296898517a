package mq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/jjudge-oj/accounts/config"
)

type memoryBackend struct {
	published map[string][][]byte
	closed    bool
}

func (b *memoryBackend) Publish(_ context.Context, channel string, data []byte, _ map[string]string) (string, error) {
	if b.published == nil {
		b.published = make(map[string][][]byte)
	}
	b.published[channel] = append(b.published[channel], data)
	return newMessageID(), nil
}

func (b *memoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	for _, data := range b.published[channel] {
		if err := handler(ctx, Message{Data: data}); err != nil {
			return err
		}
	}
	return nil
}

func (b *memoryBackend) Close() error {
	b.closed = true
	return nil
}

func TestMQ_DelegatesToBackend(t *testing.T) {
	backend := &memoryBackend{}
	queue := New(backend)

	id, err := queue.Publish(context.Background(), "user-events", []byte(`{"type":"user.created"}`), nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	var got []string
	err = queue.Subscribe(context.Background(), "user-events", func(_ context.Context, msg Message) error {
		got = append(got, string(msg.Data))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{`{"type":"user.created"}`}, got)

	require.NoError(t, queue.Close())
	require.True(t, backend.closed)
}

func TestOpen(t *testing.T) {
	queue, err := Open(context.Background(), config.MQConfig{})
	require.NoError(t, err)
	require.Nil(t, queue)

	_, err = Open(context.Background(), config.MQConfig{Backend: "carrier-pigeon"})
	require.Error(t, err)

	_, err = Open(context.Background(), config.MQConfig{Backend: config.MQBackendRabbitMQ})
	require.Error(t, err)
}

func TestHeadersToAttributes(t *testing.T) {
	require.Nil(t, headersToAttributes(nil))

	attrs := headersToAttributes(amqp.Table{
		"event-type": "user.created",
		"raw":        []byte("bytes"),
		"count":      int32(3),
	})
	require.Equal(t, map[string]string{
		"event-type": "user.created",
		"raw":        "bytes",
		"count":      "3",
	}, attrs)
}

type recordingAcknowledger struct {
	calls []string
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.calls = append(a.calls, "ack")
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.calls = append(a.calls, "nack-requeue")
	} else {
		a.calls = append(a.calls, "nack")
	}
	return nil
}

func (a *recordingAcknowledger) Reject(_ uint64, requeue bool) error {
	if requeue {
		a.calls = append(a.calls, "reject-requeue")
	} else {
		a.calls = append(a.calls, "reject")
	}
	return nil
}

func TestSettle(t *testing.T) {
	failed := errors.New("handler failed")
	cases := []struct {
		name        string
		redelivered bool
		err         error
		want        string
	}{
		{name: "success", err: nil, want: "ack"},
		{name: "first failure is requeued", err: failed, want: "nack-requeue"},
		{name: "repeated failure is dropped", redelivered: true, err: failed, want: "reject"},
		{name: "redelivered success", redelivered: true, err: nil, want: "ack"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ack := &recordingAcknowledger{}
			d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 7, Redelivered: tc.redelivered}
			require.NoError(t, settle(d, tc.err))
			require.Equal(t, []string{tc.want}, ack.calls)
		})
	}
}

func TestDeliveryMessage_RestoresContentType(t *testing.T) {
	msg := deliveryMessage(amqp.Delivery{
		MessageId:   "m-1",
		ContentType: "application/json",
		Headers:     amqp.Table{"event-type": "user.deleted"},
		Body:        []byte(`{}`),
	})
	require.Equal(t, "m-1", msg.ID)
	require.Equal(t, map[string]string{
		"event-type":    "user.deleted",
		ContentTypeAttr: "application/json",
	}, msg.Attributes)

	msg = deliveryMessage(amqp.Delivery{Body: []byte("x")})
	require.Nil(t, msg.Attributes)
}
