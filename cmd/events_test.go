package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jjudge-oj/accounts/internal/events"
	"github.com/jjudge-oj/accounts/internal/mq"
)

type stubSubscriber struct {
	messages []mq.Message
}

func (s stubSubscriber) Subscribe(ctx context.Context, _ string, handler mq.Handler) error {
	for _, msg := range s.messages {
		if err := handler(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func TestTailEvents_FiltersByType(t *testing.T) {
	sub := stubSubscriber{messages: []mq.Message{
		{ID: "1", Data: []byte(`{"id":"e1","type":"user.registered","userId":1,"username":"alice"}`)},
		{ID: "2", Data: []byte(`{"id":"e2","type":"user.logged_in","userId":1,"username":"alice"}`)},
		{ID: "3", Data: []byte("garbage")},
		{ID: "4", Data: []byte(`{"id":"e4","type":"user.deleted","userId":2,"username":"bob"}`)},
	}}

	var out bytes.Buffer
	err := tailEvents(context.Background(), sub, "user-events", []string{"user.registered", "user.deleted"}, &out, nil)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var first, second events.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, events.UserRegistered, first.Type)
	require.Equal(t, "bob", second.Username)
}

func TestTailEvents_NoFilterPrintsAll(t *testing.T) {
	sub := stubSubscriber{messages: []mq.Message{
		{ID: "1", Data: []byte(`{"id":"e1","type":"user.updated"}`)},
		{ID: "2", Data: []byte(`{"id":"e2","type":"user.status_changed"}`)},
	}}

	var out bytes.Buffer
	require.NoError(t, tailEvents(context.Background(), sub, "user-events", nil, &out, nil))
	require.Equal(t, 2, strings.Count(out.String(), "\n"))
}
