package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ws "marketchat/internal/infrastructure/websocket"
	"marketchat/pkg/errors"
)

type recordingDeliverer struct {
	frames []ws.RelayedFrame
}

func (r *recordingDeliverer) Deliver(frame ws.RelayedFrame) int {
	r.frames = append(r.frames, frame)
	return 1
}

func TestHandleDecodesFrames(t *testing.T) {
	d := &recordingDeliverer{}
	payload, err := json.Marshal(ws.RelayedFrame{
		ChatID: "c1",
		Users:  []string{"buyer"},
		Except: "conn-1",
		Frame:  json.RawMessage(`{"type":"typing"}`),
	})
	require.NoError(t, err)

	handle(string(payload), d)
	handle("not json", d)

	require.Len(t, d.frames, 1)
	assert.Equal(t, "c1", d.frames[0].ChatID)
	assert.Equal(t, "conn-1", d.frames[0].Except)
	assert.JSONEq(t, `{"type":"typing"}`, string(d.frames[0].Frame))
}

func TestPublishUnreachableIsRetryable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	relay := NewRedisRelay(client, "marketchat:events")
	err := relay.Publish(context.Background(), ws.RelayedFrame{ChatID: "c1", Frame: json.RawMessage(`{}`)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeUnavailable))
	assert.True(t, errors.IsRetryable(err))
}
