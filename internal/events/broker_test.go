package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvastodo/card-server-go/internal/model"
	redisclient "github.com/canvastodo/card-server-go/internal/redis"
)

func receive(t *testing.T, sub *Subscriber) Message {
	t.Helper()
	select {
	case msg := <-sub.Messages:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestLocalBroker(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to every subscriber of the profile", func(t *testing.T) {
		b := NewLocalBroker()
		defer b.Close()

		a := b.Subscribe("user-1")
		c := b.Subscribe("user-1")
		msg := Message{SourceID: "CanvasAuthProvider", SourceInstanceID: "i-1", Type: model.BroadcastLogin}

		require.NoError(t, b.Publish(ctx, "user-1", msg))
		assert.Equal(t, msg, receive(t, a))
		assert.Equal(t, msg, receive(t, c))
	})

	t.Run("does not cross profiles", func(t *testing.T) {
		b := NewLocalBroker()
		defer b.Close()

		other := b.Subscribe("user-2")
		require.NoError(t, b.Publish(ctx, "user-1", Message{Type: model.BroadcastLogout}))

		select {
		case msg := <-other.Messages:
			t.Fatalf("unexpected message %+v", msg)
		default:
		}
	})

	t.Run("unsubscribe closes done and is idempotent", func(t *testing.T) {
		b := NewLocalBroker()
		defer b.Close()

		sub := b.Subscribe("user-1")
		assert.Equal(t, 1, b.SubscriberCount("user-1"))

		b.Unsubscribe(sub)
		b.Unsubscribe(sub)
		assert.Equal(t, 0, b.SubscriberCount("user-1"))

		select {
		case <-sub.Done:
		default:
			t.Fatal("done channel not closed")
		}
	})

	t.Run("full buffer drops instead of blocking", func(t *testing.T) {
		b := NewLocalBroker()
		defer b.Close()

		sub := b.Subscribe("user-1")
		for i := 0; i < subscriberBuffer+5; i++ {
			require.NoError(t, b.Publish(ctx, "user-1", Message{Type: model.BroadcastLogin}))
		}
		assert.Len(t, sub.Messages, subscriberBuffer)
	})
}

func TestMessageJSON(t *testing.T) {
	data, err := json.Marshal(Message{SourceID: "CanvasAuthProvider", SourceInstanceID: "abc", Type: model.BroadcastLogout})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sourceId":"CanvasAuthProvider","sourceInstanceId":"abc","type":"logout"}`, string(data))
}

func TestRedisBroker(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	client, err := redisclient.NewClient(url)
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	profileID := "broker-" + uuid.NewString()
	channel := redisclient.AuthEventChannel(profileID)

	replicaA := NewBroker(client)
	defer replicaA.Close()
	replicaB := NewBroker(client)
	defer replicaB.Close()

	subA := replicaA.Subscribe(profileID)
	subB := replicaB.Subscribe(profileID)

	t.Run("publish reaches subscribers on every replica", func(t *testing.T) {
		login := Message{SourceID: "CanvasAuthProvider", SourceInstanceID: "instance-a", Type: model.BroadcastLogin}
		require.NoError(t, replicaA.Publish(ctx, profileID, login))

		assert.Equal(t, login, receive(t, subB))
		assert.Equal(t, login, receive(t, subA))
	})

	t.Run("malformed payloads are skipped", func(t *testing.T) {
		require.NoError(t, client.Publish(ctx, channel, "not json").Err())
		logout := Message{SourceID: "CanvasAuthProvider", SourceInstanceID: "instance-a", Type: model.BroadcastLogout}
		require.NoError(t, replicaA.Publish(ctx, profileID, logout))

		assert.Equal(t, logout, receive(t, subB))
		assert.Equal(t, logout, receive(t, subA))
	})

	t.Run("unsubscribing the last subscriber cancels the relay", func(t *testing.T) {
		replicaB.Unsubscribe(subB)
		assert.Equal(t, 0, replicaB.SubscriberCount(profileID))

		require.Eventually(t, func() bool {
			counts, err := client.PubSubNumSub(ctx, channel).Result()
			return err == nil && counts[channel] == 1
		}, 2*time.Second, 20*time.Millisecond)

		require.NoError(t, replicaA.Publish(ctx, profileID, Message{
			SourceID:         "CanvasAuthProvider",
			SourceInstanceID: "instance-a",
			Type:             model.BroadcastLogin,
		}))
		receive(t, subA)

		select {
		case msg := <-subB.Messages:
			t.Fatalf("unsubscribed replica received %+v", msg)
		case <-time.After(200 * time.Millisecond):
		}
	})
}
