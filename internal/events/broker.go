// Package events carries login/logout broadcasts between card instances of the
// same profile, in-process and across replicas sharing Redis.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/canvastodo/card-server-go/internal/model"
	redisclient "github.com/canvastodo/card-server-go/internal/redis"
)

const subscriberBuffer = 16

// Message is the auth broadcast envelope.
type Message struct {
	SourceID         string              `json:"sourceId"`
	SourceInstanceID string              `json:"sourceInstanceId"`
	Type             model.BroadcastType `json:"type"`
}

type Subscriber struct {
	ProfileID string
	Messages  chan Message
	Done      chan struct{}
}

// Bus delivers messages at most once and in no particular order.
type Bus interface {
	Publish(ctx context.Context, profileID string, msg Message) error
	Subscribe(profileID string) *Subscriber
	Unsubscribe(sub *Subscriber)
}

// Broker fans messages out to local subscribers. With a Redis client it
// publishes through Redis pub/sub and relays what it receives, so every
// replica's subscribers see every message including their own.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Subscriber]bool
	relays  map[string]context.CancelFunc
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

var _ Bus = (*Broker)(nil)

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Subscriber]bool),
		relays:  make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// NewLocalBroker delivers within this process only.
func NewLocalBroker() *Broker {
	return NewBroker(nil)
}

func (b *Broker) Subscribe(profileID string) *Subscriber {
	sub := &Subscriber{
		ProfileID: profileID,
		Messages:  make(chan Message, subscriberBuffer),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[profileID] == nil {
		b.clients[profileID] = make(map[*Subscriber]bool)
		if b.redis != nil {
			ctx, cancel := context.WithCancel(b.ctx)
			b.relays[profileID] = cancel
			ready := make(chan struct{})
			go b.subscribeToRedis(ctx, profileID, ready)
			<-ready
		}
	}
	b.clients[profileID][sub] = true
	count := len(b.clients[profileID])
	b.mu.Unlock()

	log.Debug().
		Str("profileId", profileID).
		Int("subscriberCount", count).
		Msg("auth bus subscribed")

	return sub
}

func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	clients, ok := b.clients[sub.ProfileID]
	if !ok || !clients[sub] {
		return
	}
	delete(clients, sub)
	close(sub.Done)

	if len(clients) == 0 {
		delete(b.clients, sub.ProfileID)
		if cancel, ok := b.relays[sub.ProfileID]; ok {
			cancel()
			delete(b.relays, sub.ProfileID)
		}
	}

	log.Debug().
		Str("profileId", sub.ProfileID).
		Int("subscriberCount", len(clients)).
		Msg("auth bus unsubscribed")
}

func (b *Broker) Publish(ctx context.Context, profileID string, msg Message) error {
	if b.redis == nil {
		b.broadcast(profileID, msg)
		return nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, redisclient.AuthEventChannel(profileID), data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, profileID string, ready chan<- struct{}) {
	channel := redisclient.AuthEventChannel(profileID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	// Wait for the subscription so a publish right after Subscribe is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("redis pubsub subscribe failed")
	}
	close(ready)

	log.Debug().
		Str("profileId", profileID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal auth broadcast")
				continue
			}

			b.broadcast(profileID, m)
		}
	}
}

func (b *Broker) broadcast(profileID string, msg Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.clients[profileID] {
		select {
		case sub.Messages <- msg:
		default:
			log.Warn().
				Str("profileId", profileID).
				Msg("subscriber buffer full, dropping auth broadcast")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for sub := range clients {
			close(sub.Done)
		}
	}
	b.clients = make(map[string]map[*Subscriber]bool)
	b.relays = make(map[string]context.CancelFunc)
}

func (b *Broker) SubscriberCount(profileID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[profileID])
}
