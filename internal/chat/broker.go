package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel shared by all relay instances.
const DefaultChannel = "support-chat"

var ErrBrokerClosed = errors.New("broker closed")

// Broker fans envelopes out to every relay instance, including the sender.
type Broker interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe is registered when it returns. Envelopes arrive on the
	// channel until ctx is done, then it is closed.
	Subscribe(ctx context.Context) (<-chan Envelope, error)
	Close() error
}

// RedisBroker publishes envelopes on a Redis channel so several relay
// instances behind a load balancer see each other's traffic.
type RedisBroker struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisBroker(client *redis.Client, channel string, log *slog.Logger) *RedisBroker {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = slog.Default()
	}
	return &RedisBroker{client: client, channel: channel, log: log.With("component", "broker")}
}

func (b *RedisBroker) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe listens for messages from other instances (and our own).
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so nothing published after
	// this returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	out := make(chan Envelope, 256)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					b.log.Warn("dropping undecodable envelope", "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

// LocalBroker is the single-instance broker used when Redis is not configured.
type LocalBroker struct {
	mu     sync.Mutex
	subs   map[int]localSub
	nextID int
	closed bool
}

type localSub struct {
	ch   chan Envelope
	done <-chan struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[int]localSub)}
}

func (b *LocalBroker) Publish(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBrokerClosed
	}
	for _, sub := range b.subs {
		select {
		case sub.ch <- env:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	id := b.nextID
	b.nextID++
	sub := localSub{ch: make(chan Envelope, 256), done: ctx.Done()}
	b.subs[id] = sub

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}()
	return sub.ch, nil
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
