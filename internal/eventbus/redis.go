package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisBus gives Bus's Publish/Subscribe shape across processes, for a
// deployment that runs the controller and a transport collaborator
// separately (SPEC_FULL §3). Grounded on the teacher's Redis client setup in
// internal/skills/redis_cache.go (redis.Options from config, ping on
// construction); channel naming follows the same "namespace:id:field" key
// convention the teacher used for cache keys.
type RedisBus struct {
	client redis.UniversalClient
}

// NewRedisBus connects to addr and verifies reachability with a Ping.
func NewRedisBus(ctx context.Context, addr, password string, db int) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: redis ping: %w", err)
	}
	return &RedisBus{client: client}, nil
}

func channelName(missionID string, topic Topic) string {
	return fmt.Sprintf("maestro:mission:%s:%s", missionID, topic)
}

// Publish serializes payload to JSON and publishes it on the mission/topic
// channel. Errors are logged and swallowed -- publish is fire-and-forget
// per spec §4.3, and a collaborator subscribed over Redis must already
// tolerate drops and reconcile from persisted state.
func (r *RedisBus) Publish(ctx context.Context, missionID string, topic Topic, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("eventbus: redis publish marshal failed")
		return
	}
	if err := r.client.Publish(ctx, channelName(missionID, topic), data).Err(); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("mission_id", missionID).Msg("eventbus: redis publish failed")
	}
}

// RedisSubscription wraps a redis.PubSub, decoding each message's raw JSON
// into an any before handing it to the caller.
type RedisSubscription struct {
	pubsub *redis.PubSub
	C      <-chan Event
}

// Close ends the subscription and releases the underlying connection.
func (s *RedisSubscription) Close() error {
	return s.pubsub.Close()
}

// Subscribe attaches to one or more topics for missionID across the Redis
// channel; empty topics subscribes to every known topic.
func (r *RedisBus) Subscribe(ctx context.Context, missionID string, topics []Topic) *RedisSubscription {
	if len(topics) == 0 {
		topics = []Topic{TopicStatus, TopicLogs, TopicPlan, TopicNotes, TopicDraft, TopicContext}
	}
	channels := make([]string, len(topics))
	topicByChannel := make(map[string]Topic, len(topics))
	for i, t := range topics {
		ch := channelName(missionID, t)
		channels[i] = ch
		topicByChannel[ch] = t
	}

	pubsub := r.client.Subscribe(ctx, channels...)
	out := make(chan Event, DefaultBufferSize)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var payload any
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				continue
			}
			ev := Event{MissionID: missionID, Topic: topicByChannel[msg.Channel], Payload: payload}
			select {
			case out <- ev:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	return &RedisSubscription{pubsub: pubsub, C: out}
}

// Close closes the underlying Redis client.
func (r *RedisBus) Close() error {
	return r.client.Close()
}
