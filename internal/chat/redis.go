package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "chat.group."

// ErrRelayStopped is returned by Broadcast once Run has exited. Published
// messages would no longer reach any local member, the sender included.
var ErrRelayStopped = errors.New("group relay stopped")

// RedisGroups shares groups between API instances. Membership stays local in
// a Hub; broadcasts are published to Redis and every instance, this one
// included, delivers them to its local members from Run.
type RedisGroups struct {
	local  *Hub
	client *redis.Client
	logger *slog.Logger

	mu      sync.Mutex
	stopErr error // set when Run returns
}

// NewRedisGroups returns a Groups backed by client. Run must be started for
// any broadcast to be delivered.
func NewRedisGroups(client *redis.Client, local *Hub, logger *slog.Logger) *RedisGroups {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGroups{local: local, client: client, logger: logger}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return client, nil
}

// Join registers s with the local hub. Membership is never shared through
// Redis; only broadcasts are.
func (g *RedisGroups) Join(group string, s Sender) int64 { return g.local.Join(group, s) }

// Leave removes a local membership.
func (g *RedisGroups) Leave(group string, id int64) { g.local.Leave(group, id) }

// Broadcast publishes msg on the group's Redis channel. It fails with
// ErrRelayStopped once Run has returned.
func (g *RedisGroups) Broadcast(ctx context.Context, group string, msg OutboundMessage) error {
	if err := g.stopped(); err != nil {
		return err
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := g.client.Publish(ctx, redisChannelPrefix+group, payload).Err(); err != nil {
		return fmt.Errorf("publish broadcast: %w", err)
	}
	return nil
}

// Run relays published broadcasts to local members until ctx is done. A
// non-nil error means the subscription was lost; Broadcast fails from then on.
func (g *RedisGroups) Run(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrRelayStopped, err)
		}
		g.markStopped(err)
	}()

	sub := g.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe: %w", err)
	}
	g.logger.Info("Subscribed to group broadcasts", "pattern", redisChannelPrefix+"*")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("redis: subscription closed")
			}
			g.deliver(ctx, m)
		}
	}
}

func (g *RedisGroups) markStopped(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		err = ErrRelayStopped
	}
	g.stopErr = err
}

func (g *RedisGroups) stopped() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopErr
}

func (g *RedisGroups) deliver(ctx context.Context, m *redis.Message) {
	group := strings.TrimPrefix(m.Channel, redisChannelPrefix)
	var msg OutboundMessage
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		g.logger.Warn("Dropping malformed broadcast", "channel", m.Channel, "error", err)
		return
	}
	if err := g.local.Broadcast(ctx, group, msg); err != nil {
		g.logger.Debug("Local delivery failed for some members", "group", group, "error", err)
	}
}
