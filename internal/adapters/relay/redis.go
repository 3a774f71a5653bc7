package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRedisPrefix = "duet"
	// groupExpiry bounds how long a group set outlives a crashed process.
	groupExpiry = 24 * time.Hour
)

// Redis is a cross process relay in the style of a channel layer: every
// connection owns a pub/sub channel and a group is a set of connection ids.
type Redis struct {
	rdb    *redis.Client
	ps     *redis.PubSub
	prefix string

	mu      sync.RWMutex
	inboxes map[domain.ConnID]core.Inbox

	done chan struct{}
}

func NewRedis(ctx context.Context, rdb *redis.Client, prefix string) (*Redis, error) {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	r := &Redis{
		rdb:     rdb,
		ps:      rdb.Subscribe(ctx),
		prefix:  prefix,
		inboxes: make(map[domain.ConnID]core.Inbox),
		done:    make(chan struct{}),
	}
	go r.dispatch()
	return r, nil
}

func (r *Redis) connChannel(conn domain.ConnID) string {
	return r.prefix + ":conn:" + string(conn)
}

func (r *Redis) groupKey(group domain.GroupName) string {
	return r.prefix + ":group:" + string(group)
}

func (r *Redis) connFromChannel(ch string) (domain.ConnID, bool) {
	id, ok := strings.CutPrefix(ch, r.prefix+":conn:")
	return domain.ConnID(id), ok && id != ""
}

func (r *Redis) dispatch() {
	defer close(r.done)
	for msg := range r.ps.Channel() {
		conn, ok := r.connFromChannel(msg.Channel)
		if !ok {
			continue
		}
		ev, err := decodeEvent([]byte(msg.Payload))
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.relay").Str("channel", msg.Channel).Msg("drop undecodable event")
			continue
		}
		r.mu.RLock()
		inbox, ok := r.inboxes[conn]
		r.mu.RUnlock()
		if ok {
			inbox(ev)
		}
	}
}

func (r *Redis) Attach(ctx context.Context, conn domain.ConnID, inbox core.Inbox) error {
	r.mu.Lock()
	r.inboxes[conn] = inbox
	r.mu.Unlock()
	if err := r.ps.Subscribe(ctx, r.connChannel(conn)); err != nil {
		r.mu.Lock()
		delete(r.inboxes, conn)
		r.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", conn, err)
	}
	return nil
}

func (r *Redis) Detach(ctx context.Context, conn domain.ConnID) error {
	r.mu.Lock()
	delete(r.inboxes, conn)
	r.mu.Unlock()
	return r.ps.Unsubscribe(ctx, r.connChannel(conn))
}

func (r *Redis) Join(ctx context.Context, group domain.GroupName, conn domain.ConnID) error {
	key := r.groupKey(group)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, key, string(conn))
		pipe.Expire(ctx, key, groupExpiry)
		return nil
	})
	return err
}

func (r *Redis) Leave(ctx context.Context, group domain.GroupName, conn domain.ConnID) error {
	return r.rdb.SRem(ctx, r.groupKey(group), string(conn)).Err()
}

func (r *Redis) Broadcast(ctx context.Context, group domain.GroupName, ev core.Event) error {
	members, err := r.rdb.SMembers(ctx, r.groupKey(group)).Result()
	if err != nil {
		return fmt.Errorf("group members: %w", err)
	}
	if len(members) == 0 {
		return nil
	}
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range members {
			pipe.Publish(ctx, r.connChannel(domain.ConnID(m)), payload)
		}
		return nil
	})
	return err
}

func (r *Redis) SendTo(ctx context.Context, conn domain.ConnID, ev core.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	n, err := r.rdb.Publish(ctx, r.connChannel(conn), payload).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotAttached
	}
	return nil
}

// Close stops the dispatcher. The redis client stays open; its owner closes it.
func (r *Redis) Close() error {
	err := r.ps.Close()
	<-r.done
	return err
}
