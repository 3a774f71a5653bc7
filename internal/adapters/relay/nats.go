package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultNATSPrefix = "duet"

type groupSub struct {
	group domain.GroupName
	conn  domain.ConnID
}

// NATS is a cross process relay: a connection subscribes to its own subject
// and, while in a room, to the room's group subject.
type NATS struct {
	nc     *nats.Conn
	prefix string

	mu      sync.Mutex
	inboxes map[domain.ConnID]core.Inbox
	direct  map[domain.ConnID]*nats.Subscription
	groups  map[groupSub]*nats.Subscription
}

func NewNATS(nc *nats.Conn, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultNATSPrefix
	}
	return &NATS{
		nc:      nc,
		prefix:  prefix,
		inboxes: make(map[domain.ConnID]core.Inbox),
		direct:  make(map[domain.ConnID]*nats.Subscription),
		groups:  make(map[groupSub]*nats.Subscription),
	}
}

func (n *NATS) connSubject(conn domain.ConnID) string {
	return n.prefix + ".conn." + string(conn)
}

func (n *NATS) groupSubject(group domain.GroupName) string {
	return n.prefix + ".group." + string(group)
}

func (n *NATS) handler(conn domain.ConnID) nats.MsgHandler {
	return func(msg *nats.Msg) {
		ev, err := decodeEvent(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.relay").Str("subject", msg.Subject).Msg("drop undecodable event")
			return
		}
		n.mu.Lock()
		inbox, ok := n.inboxes[conn]
		n.mu.Unlock()
		if ok {
			inbox(ev)
		}
	}
}

func (n *NATS) Attach(_ context.Context, conn domain.ConnID, inbox core.Inbox) error {
	sub, err := n.nc.Subscribe(n.connSubject(conn), n.handler(conn))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", conn, err)
	}
	n.mu.Lock()
	if old, ok := n.direct[conn]; ok {
		_ = old.Unsubscribe()
	}
	n.inboxes[conn] = inbox
	n.direct[conn] = sub
	n.mu.Unlock()
	return n.nc.Flush()
}

func (n *NATS) Detach(_ context.Context, conn domain.ConnID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.inboxes, conn)
	var firstErr error
	if sub, ok := n.direct[conn]; ok {
		firstErr = sub.Unsubscribe()
		delete(n.direct, conn)
	}
	for key, sub := range n.groups {
		if key.conn != conn {
			continue
		}
		if err := sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(n.groups, key)
	}
	return firstErr
}

func (n *NATS) Join(_ context.Context, group domain.GroupName, conn domain.ConnID) error {
	key := groupSub{group: group, conn: conn}
	n.mu.Lock()
	_, exists := n.groups[key]
	n.mu.Unlock()
	if exists {
		return nil
	}
	sub, err := n.nc.Subscribe(n.groupSubject(group), n.handler(conn))
	if err != nil {
		return fmt.Errorf("subscribe group %s: %w", group, err)
	}
	n.mu.Lock()
	n.groups[key] = sub
	n.mu.Unlock()
	// The subscription must reach the server before a peer broadcasts.
	return n.nc.Flush()
}

func (n *NATS) Leave(_ context.Context, group domain.GroupName, conn domain.ConnID) error {
	key := groupSub{group: group, conn: conn}
	n.mu.Lock()
	sub, ok := n.groups[key]
	delete(n.groups, key)
	n.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

func (n *NATS) Broadcast(_ context.Context, group domain.GroupName, ev core.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return n.nc.Publish(n.groupSubject(group), payload)
}

// SendTo is fire and forget: NATS cannot tell whether any process still
// holds conn, so ErrNotAttached is never reported.
func (n *NATS) SendTo(_ context.Context, conn domain.ConnID, ev core.Event) error {
	payload, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	return n.nc.Publish(n.connSubject(conn), payload)
}

// Close drops every subscription; the NATS connection belongs to the caller.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for conn, sub := range n.direct {
		_ = sub.Unsubscribe()
		delete(n.direct, conn)
	}
	for key, sub := range n.groups {
		_ = sub.Unsubscribe()
		delete(n.groups, key)
	}
	return nil
}
