// Package bus publishes edited L2 node IDs to a message broker after a
// committed edit. Per spec, this is fire-and-forget: publish failures
// never fail the edit that produced the IDs.
package bus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/seung-lab/chunkedgraph-go/pkg/cglog"
)

// Config configures the NATS connection used to publish edit
// notifications.
type Config struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`
}

// Publisher is a connection to the message broker. A nil *Publisher is
// valid and turns Publish into a no-op, matching the spec's
// requirement that the core never depends on message-bus availability.
type Publisher struct {
	conn *nats.Conn
	mu   sync.Mutex
}

// Connect dials the broker described by cfg. If cfg.Address is empty,
// Connect returns a nil *Publisher and a nil error: publication is
// simply disabled.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.Address == "" {
		cglog.Warn("bus: no address configured, edit notifications will not be published")
		return nil, nil
	}

	var opts []nats.Option
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.CredsFilePath != "" {
		opts = append(opts, nats.UserCredentials(cfg.CredsFilePath))
	}
	opts = append(opts, nats.ReconnectHandler(func(nc *nats.Conn) {
		cglog.Infof("bus: reconnected to %s", nc.ConnectedUrl())
	}))
	opts = append(opts, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			cglog.Warnf("bus: disconnected: %v", err)
		}
	}))

	nc, err := nats.Connect(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("bus: connect to %s: %w", cfg.Address, err)
	}

	cglog.Infof("bus: connected to %s", cfg.Address)
	return &Publisher{conn: nc}, nil
}

// Subject is the NATS subject edited L2 IDs for a table are published
// to.
func Subject(tableID string) string {
	return "chunkedgraph." + tableID + ".l2-updated"
}

// PublishL2Updated publishes the set of L2 node IDs touched by a
// committed edit on table. Encoding follows the row-key convention
// (spec §6): a big-endian uint64 count, followed by the big-endian
// uint64 IDs themselves.
//
// Failures are logged and swallowed: per spec §5/§6, message-bus
// delivery is best-effort and must never fail the edit that already
// committed.
func (p *Publisher) PublishL2Updated(tableID string, l2IDs []uint64) {
	if p == nil || p.conn == nil {
		return
	}

	buf := make([]byte, 8+8*len(l2IDs))
	binary.BigEndian.PutUint64(buf[0:8], uint64(len(l2IDs)))
	for i, id := range l2IDs {
		binary.BigEndian.PutUint64(buf[8+8*i:16+8*i], id)
	}

	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if err := conn.Publish(Subject(tableID), buf); err != nil {
		cglog.Warnf("bus: publish to %s failed: %v", Subject(tableID), err)
	}
}

// Close flushes and closes the underlying connection. Safe to call on
// a nil *Publisher.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Drain()
}
