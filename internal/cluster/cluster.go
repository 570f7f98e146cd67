// Package cluster implements the cluster back-end: slot discovery via
// CLUSTER SLOTS against a seed set, a 16384-entry slot→member map, and
// routing of a key to its owning member by CRC16-X25 mod 16384.
package cluster

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/redishard/redishard/internal/backend"
	"github.com/redishard/redishard/internal/hashing"
	"github.com/redishard/redishard/internal/proxyerr"
	"github.com/redishard/redishard/internal/resp"
	"github.com/redishard/redishard/internal/stats"
)

// Config describes a cluster entry point.
type Config struct {
	Name         string
	SeedHosts    []string
	Auth         string
	DB           int
	Weight       int
	Timeout      time.Duration
	FailureLimit int
	RetryTimeout time.Duration
	// RediscoverEvery controls how often CLUSTER SLOTS is re-queried
	// against the current member set to pick up resharding.
	RediscoverEvery time.Duration

	// Stats, if non-nil, is threaded into every member backend.
	Stats *stats.Counters
}

// Backend is a cluster back-end: a dynamic set of per-member
// internal/backend.Backend connections behind a shared slot map.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	slots   [NumSlots]string
	members map[string]*backend.Backend
	ready   bool
}

// New constructs a cluster Backend. Call Run to start discovery.
func New(cfg Config, logger *slog.Logger) *Backend {
	if cfg.RediscoverEvery <= 0 {
		cfg.RediscoverEvery = 30 * time.Second
	}
	return &Backend{cfg: cfg, logger: logger, members: map[string]*backend.Backend{}}
}

// Ready reports whether at least one CLUSTER SLOTS discovery has
// installed a slot map.
func (b *Backend) Ready() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready
}

// Route returns the member backend owning key, per CRC16-X25 mod
// 16384. Returns proxyerr.ErrBackendUnavailable if no slot map is
// installed yet or the owning member hasn't finished connecting.
func (b *Backend) Route(key []byte) (*backend.Backend, error) {
	slot := int(hashing.CRC16X25(key)) % NumSlots

	b.mu.RLock()
	host := b.slots[slot]
	member := b.members[host]
	b.mu.RUnlock()

	if host == "" || member == nil {
		return nil, proxyerr.ErrBackendUnavailable
	}
	if member.State() != backend.Ready {
		return nil, proxyerr.ErrBackendUnavailable
	}
	return member, nil
}

// Run drives periodic CLUSTER SLOTS discovery until ctx is canceled.
func (b *Backend) Run(ctx context.Context) {
	b.discover(ctx)
	ticker := time.NewTicker(b.cfg.RediscoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.discover(ctx)
		}
	}
}

// discover queries CLUSTER SLOTS against the first reachable host
// (a seed, or a currently known member) and reconciles the member set
// and slot map from the reply.
func (b *Backend) discover(ctx context.Context) {
	hosts := b.discoveryCandidates()
	for _, host := range hosts {
		reply, err := queryClusterSlots(ctx, host, b.cfg.Timeout)
		if err != nil {
			b.logger.Warn("cluster slots query failed", "cluster", b.cfg.Name, "host", host, "err", err)
			continue
		}
		slots, err := ParseSlotsReply(reply)
		if err != nil {
			b.logger.Warn("cluster slots reply malformed", "cluster", b.cfg.Name, "host", host, "err", err)
			continue
		}
		b.reconcile(ctx, slots)
		return
	}
	b.logger.Warn("cluster slots discovery exhausted all candidates", "cluster", b.cfg.Name)
}

func (b *Backend) discoveryCandidates() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hosts := append([]string{}, b.cfg.SeedHosts...)
	for host := range b.members {
		hosts = append(hosts, host)
	}
	return hosts
}

// reconcile installs a fresh slot map and starts a member backend for
// every newly referenced host. Members no longer referenced by any
// slot are left running (a future resharding may reference them
// again, and in-flight requests against them must still drain).
func (b *Backend) reconcile(ctx context.Context, slots [NumSlots]string) {
	referenced := map[string]bool{}
	for _, host := range slots {
		if host != "" {
			referenced[host] = true
		}
	}

	b.mu.Lock()
	b.slots = slots
	b.ready = true
	var toStart []string
	for host := range referenced {
		if _, ok := b.members[host]; !ok {
			toStart = append(toStart, host)
		}
	}
	b.mu.Unlock()

	for _, host := range toStart {
		b.startMember(ctx, host)
	}
}

func (b *Backend) startMember(ctx context.Context, host string) {
	b.mu.Lock()
	id := len(b.members) + 1
	b.mu.Unlock()
	member := backend.New(backend.Config{
		ID:           id,
		Addr:         host,
		Auth:         b.cfg.Auth,
		DB:           b.cfg.DB,
		Weight:       b.cfg.Weight,
		Timeout:      b.cfg.Timeout,
		FailureLimit: b.cfg.FailureLimit,
		RetryTimeout: b.cfg.RetryTimeout,
		Stats:        b.cfg.Stats,
	}, b.logger, func(id int, s backend.State) { b.onMemberStateChange(ctx, host, s) })

	b.mu.Lock()
	b.members[host] = member
	b.mu.Unlock()

	go member.Run(ctx)
}

// onMemberStateChange triggers an immediate slot-map requery whenever a
// member drops to Disconnected (its connection died, it was ejected, or
// a reconnect handshake failed), instead of waiting for the next
// RediscoverEvery tick — a dead member shouldn't keep routing to it for
// up to 30s. The Connecting and Connected steps of a connect attempt
// do not trigger a requery.
func (b *Backend) onMemberStateChange(ctx context.Context, host string, s backend.State) {
	if s != backend.Disconnected {
		return
	}
	b.logger.Warn("cluster member left ready, requerying slots", "cluster", b.cfg.Name, "host", host)
	go b.discover(ctx)
}

// queryClusterSlots dials host directly (outside any member backend's
// serialized writer, since this is a one-shot administrative query)
// and reads a single CLUSTER SLOTS reply.
func queryClusterSlots(ctx context.Context, host string, timeout time.Duration) (resp.Frame, error) {
	d := net.Dialer{Timeout: dialTimeout(timeout)}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return resp.Frame{}, err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(dialTimeout(timeout)))

	if _, err := conn.Write(resp.EncodeCommand("CLUSTER", "SLOTS")); err != nil {
		return resp.Frame{}, err
	}

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		frame, _, perr := resp.ParseFrame(buf)
		if perr == nil {
			return frame, nil
		}
		if perr != resp.ErrNeedMore {
			return resp.Frame{}, perr
		}
		n, rerr := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return resp.Frame{}, rerr
		}
	}
}

func dialTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 5 * time.Second
	}
	return requestTimeout
}
