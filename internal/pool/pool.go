// Package pool owns one shard pool: its client-facing listener, its
// set of back-ends (single or cluster), and the router that picks a
// back-end for each admitted client command.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redishard/redishard/internal/backend"
	"github.com/redishard/redishard/internal/cluster"
	"github.com/redishard/redishard/internal/config"
	"github.com/redishard/redishard/internal/hashing"
	"github.com/redishard/redishard/internal/netutil"
	"github.com/redishard/redishard/internal/proxyerr"
	"github.com/redishard/redishard/internal/router"
	"github.com/redishard/redishard/internal/stats"
)

// errNoBackend is returned internally when the router or cluster
// backend has no eligible member; the client-facing error is always
// proxyerr.ErrBackendUnavailable.
var errNoBackend = errors.New("pool: no eligible backend")

// Pool is one configured [pools.<name>] section, running.
type Pool struct {
	Name   string
	cfg    config.Pool
	logger *slog.Logger

	listener net.Listener

	router   *router.Router
	backends map[int]*backend.Backend // nil for a cluster pool
	cluster  *cluster.Backend         // nil for a single-backend pool

	nextClientID int64 // atomic, seeded from the registry's pool-client range

	stats *stats.Counters

	mu      sync.Mutex
	clients map[int64]*clientSession
}

// New constructs a Pool from its validated config. clientIDBase seeds
// this pool's per-client ID sequence (supplied by the orchestrator's
// registry so IDs never collide across pools). counters may be nil.
func New(name string, cfg config.Pool, logger *slog.Logger, clientIDBase int64, counters *stats.Counters) (*Pool, error) {
	// cfg.Validate (always run by config.Load before a Pool is built)
	// already guarantees these are one of the enumerated valid values.
	hashFn, _ := hashing.ParseFunction(cfg.HashFunction)
	dist, _ := router.ParseDistribution(cfg.Distribution)

	p := &Pool{
		Name:         name,
		cfg:          cfg,
		logger:       logger,
		router:       router.New(dist, hashFn, cfg.AutoEjectHosts),
		backends:     map[int]*backend.Backend{},
		nextClientID: clientIDBase,
		stats:        counters,
		clients:      map[int64]*clientSession{},
	}

	if hasClusterServer(cfg) {
		cs := cfg.Servers[0]
		p.cluster = cluster.New(cluster.Config{
			Name:         cs.ClusterName,
			SeedHosts:    splitHosts(cs.ClusterHosts),
			Auth:         cs.Auth,
			DB:           cs.DB,
			Weight:       cs.Weight,
			Timeout:      msDuration(cfg.TimeoutMS),
			FailureLimit: cfg.FailureLimit,
			RetryTimeout: msDuration(cfg.RetryTimeoutMS),
			Stats:        counters,
		}, logger)
		return p, nil
	}

	for i, s := range cfg.Servers {
		id := i + 1
		p.backends[id] = backend.New(backend.Config{
			ID:           id,
			Addr:         s.Host,
			Auth:         s.Auth,
			DB:           s.DB,
			Weight:       s.Weight,
			Timeout:      msDuration(cfg.TimeoutMS),
			FailureLimit: cfg.FailureLimit,
			RetryTimeout: msDuration(cfg.RetryTimeoutMS),
			Stats:        counters,
		}, logger, p.onBackendStateChange)
	}
	p.rebuildRouter()
	return p, nil
}

func hasClusterServer(cfg config.Pool) bool {
	return len(cfg.Servers) > 0 && cfg.Servers[0].UseCluster
}

func splitHosts(csv string) []string {
	var hosts []string
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				hosts = append(hosts, csv[start:i])
			}
			start = i + 1
		}
	}
	return hosts
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Run starts every back-end, binds the listener, and serves clients
// until ctx is canceled.
func (p *Pool) Run(ctx context.Context) error {
	for _, b := range p.backends {
		go b.Run(ctx)
	}
	if p.cluster != nil {
		go p.cluster.Run(ctx)
	}

	ln, err := netutil.Listen(ctx, p.cfg.Listen)
	if err != nil {
		return err
	}
	p.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		p.acceptClient(ctx, conn)
	}
}

func (p *Pool) acceptClient(ctx context.Context, conn net.Conn) {
	id := atomic.AddInt64(&p.nextClientID, 1)
	sess := newClientSession(id, conn, p)

	p.mu.Lock()
	p.clients[id] = sess
	p.mu.Unlock()

	go func() {
		sess.run(ctx)
		p.mu.Lock()
		delete(p.clients, id)
		p.mu.Unlock()
	}()
}

// onBackendStateChange rebuilds the router whenever a back-end's
// availability changes (auto_eject_hosts rebuild).
func (p *Pool) onBackendStateChange(id int, s backend.State) {
	p.rebuildRouter()
}

func (p *Pool) rebuildRouter() {
	views := make([]router.Backend, 0, len(p.backends))
	for id, b := range p.backends {
		views = append(views, router.Backend{
			ID:        id,
			Identity:  b.Addr(),
			Weight:    b.Weight(),
			Available: b.State() == backend.Ready,
		})
	}
	p.router.Update(views)
}

// routeSingle resolves the backend for a single routing key, whether
// this pool is a single-backend or cluster pool.
func (p *Pool) routeSingle(key []byte) (*backend.Backend, error) {
	if p.cluster != nil {
		return p.cluster.Route(key)
	}
	id, ok := p.router.Route(key)
	if !ok {
		return nil, errNoBackend
	}
	b, ok := p.backends[id]
	if !ok {
		return nil, errNoBackend
	}
	return b, nil
}

// ClientCount reports the number of currently connected clients, for
// INFO reporting.
func (p *Pool) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close synchronously closes the pool's listener, if bound, freeing
// its listen address immediately rather than waiting for its context
// to be canceled. Used by SWITCHCONFIG so a replacement pool can bind
// the same address without racing the old listener's teardown.
func (p *Pool) Close() {
	if p.listener != nil {
		p.listener.Close()
	}
}

// CloseClients closes every currently connected client's socket, used
// by SWITCHCONFIG when a pool has no replacement in the new
// configuration at all, or when its listen address changed. If notify
// is true, each client is first written a farewell error line
// (admin.notify_on_drop).
func (p *Pool) CloseClients(notify bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.clients {
		if notify {
			s.sendFarewell(proxyerr.ErrPoolReconfigured)
		}
		s.conn.Close()
	}
}

// Migrate transfers every connected client session onto newPool,
// used by SWITCHCONFIG when a pool's listen address is unchanged but
// its back-end set has been replaced.
func (p *Pool) Migrate(newPool *Pool) {
	p.mu.Lock()
	sessions := make([]*clientSession, 0, len(p.clients))
	for _, s := range p.clients {
		sessions = append(sessions, s)
	}
	p.clients = map[int64]*clientSession{}
	p.mu.Unlock()

	newPool.mu.Lock()
	for _, s := range sessions {
		s.pool = newPool
		newPool.clients[s.id] = s
	}
	newPool.mu.Unlock()
}
