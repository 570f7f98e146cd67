// Package orchestrator wires the admin surface to the running set of
// pools: it owns the identifier registry, holds the active and staged
// configurations, and performs the SWITCHCONFIG partition/migration
// that replaces running pools without dropping the live clients of a
// pool whose listen address is unchanged.
package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/redishard/redishard/internal/admin"
	"github.com/redishard/redishard/internal/config"
	"github.com/redishard/redishard/internal/pool"
	"github.com/redishard/redishard/internal/proxyerr"
	"github.com/redishard/redishard/internal/registry"
	"github.com/redishard/redishard/internal/stats"
)

// clientIDSpan is the number of client IDs reserved per pool so two
// pools' sequential client counters can never collide, even though
// dispatch here is goroutine-based rather than the single registry
// range the reactor design uses for every resource class.
const clientIDSpan = 1_000_000

// Orchestrator owns every running pool and the admin surface that
// inspects and hot-swaps them.
type Orchestrator struct {
	logger *slog.Logger

	mu          sync.Mutex
	cfg         *config.Config
	staged      *config.Config
	pools       map[string]*pool.Pool
	poolCancel  map[string]context.CancelFunc
	reg         *registry.Registry
	stats       *stats.Counters
	adminCancel context.CancelFunc

	rootCtx    context.Context
	rootCancel context.CancelFunc
	startedAt  time.Time
}

// startAdmin launches the admin listener under ctx and returns a
// channel that receives its terminal error, if any.
func (o *Orchestrator) startAdmin(ctx context.Context, addr string) <-chan error {
	errCh := make(chan error, 1)
	admSrv := admin.New(o, o.logger)
	go func() { errCh <- admSrv.Run(ctx, addr) }()
	return errCh
}

// New constructs an Orchestrator from an already-loaded, validated
// configuration. Call Run to bind every listener and start serving.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		cfg:        cfg,
		pools:      map[string]*pool.Pool{},
		poolCancel: map[string]context.CancelFunc{},
		reg:        registry.New(len(cfg.Pools), totalServers(cfg)),
		stats:      stats.New(),
	}
}

func totalServers(cfg *config.Config) int {
	n := 0
	for _, p := range cfg.Pools {
		n += len(p.Servers)
	}
	return n
}

// Run binds every configured pool's listener and the admin listener,
// then blocks until ctx is canceled or SHUTDOWN is issued.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	o.rootCtx, o.rootCancel = context.WithCancel(ctx)
	o.startedAt = time.Now()
	root := o.rootCtx
	poolErrCh := make(chan error, len(o.cfg.Pools))

	i := 0
	for name, pcfg := range o.cfg.Pools {
		p, err := pool.New(name, pcfg, o.logger, o.poolClientBase(i), o.stats)
		if err != nil {
			o.mu.Unlock()
			return fmt.Errorf("pools.%s: %w", name, err)
		}
		pctx, cancel := context.WithCancel(root)
		o.poolCancel[name] = cancel
		o.pools[name] = p
		poolName := name
		go func() {
			if err := p.Run(pctx); err != nil {
				o.logger.Error("pool exited", "pool", poolName, "error", err)
				poolErrCh <- fmt.Errorf("pools.%s: %w", poolName, err)
			}
		}()
		i++
	}

	adminAddr := o.cfg.Admin.Listen
	adminCtx, adminCancel := context.WithCancel(root)
	o.adminCancel = adminCancel
	o.mu.Unlock()

	errCh := o.startAdmin(adminCtx, adminAddr)

	select {
	case <-root.Done():
		return nil
	case err := <-errCh:
		return err
	case err := <-poolErrCh:
		return err
	}
}

func (o *Orchestrator) poolClientBase(poolIndex int) int64 {
	return int64(o.reg.FirstPoolClientID()) + int64(poolIndex)*clientIDSpan
}

// Info implements admin.Proxy: a free-form single-line summary for
// the INFO command.
func (o *Orchestrator) Info() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	clients := 0
	for _, p := range o.pools {
		clients += p.ClientCount()
	}
	snap := o.stats.Snapshot()
	return fmt.Sprintf(
		"pools=%d clients=%d uptime=%s requests_routed=%d timeouts=%d ejections=%d reconnects=%d",
		len(o.cfg.Pools), clients, time.Since(o.startedAt).Round(time.Second),
		snap.RequestsRouted, snap.Timeouts, snap.Ejections, snap.Reconnects,
	)
}

// LoadConfig implements admin.Proxy.
func (o *Orchestrator) LoadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.staged = cfg
	o.mu.Unlock()
	return nil
}

// StagedConfig implements admin.Proxy.
func (o *Orchestrator) StagedConfig() (string, bool) {
	o.mu.Lock()
	staged := o.staged
	o.mu.Unlock()
	if staged == nil {
		return "", false
	}
	text, err := encodeConfig(staged)
	if err != nil {
		return err.Error(), true
	}
	return text, true
}

// CurrentConfig implements admin.Proxy.
func (o *Orchestrator) CurrentConfig() (string, error) {
	o.mu.Lock()
	cfg := o.cfg
	o.mu.Unlock()
	return encodeConfig(cfg)
}

func encodeConfig(cfg *config.Config) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SwitchConfig implements admin.Proxy: it atomically replaces the
// running configuration with the staged one. Pools whose configuration
// is structurally unchanged keep running untouched; changed or removed
// pools are stopped (their backends' contexts are canceled) and new or
// changed pools are started from the new configuration. For a changed
// pool whose listen address is the same, its live client sessions are
// migrated onto the freshly constructed replacement pool before it
// starts — the client's TCP connection is never touched, so no
// reconnect is required. Clients of a removed pool, or of a changed
// pool whose listen address differs, are dropped (with a farewell line
// when admin.notify_on_drop is set). A changed pool's listen address is rebound
// via a fresh listener rather than handed off socket-for-socket; a
// brief window where new connection attempts may be refused is the
// cost of keeping this swap a plain cancel-then-start instead of a
// shared-fd handoff.
func (o *Orchestrator) SwitchConfig() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.staged == nil {
		return proxyerr.ErrUnavailableConfig
	}
	if config.Same(o.cfg, o.staged) {
		return proxyerr.ErrSameConfig
	}

	next := o.staged
	o.staged = nil

	kept, _ := o.cfg.DiffPools(next)
	keptSet := make(map[string]bool, len(kept))
	for _, name := range kept {
		keptSet[name] = true
	}

	draining := make(map[string]*pool.Pool)
	for name, p := range o.pools {
		if keptSet[name] {
			continue
		}
		if cancel, ok := o.poolCancel[name]; ok {
			cancel()
			delete(o.poolCancel, name)
		}
		p.Close()
		draining[name] = p
	}

	newPools := make(map[string]*pool.Pool, len(next.Pools))
	for _, name := range kept {
		newPools[name] = o.pools[name]
	}

	i := 0
	for name, pcfg := range next.Pools {
		i++
		if keptSet[name] {
			continue
		}
		np, err := pool.New(name, pcfg, o.logger, o.poolClientBase(i), o.stats)
		if err != nil {
			return fmt.Errorf("pools.%s: %w", name, err)
		}
		if old, ok := draining[name]; ok {
			oldcfg, existed := o.cfg.Pools[name]
			if existed && oldcfg.Listen == pcfg.Listen {
				// Same address: the client's socket is still valid, only
				// its routing needs to move to the replacement pool.
				old.Migrate(np)
			} else {
				// Listen address changed: drop the client rather than
				// silently re-routing a connection accepted on an address
				// this pool no longer owns.
				old.CloseClients(next.Admin.NotifyOnDrop)
			}
			delete(draining, name)
		}
		pctx, cancel := context.WithCancel(o.rootCtx)
		o.poolCancel[name] = cancel
		newPools[name] = np
		poolName := name
		go func() {
			if err := np.Run(pctx); err != nil {
				o.logger.Error("pool exited", "pool", poolName, "error", err)
			}
		}()
	}

	// Anything left in draining has no replacement in the new
	// configuration at all; its clients are dropped.
	for _, old := range draining {
		old.CloseClients(next.Admin.NotifyOnDrop)
	}

	if next.Admin.Listen != o.cfg.Admin.Listen && o.adminCancel != nil {
		o.adminCancel()
		adminCtx, cancel := context.WithCancel(o.rootCtx)
		o.adminCancel = cancel
		errCh := o.startAdmin(adminCtx, next.Admin.Listen)
		go func() {
			if err := <-errCh; err != nil {
				o.logger.Error("admin listener exited", "error", err)
			}
		}()
	}

	o.pools = newPools
	o.cfg = next
	o.reg = registry.New(len(next.Pools), totalServers(next))
	return nil
}

// Shutdown implements admin.Proxy: cancels the root context, which
// stops every pool's backends and accept loop and the admin listener.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	cancel := o.rootCancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
