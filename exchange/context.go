package exchange

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/notargets/BoxHalo/box"
	"github.com/notargets/BoxHalo/comm"
	"github.com/notargets/BoxHalo/fab"
	"github.com/notargets/BoxHalo/geometry"
)

// Context owns everything one rank needs to exchange halos: the geometry,
// the pattern cache, the engine and its sequence counter. Create one per
// rank at domain setup and Close it at teardown.
type Context struct {
	id     uuid.UUID
	cfg    Config
	logger *slog.Logger

	transport comm.Transport
	engine    *Engine
	cache     *Cache

	mu         sync.RWMutex
	geom       geometry.Geometry
	generation uint64
}

// Option customizes a Context
type Option func(*Context)

// WithLogger routes the Context's log records to logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewContext creates the exchange context of transport's rank
func NewContext(cfg Config, geom geometry.Geometry, transport comm.Transport, opts ...Option) *Context {
	if transport == nil {
		panic("NewContext: transport cannot be nil")
	}
	cfg = cfg.withDefaults()
	c := &Context{
		id:        uuid.New(),
		cfg:       cfg,
		logger:    slog.Default(),
		transport: transport,
		geom:      geom,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("session", c.id.String(), "rank", transport.Rank())
	c.engine = NewEngine(transport, cfg, c.logger)
	c.cache = NewCache(cfg.CacheMaxSize, c.build, c.logger)
	c.logger.Debug("exchange context created",
		"nprocs", transport.Size(),
		"domain", geom.Domain.String(),
		"cache_max_size", cfg.CacheMaxSize,
		"async_sends", cfg.AsyncSends(),
		"validate", cfg.Validate)
	return c
}

func (c *Context) build(key Key) (*Pattern, error) {
	return BuildPattern(key, c.Geometry(), c.transport.Rank())
}

// ID returns the session id attached to every log record
func (c *Context) ID() uuid.UUID { return c.id }

// Config returns the effective configuration
func (c *Context) Config() Config { return c.cfg }

// Rank returns the rank this context exchanges for
func (c *Context) Rank() int { return c.transport.Rank() }

// Geometry returns the current periodicity descriptor
func (c *Context) Geometry() geometry.Geometry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.geom
}

// Generation returns the domain generation, bumped by SetGeometry
func (c *Context) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// SetGeometry replaces the periodicity descriptor. Every cached pattern is
// dropped and keys minted before the call no longer match.
func (c *Context) SetGeometry(g geometry.Geometry) {
	c.mu.Lock()
	c.geom = g
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.cache.Flush()
	c.logger.Info("geometry changed", "generation", gen, "geometry", g.String())
}

// Key returns the key exchanging mf with kind would use now
func (c *Context) Key(mf *fab.MultiFab, kind Kind, corners bool) Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return KeyFor(mf, c.geom.Domain, kind, corners, c.generation)
}

// LookupOrBuild returns the cached pattern for key, building it on a miss
func (c *Context) LookupOrBuild(key Key) (*Pattern, error) {
	return c.cache.LookupOrBuild(key)
}

// Execute runs p against mf; see Engine.Execute
func (c *Context) Execute(ctx context.Context, p *Pattern, mf *fab.MultiFab, scomp, ncomp int) error {
	return c.engine.Execute(ctx, p, mf, scomp, ncomp)
}

// FillPeriodicBoundary fills the halo cells of mf that lie outside the
// domain across a periodic boundary with the valid values they are images
// of. Without corners only halo cells sharing a face with the valid box are
// filled.
func (c *Context) FillPeriodicBoundary(ctx context.Context, mf *fab.MultiFab, scomp, ncomp int, corners bool) error {
	return c.run(ctx, mf, scomp, ncomp, FillPeriodic, corners)
}

// FillBoundary fills every halo cell of mf covered by a valid cell of some
// block, directly or through a periodic image
func (c *Context) FillBoundary(ctx context.Context, mf *fab.MultiFab, scomp, ncomp int, corners bool) error {
	return c.run(ctx, mf, scomp, ncomp, FillBoundary, corners)
}

// SumPeriodicBoundary adds the halo values of mf that lie outside the
// domain into the valid cells they are periodic images of
func (c *Context) SumPeriodicBoundary(ctx context.Context, mf *fab.MultiFab, scomp, ncomp int) error {
	return c.run(ctx, mf, scomp, ncomp, SumPeriodic, true)
}

func (c *Context) run(ctx context.Context, mf *fab.MultiFab, scomp, ncomp int, kind Kind, corners bool) error {
	geom := c.Geometry()
	if (kind != FillBoundary && !geom.IsAnyPeriodic()) || mf.NGrow().IsZero() || mf.Size() == 0 {
		// Keep sequence numbers aligned with ranks that do exchange
		c.engine.NextSeqNum()
		return nil
	}
	p, err := c.LookupOrBuild(c.Key(mf, kind, corners))
	if err != nil {
		return err
	}
	return c.engine.Execute(ctx, p, mf, scomp, ncomp)
}

// FlushCache drops every cached pattern
func (c *Context) FlushCache() {
	c.cache.Flush()
}

// CacheSize returns the number of cached patterns
func (c *Context) CacheSize() int {
	return c.cache.Len()
}

// Cache exposes the pattern cache for diagnostics
func (c *Context) Cache() *Cache {
	return c.cache
}

// Stats returns the engine's running totals
func (c *Context) Stats() EngineStats {
	return c.engine.Stats()
}

// NextSeqNum returns the next exchange sequence number
func (c *Context) NextSeqNum() int {
	return c.engine.NextSeqNum()
}

// PeriodicShift returns the periodic shifts that move src onto target
// under the current geometry
func (c *Context) PeriodicShift(target, src box.Box) []box.IntVect {
	return c.Geometry().PeriodicShift(target, src)
}

// Close flushes the cache and closes the transport when it can be closed
func (c *Context) Close() error {
	c.cache.Flush()
	stats := c.engine.Stats()
	c.logger.Debug("exchange context closed",
		"exchanges", stats.Exchanges,
		"messages", stats.MessagesSent,
		"values_sent", stats.ValuesSent)
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
