// Package pool provides a bounded connection pool for worker transports.
//
// Remote workers acquire a transport handle per task execution and
// release it afterwards; the pool reuses idle handles per endpoint,
// caps how many may be open at once, evicts handles that sit idle past
// their TTL, and health-probes idle handles on a background sweep.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrExhausted indicates that the per-endpoint cap was reached and no
// handle was released within the acquire timeout. Surfacing exhaustion
// as an error, rather than queueing without bound, keeps a saturated
// endpoint from stalling whole runs invisibly.
var ErrExhausted = errors.New("connection pool exhausted for endpoint")

// ErrClosed indicates an operation against a closed pool.
var ErrClosed = errors.New("connection pool is closed")

// Conn is one transport connection managed by the pool.
type Conn interface {
	// Ping checks liveness. The sweeper calls it on idle connections;
	// failing connections are evicted.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Dialer creates connections on demand.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// Config tunes the pool. Zero values get defaults.
type Config struct {
	// MaxPerEndpoint caps concurrently open connections per endpoint.
	// Default: 4.
	MaxPerEndpoint int

	// IdleTTL is how long a released connection may sit unused before
	// the sweeper evicts it. Default: 5m.
	IdleTTL time.Duration

	// AcquireTimeout bounds how long Acquire waits at the cap before
	// returning ErrExhausted. Default: 10s.
	AcquireTimeout time.Duration

	// SweepInterval is how often the background sweeper runs.
	// Default: 30s. Negative disables the sweeper.
	SweepInterval time.Duration

	// ProbeTimeout bounds each health probe. Default: 2s.
	ProbeTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxPerEndpoint <= 0 {
		c.MaxPerEndpoint = 4
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 5 * time.Minute
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 10 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 2 * time.Second
	}
	return c
}

// Handle is a leased connection. Callers use Conn and must finish with
// exactly one of Release (reusable) or Discard (broken).
type Handle struct {
	// Conn is the leased transport connection.
	Conn Conn

	endpoint  string
	createdAt time.Time
	lastUsed  time.Time
}

// Endpoint returns the endpoint this handle is bound to.
func (h *Handle) Endpoint() string {
	return h.endpoint
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	// Open counts every live connection (leased plus idle), per endpoint.
	Open map[string]int

	// Idle counts released connections waiting for reuse, per endpoint.
	Idle map[string]int
}

// Pool manages per-endpoint connections with lazy creation, reuse,
// bounded capacity, idle TTL and health-probe eviction.
//
// Usage:
//
//	dialer := pool.NewHTTPDialer(nil, "/healthz")
//	p := pool.New(dialer, pool.Config{MaxPerEndpoint: 2}, nil)
//	defer p.Close()
//
//	h, err := p.Acquire(ctx, "http://worker-a:8080")
//	if err != nil { ... }
//	defer p.Release(h)
type Pool struct {
	dialer  Dialer
	cfg     Config
	metrics *Metrics

	mu     sync.Mutex
	idle   map[string][]*Handle
	open   map[string]int
	closed bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a pool over the given dialer. metrics may be nil. The
// background sweeper starts immediately unless Config.SweepInterval is
// negative.
func New(dialer Dialer, cfg Config, metrics *Metrics) *Pool {
	p := &Pool{
		dialer:  dialer,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		idle:    make(map[string][]*Handle),
		open:    make(map[string]int),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	if p.cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}
	return p
}

// Acquire leases a connection to the endpoint: an idle one if available,
// a freshly dialed one while under the cap, otherwise it waits for a
// release up to the acquire timeout and fails with ErrExhausted.
func (p *Pool) Acquire(ctx context.Context, endpoint string) (*Handle, error) {
	deadline := time.NewTimer(p.cfg.AcquireTimeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		if handles := p.idle[endpoint]; len(handles) > 0 {
			h := handles[len(handles)-1]
			p.idle[endpoint] = handles[:len(handles)-1]
			p.mu.Unlock()
			h.lastUsed = time.Now()
			p.metrics.Reused(endpoint)
			p.metrics.observe(p)
			return h, nil
		}

		if p.open[endpoint] < p.cfg.MaxPerEndpoint {
			p.open[endpoint]++
			p.mu.Unlock()

			conn, err := p.dialer.Dial(ctx, endpoint)
			if err != nil {
				p.mu.Lock()
				p.open[endpoint]--
				p.mu.Unlock()
				p.wake()
				return nil, err
			}
			now := time.Now()
			p.metrics.Opened(endpoint)
			p.metrics.observe(p)
			return &Handle{Conn: conn, endpoint: endpoint, createdAt: now, lastUsed: now}, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			p.metrics.Exhausted(endpoint)
			return nil, ErrExhausted
		case <-p.notify:
		}
	}
}

// Release returns a healthy connection for reuse.
func (p *Pool) Release(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.open[h.endpoint]--
		p.mu.Unlock()
		_ = h.Conn.Close()
		return
	}
	h.lastUsed = time.Now()
	p.idle[h.endpoint] = append(p.idle[h.endpoint], h)
	p.mu.Unlock()
	p.wake()
	p.metrics.observe(p)
}

// Discard drops a broken connection instead of returning it, freeing a
// slot under the endpoint's cap.
func (p *Pool) Discard(h *Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	p.open[h.endpoint]--
	p.mu.Unlock()
	_ = h.Conn.Close()
	p.wake()
	p.metrics.Evicted(h.endpoint, "broken")
	p.metrics.observe(p)
}

// Stats returns a snapshot of open and idle counts per endpoint.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Open: make(map[string]int, len(p.open)), Idle: make(map[string]int, len(p.idle))}
	for ep, n := range p.open {
		if n > 0 {
			s.Open[ep] = n
		}
	}
	for ep, handles := range p.idle {
		if len(handles) > 0 {
			s.Idle[ep] = len(handles)
		}
	}
	return s
}

// Close stops the sweeper and closes every idle connection. Leased
// handles are closed as they come back through Release or Discard.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var stale []*Handle
	for ep, handles := range p.idle {
		stale = append(stale, handles...)
		p.open[ep] -= len(handles)
	}
	p.idle = make(map[string][]*Handle)
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()

	var firstErr error
	for _, h := range stale {
		if err := h.Conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wake releases one waiter blocked in Acquire.
func (p *Pool) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

func (p *Pool) sweepLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep evicts idle connections past their TTL and probes the rest,
// evicting any that fail their health check.
func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var expired, candidates []*Handle
	for ep, handles := range p.idle {
		kept := handles[:0]
		for _, h := range handles {
			if now.Sub(h.lastUsed) > p.cfg.IdleTTL {
				expired = append(expired, h)
				p.open[ep]--
			} else {
				kept = append(kept, h)
				candidates = append(candidates, h)
			}
		}
		p.idle[ep] = kept
	}
	p.mu.Unlock()

	for _, h := range expired {
		_ = h.Conn.Close()
		p.metrics.Evicted(h.endpoint, "idle_ttl")
	}

	// Probe outside the lock; an unhealthy handle may have been leased
	// meanwhile, in which case removeIdle is a no-op and the lease's
	// Discard will retire it.
	for _, h := range candidates {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
		err := h.Conn.Ping(ctx)
		cancel()
		if err == nil {
			continue
		}
		if p.removeIdle(h) {
			_ = h.Conn.Close()
			p.metrics.Evicted(h.endpoint, "unhealthy")
		}
	}

	if len(expired) > 0 {
		p.wake()
	}
	p.metrics.observe(p)
}

// removeIdle takes a specific handle out of the idle set. Returns false
// if the handle was leased (or evicted) since it was selected.
func (p *Pool) removeIdle(h *Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	handles := p.idle[h.endpoint]
	for i, cand := range handles {
		if cand == h {
			p.idle[h.endpoint] = append(handles[:i], handles[i+1:]...)
			p.open[h.endpoint]--
			return true
		}
	}
	return false
}
