// Package pool manages a bounded set of controller sessions per address,
// reusing idle connections, running background health checks, and evicting
// controllers that fail repeatedly. It also supports looking a controller
// up by a short logical name, the way a supervisory system addresses
// PLCs without repeating their IP address everywhere.
package pool

import (
	"sync"
	"time"

	"goenip/errs"
	"goenip/session"
)

// Config controls pool sizing and health-check behavior. Zero values are
// replaced with the defaults below by New.
type Config struct {
	MaxConnections      int
	ConnectionTimeout   time.Duration
	HealthCheckInterval time.Duration
	MaxFailedAttempts   int
	IdleTimeout         time.Duration
}

// DefaultConfig mirrors the pool defaults used across the rest of the
// supervisory stack.
func DefaultConfig() Config {
	return Config{
		MaxConnections:      16,
		ConnectionTimeout:   5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		MaxFailedAttempts:   3,
		IdleTimeout:         5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = d.ConnectionTimeout
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = d.HealthCheckInterval
	}
	if c.MaxFailedAttempts <= 0 {
		c.MaxFailedAttempts = d.MaxFailedAttempts
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	return c
}

// entry tracks one pooled session plus its health bookkeeping.
type entry struct {
	sess           *session.Session
	name           string // logical name, if registered under one; "" otherwise
	lastUsed       time.Time
	failedAttempts int
	opts           []session.Option
}

// Pool hands out and reuses controller sessions, keyed by address, with a
// per-address connection cap, LRU reuse of idle sessions, and a background
// health-check loop that evicts unreachable controllers.
type Pool struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[string][]*entry // address -> connections
	byName   map[string]string   // logical name -> address
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Pool and starts its background health-check loop.
func New(cfg Config) *Pool {
	p := &Pool{
		cfg:     cfg.withDefaults(),
		entries: make(map[string][]*entry),
		byName:  make(map[string]string),
		stopCh:  make(chan struct{}),
	}
	go p.healthCheckLoop()
	return p
}

// Register associates a logical name with an address, so callers can later
// fetch a connection by name instead of repeating the address. Grounded on
// the named-endpoint lookup pattern used by supervisory PLC managers.
func (p *Pool) Register(name, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[name] = address
}

// Resolve returns the address registered under name, or name itself if no
// such registration exists (allowing callers to pass a bare address too).
func (p *Pool) Resolve(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addr, ok := p.byName[name]; ok {
		return addr
	}
	return name
}

// Get returns a connection for nameOrAddr, reusing an idle pooled session
// when one exists, opening a new one while under the per-address cap, or
// reusing the least-recently-used existing session and reconnecting it if
// it is no longer registered.
func (p *Pool) Get(nameOrAddr string, opts ...session.Option) (*session.Session, error) {
	addr := p.Resolve(nameOrAddr)

	p.mu.Lock()
	conns := p.entries[addr]

	// Step 1: reuse an idle (currently registered) connection.
	for _, en := range conns {
		if en.sess.IsRegistered() {
			en.lastUsed = time.Now()
			sess := en.sess
			p.mu.Unlock()
			return sess, nil
		}
	}

	// Step 2: open a new connection if under the cap.
	if len(conns) < p.cfg.MaxConnections {
		p.mu.Unlock()
		sess, err := session.Connect(addr, opts...)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.entries[addr] = append(p.entries[addr], &entry{
			sess: sess, lastUsed: time.Now(), opts: opts,
		})
		p.mu.Unlock()
		return sess, nil
	}

	// Step 3: at capacity — reuse the least-recently-used entry, reconnecting
	// it first since every entry here failed the IsRegistered check above.
	if len(conns) == 0 {
		p.mu.Unlock()
		return nil, errs.New(errs.KindResource, "pool: no connections available for %s and max connections is 0", addr)
	}
	lru := conns[0]
	for _, en := range conns[1:] {
		if en.lastUsed.Before(lru.lastUsed) {
			lru = en
		}
	}
	p.mu.Unlock()

	if err := lru.sess.Reconnect(); err != nil {
		p.mu.Lock()
		lru.failedAttempts++
		p.mu.Unlock()
		return nil, err
	}
	p.mu.Lock()
	lru.lastUsed = time.Now()
	lru.failedAttempts = 0
	p.mu.Unlock()
	return lru.sess, nil
}

// Release marks addr's connection as no longer actively in use by the
// caller, making it eligible for LRU reuse or idle cleanup. Pooled
// connections are shared, so Release does not close anything by itself.
func (p *Pool) Release(nameOrAddr string) {
	addr := p.Resolve(nameOrAddr)
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, en := range p.entries[addr] {
		en.lastUsed = time.Now()
	}
}

// Close shuts down the health-check loop and closes every pooled session.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conns := range p.entries {
		for _, en := range conns {
			en.sess.Close()
		}
	}
	p.entries = make(map[string][]*entry)
}

// healthCheckLoop periodically pings every pooled session, evicting ones
// that have failed MaxFailedAttempts consecutive times and closing any
// connection that has sat idle longer than IdleTimeout.
func (p *Pool) healthCheckLoop() {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runHealthCheck()
		}
	}
}

func (p *Pool) runHealthCheck() {
	p.mu.Lock()
	type target struct {
		addr string
		en   *entry
	}
	var targets []target
	for addr, conns := range p.entries {
		for _, en := range conns {
			targets = append(targets, target{addr, en})
		}
	}
	p.mu.Unlock()

	now := time.Now()
	for _, t := range targets {
		if err := t.en.sess.Ping(); err != nil {
			p.mu.Lock()
			t.en.failedAttempts++
			evict := t.en.failedAttempts >= p.cfg.MaxFailedAttempts
			p.mu.Unlock()
			if evict {
				p.evict(t.addr, t.en)
			}
			continue
		}
		p.mu.Lock()
		t.en.failedAttempts = 0
		idle := now.Sub(t.en.lastUsed) > p.cfg.IdleTimeout
		p.mu.Unlock()
		if idle {
			p.evict(t.addr, t.en)
		}
	}
}

// evict closes and removes en from addr's connection list.
func (p *Pool) evict(addr string, target *entry) {
	target.sess.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	conns := p.entries[addr]
	for i, en := range conns {
		if en == target {
			p.entries[addr] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
}

// Stats reports the current connection count for addr, for diagnostics.
func (p *Pool) Stats(nameOrAddr string) (active int) {
	addr := p.Resolve(nameOrAddr)
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries[addr])
}
