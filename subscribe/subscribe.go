// Package subscribe polls tags on a fixed interval and delivers only the
// changes that clear a per-type dead-band, over a bounded channel so a slow
// consumer cannot stall the poll loop.
package subscribe

import (
	"sync"
	"time"

	"goenip/config"
	"goenip/logix"
	"goenip/value"
)

// Change is delivered to a subscription's handler when a tag's value moves
// by more than its dead-band, or when the tag transitions to or from Stale.
type Change struct {
	ID    string
	Tag   string
	Value *logix.TagValue
	Err   error
	Stale bool
	At    time.Time
}

// Handler receives Change notifications for one subscription.
type Handler func(Change)

// Options controls polling cadence and dead-band behavior for one
// subscription. Zero values are filled from config.SubscribeConfig defaults.
type Options struct {
	PollInterval     time.Duration
	Deadband         float64
	StaleAfterMisses int
	BufferSize       int
}

func (o Options) withDefaults(d config.SubscribeConfig) Options {
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.StaleAfterMisses <= 0 {
		o.StaleAfterMisses = d.StaleAfterMisses
	}
	if o.StaleAfterMisses <= 0 {
		o.StaleAfterMisses = 3
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.ChannelBufferSize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 100
	}
	if o.Deadband <= 0 {
		o.Deadband = d.DeadbandDefault
	}
	return o
}

// tagState tracks the last delivered value and consecutive-miss count for
// one polled tag.
type tagState struct {
	last     value.Value
	haveLast bool
	misses   int
	wasStale bool
}

// Subscription polls a fixed set of tags on one client connection and
// delivers Changes to Handler, dropping the newest change when the
// consumer falls behind rather than blocking the poll loop.
type Subscription struct {
	id      string
	client  *logix.Client
	tags    []string
	opts    Options
	handler Handler

	mu     sync.Mutex
	states map[string]*tagState

	ch       chan Change
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Subscribe starts polling tags on client and returns a running
// Subscription identified by id. Changes are delivered to handler from a
// dedicated goroutine, one at a time, in poll order.
func Subscribe(id string, client *logix.Client, tags []string, opts Options, cfg config.SubscribeConfig, handler Handler) *Subscription {
	o := opts.withDefaults(cfg)
	s := &Subscription{
		id:      id,
		client:  client,
		tags:    tags,
		opts:    o,
		handler: handler,
		states:  make(map[string]*tagState, len(tags)),
		ch:      make(chan Change, o.BufferSize),
		stopCh:  make(chan struct{}),
	}
	for _, t := range tags {
		s.states[t] = &tagState{}
	}

	s.wg.Add(2)
	go s.pollLoop()
	go s.deliverLoop()
	return s
}

// ID returns the subscription's identifier.
func (s *Subscription) ID() string { return s.id }

// Stop halts polling and delivery. Idempotent; safe to call more than once.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Subscription) pollLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pollOnce()
		}
	}
}

func (s *Subscription) pollOnce() {
	values, err := s.client.Read(s.tags...)
	now := time.Now()

	if err != nil {
		// A connection-wide failure counts as a miss for every tag in this
		// subscription.
		for _, t := range s.tags {
			s.recordMiss(t, err, now)
		}
		return
	}

	byName := make(map[string]*logix.TagValue, len(values))
	for _, tv := range values {
		byName[tv.Name] = tv
	}
	for _, t := range s.tags {
		tv, ok := byName[t]
		if !ok || (tv.Error != nil) {
			var tvErr error
			if ok {
				tvErr = tv.Error
			}
			s.recordMiss(t, tvErr, now)
			continue
		}
		s.recordValue(t, tv, now)
	}
}

func (s *Subscription) recordMiss(tag string, err error, now time.Time) {
	s.mu.Lock()
	st := s.states[tag]
	st.misses++
	becameStale := !st.wasStale && st.misses >= s.opts.StaleAfterMisses
	if becameStale {
		st.wasStale = true
	}
	s.mu.Unlock()

	if becameStale {
		s.send(Change{ID: s.id, Tag: tag, Err: err, Stale: true, At: now})
	}
}

func (s *Subscription) recordValue(tag string, tv *logix.TagValue, now time.Time) {
	decoded, decErr := value.Decode(value.Type(tv.DataType&0x0FFF), tv.Bytes)

	s.mu.Lock()
	st := s.states[tag]
	wasStale := st.wasStale
	st.misses = 0
	st.wasStale = false

	changed := !st.haveLast || decErr != nil || !withinDeadband(st.last, decoded, s.opts.Deadband)
	if decErr == nil {
		st.last = decoded
		st.haveLast = true
	}
	s.mu.Unlock()

	if changed || wasStale {
		s.send(Change{ID: s.id, Tag: tag, Value: tv, At: now})
	}
}

// withinDeadband reports whether prev and cur are close enough that the
// change should be suppressed: an absolute tolerance for REAL/LREAL values,
// exact equality for everything else (including arrays, strings, and UDTs).
func withinDeadband(prev, cur value.Value, deadband float64) bool {
	if prev.Kind() != cur.Kind() {
		return false
	}
	switch prev.Kind() {
	case value.Real, value.Lreal:
		if deadband <= 0 {
			return prev.Equal(cur)
		}
		pf, _ := prev.Float()
		cf, _ := cur.Float()
		diff := pf - cf
		if diff < 0 {
			diff = -diff
		}
		return diff <= deadband
	default:
		return prev.Equal(cur)
	}
}

// send delivers c to the channel, dropping c itself if the buffer is full
// so a stalled consumer never blocks the poll loop.
func (s *Subscription) send(c Change) {
	select {
	case s.ch <- c:
	default:
	}
}

func (s *Subscription) deliverLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			// Drain anything already queued before exiting.
			for {
				select {
				case c := <-s.ch:
					s.handler(c)
				default:
					return
				}
			}
		case c := <-s.ch:
			s.handler(c)
		}
	}
}

// Manager owns a set of named subscriptions, letting callers add and remove
// them by ID without tracking Subscription handles themselves.
type Manager struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	cfg  config.SubscribeConfig
}

// NewManager builds an empty Manager using cfg for subscription defaults.
func NewManager(cfg config.SubscribeConfig) *Manager {
	return &Manager{subs: make(map[string]*Subscription), cfg: cfg}
}

// Add starts a new subscription under id, stopping and replacing any
// existing subscription with the same id.
func (m *Manager) Add(id string, client *logix.Client, tags []string, opts Options, handler Handler) *Subscription {
	m.mu.Lock()
	old := m.subs[id]
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	sub := Subscribe(id, client, tags, opts, m.cfg, handler)
	m.mu.Lock()
	m.subs[id] = sub
	m.mu.Unlock()
	return sub
}

// Remove stops and removes the subscription registered under id, if any.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	sub := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	if sub != nil {
		sub.Stop()
	}
}

// StopAll stops every active subscription.
func (m *Manager) StopAll() {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()
	for _, s := range subs {
		s.Stop()
	}
}

// List returns the IDs of all active subscriptions.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	return ids
}
