// Package supervisor owns the running set of configured PLC connections: it
// wires the connection pool, session lifecycle, tag subscriptions, batch
// engine, and metadata cache into one per-controller facade consumed by the
// status API and any future automation layer.
package supervisor

import (
	"fmt"
	"sync"
	"time"

	"goenip/batch"
	"goenip/config"
	"goenip/errs"
	"goenip/logix"
	"goenip/pool"
	"goenip/session"
	"goenip/subscribe"
)

// Status is a controller's current connection state, as observed by the
// supervisor (distinct from session.State, which is per-TCP-connection).
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// HealthStatus is a point-in-time health snapshot for one controller.
type HealthStatus struct {
	Online    bool
	Status    string
	Error     string
	Timestamp time.Time
}

// ValueChange is delivered to value-change listeners whenever a subscribed
// tag's value clears its dead-band.
type ValueChange struct {
	PLCName string
	Tag     string
	Value   *logix.TagValue
	Stale   bool
}

// ManagedPLC tracks one configured controller's live state: connection
// status, last error, device identity, cached tag metadata, and the most
// recently observed value of every tag it has been asked to track.
type ManagedPLC struct {
	Config *config.PLCConfig

	mu       sync.RWMutex
	status   Status
	lastErr  error
	identity *logix.DeviceInfo
	values   map[string]*logix.TagValue

	sess     *session.Session
	metadata *logix.MetadataCache
}

// GetStatus returns the controller's current connection status.
func (m *ManagedPLC) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetError returns the last connection or operation error, if any.
func (m *ManagedPLC) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// GetDeviceInfo returns the controller's identity, or nil if not yet known.
func (m *ManagedPLC) GetDeviceInfo() *logix.DeviceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// GetValues returns a snapshot copy of all last-observed tag values.
func (m *ManagedPLC) GetValues() map[string]*logix.TagValue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*logix.TagValue, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// Client returns the controller's current logix.Client, or nil if not
// connected.
func (m *ManagedPLC) Client() *logix.Client {
	m.mu.RLock()
	sess := m.sess
	m.mu.RUnlock()
	if sess == nil {
		return nil
	}
	return sess.Client()
}

func (m *ManagedPLC) setStatus(s Status, err error) {
	m.mu.Lock()
	m.status = s
	m.lastErr = err
	m.mu.Unlock()
}

func (m *ManagedPLC) recordValue(tag string, v *logix.TagValue) {
	m.mu.Lock()
	if m.values == nil {
		m.values = make(map[string]*logix.TagValue)
	}
	m.values[tag] = v
	m.mu.Unlock()
}

// ListenerID identifies a registered callback so it can later be removed.
type ListenerID uint64

// Manager owns every configured controller's ManagedPLC, the shared
// connection pool backing them, and the subscription manager that feeds
// value-change notifications.
type Manager struct {
	pool     *pool.Pool
	subs     *subscribe.Manager
	batchCfg config.BatchConfig

	mu   sync.RWMutex
	plcs map[string]*ManagedPLC

	listenersMu     sync.RWMutex
	valueListeners  map[ListenerID]func(ValueChange)
	statusListeners map[ListenerID]func(string)
	listenerCounter uint64
}

// NewManager builds a Manager from cfg, registering every configured PLC
// without connecting to it. Call Connect to establish connections.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		pool: pool.New(pool.Config{
			MaxConnections:      cfg.Pool.MaxConnections,
			HealthCheckInterval: cfg.Pool.HealthCheckInterval,
			MaxFailedAttempts:   cfg.Pool.MaxFailedAttempts,
			IdleTimeout:         cfg.Pool.IdleTimeout,
		}),
		subs:            subscribe.NewManager(cfg.Subscription),
		batchCfg:        cfg.Batch,
		plcs:            make(map[string]*ManagedPLC),
		valueListeners:  make(map[ListenerID]func(ValueChange)),
		statusListeners: make(map[ListenerID]func(string)),
	}
	for i := range cfg.PLCs {
		m.AddPLC(&cfg.PLCs[i])
	}
	return m
}

// AddPLC registers a new controller without connecting to it.
func (m *Manager) AddPLC(cfg *config.PLCConfig) {
	m.pool.Register(cfg.Name, cfg.Address)

	m.mu.Lock()
	m.plcs[cfg.Name] = &ManagedPLC{Config: cfg, status: StatusDisconnected}
	m.mu.Unlock()
}

// RemovePLC disconnects and forgets a controller.
func (m *Manager) RemovePLC(name string) {
	m.Disconnect(name)
	m.subs.Remove(name)

	m.mu.Lock()
	delete(m.plcs, name)
	m.mu.Unlock()
}

// GetPLC returns the ManagedPLC registered under name, or nil.
func (m *Manager) GetPLC(name string) *ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.plcs[name]
}

// ListPLCs returns every registered controller.
func (m *Manager) ListPLCs() []*ManagedPLC {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ManagedPLC, 0, len(m.plcs))
	for _, p := range m.plcs {
		out = append(out, p)
	}
	return out
}

// Connect establishes a pooled session for name and starts polling its
// configured tags. Reconnecting an already-connected PLC is a no-op.
func (m *Manager) Connect(name string) error {
	plc := m.GetPLC(name)
	if plc == nil {
		return errs.New(errs.KindConfiguration, "supervisor: unknown PLC %q", name)
	}
	if plc.GetStatus() == StatusConnected {
		return nil
	}
	plc.setStatus(StatusConnecting, nil)

	var opts []session.Option
	if len(plc.Config.RoutePath) > 0 {
		opts = append(opts, session.WithRoutePath(plc.Config.RoutePath))
	} else if plc.Config.Slot > 0 {
		opts = append(opts, session.WithSlot(plc.Config.Slot))
	}

	sess, err := m.pool.Get(name, opts...)
	if err != nil {
		plc.setStatus(StatusError, err)
		return err
	}

	plc.mu.Lock()
	plc.sess = sess
	plc.metadata = logix.NewMetadataCache(sess.Client())
	plc.mu.Unlock()
	plc.setStatus(StatusConnected, nil)

	if info, err := sess.Client().Identity(); err == nil {
		plc.mu.Lock()
		plc.identity = info
		plc.mu.Unlock()
	}

	m.startPolling(plc)
	m.fireStatusChange(name)
	return nil
}

// Disconnect stops polling and releases name's pooled session.
func (m *Manager) Disconnect(name string) {
	plc := m.GetPLC(name)
	if plc == nil {
		return
	}
	m.subs.Remove(name)

	plc.mu.Lock()
	plc.sess = nil
	plc.mu.Unlock()
	m.pool.Release(name)
	plc.setStatus(StatusDisconnected, nil)
	m.fireStatusChange(name)
}

// startPolling begins a Subscription over every enabled tag
// configured for plc, delivering observed values into plc.values and
// fanning changes out to registered value listeners.
func (m *Manager) startPolling(plc *ManagedPLC) {
	var tags []string
	for _, t := range plc.Config.Tags {
		if t.Enabled {
			tags = append(tags, t.Name)
		}
	}
	if len(tags) == 0 {
		return
	}

	client := plc.Client()
	if client == nil {
		return
	}

	opts := subscribe.Options{PollInterval: plc.Config.PollRate}
	m.subs.Add(plc.Config.Name, client, tags, opts, func(c subscribe.Change) {
		if !c.Stale && c.Err == nil {
			plc.recordValue(c.Tag, c.Value)
		}
		m.fireValueChange(ValueChange{PLCName: plc.Config.Name, Tag: c.Tag, Value: c.Value, Stale: c.Stale})
	})
}

// ReadTag reads a single tag directly, bypassing any active subscription.
func (m *Manager) ReadTag(plcName, tag string) (*logix.TagValue, error) {
	client, err := m.clientFor(plcName)
	if err != nil {
		return nil, err
	}
	values, err := client.Read(tag)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errs.New(errs.KindTag, "ReadTag: no value returned for %q", tag)
	}
	return values[0], nil
}

// WriteTag writes a single tag value.
func (m *Manager) WriteTag(plcName, tag string, value interface{}) error {
	client, err := m.clientFor(plcName)
	if err != nil {
		return err
	}
	return client.Write(tag, value)
}

// ExecuteBatch runs a heterogeneous batch of reads/writes against plcName
// using the configured batch packing parameters.
func (m *Manager) ExecuteBatch(plcName string, ops []batch.Operation) ([]batch.Result, error) {
	client, err := m.clientFor(plcName)
	if err != nil {
		return nil, err
	}
	cfg := batch.Config{
		MaxOperationsPerPacket: m.batchCfg.MaxOperationsPerPacket,
		MaxPacketSize:          m.batchCfg.MaxPacketSize,
		PacketTimeout:          m.batchCfg.PacketTimeout,
		ContinueOnError:        m.batchCfg.ContinueOnError,
		OptimizePacketPacking:  m.batchCfg.OptimizePacketPacking,
	}
	return batch.NewEngine(client).Execute(ops, cfg)
}

// DiscoverTags lists every tag currently visible in the controller's symbol
// table, refreshing the metadata cache as a side effect.
func (m *Manager) DiscoverTags(plcName string) ([]logix.TagInfo, error) {
	plc := m.GetPLC(plcName)
	if plc == nil {
		return nil, errs.New(errs.KindConfiguration, "supervisor: unknown PLC %q", plcName)
	}
	plc.mu.RLock()
	cache := plc.metadata
	plc.mu.RUnlock()
	if cache == nil {
		return nil, errs.New(errs.KindConnection, "DiscoverTags: %q is not connected", plcName)
	}
	if err := cache.Refresh(); err != nil {
		return nil, err
	}
	client, err := m.clientFor(plcName)
	if err != nil {
		return nil, err
	}
	return client.AllTags()
}

// GetTagMetadata returns cached metadata for tag, fetching it on a cache
// miss per the metadata cache's TTL policy.
func (m *Manager) GetTagMetadata(plcName, tag string) (logix.TagInfo, error) {
	plc := m.GetPLC(plcName)
	if plc == nil {
		return logix.TagInfo{}, errs.New(errs.KindConfiguration, "supervisor: unknown PLC %q", plcName)
	}
	plc.mu.RLock()
	cache := plc.metadata
	plc.mu.RUnlock()
	if cache == nil {
		return logix.TagInfo{}, errs.New(errs.KindConnection, "GetTagMetadata: %q is not connected", plcName)
	}
	return cache.GetTagMetadata(tag)
}

// CheckHealth pings the controller's connection with a cheap Identity
// Object read and returns a point-in-time health snapshot.
func (m *Manager) CheckHealth(plcName string) HealthStatus {
	now := time.Now()
	plc := m.GetPLC(plcName)
	if plc == nil {
		return HealthStatus{Status: "unknown", Error: "no such PLC", Timestamp: now}
	}

	plc.mu.RLock()
	sess := plc.sess
	plc.mu.RUnlock()
	if sess == nil {
		return HealthStatus{Online: false, Status: StatusDisconnected.String(), Timestamp: now}
	}

	if err := sess.Ping(); err != nil {
		return HealthStatus{Online: false, Status: StatusError.String(), Error: err.Error(), Timestamp: now}
	}
	return HealthStatus{Online: true, Status: StatusConnected.String(), Timestamp: now}
}

// UnregisterSession stops polling like Disconnect and also closes name's
// session (Session.Close: unregister, then close TCP), where Disconnect
// leaves it open for reuse. The pool keeps its entry for name; a closed
// session is not registered, so it is not handed out as an idle connection.
func (m *Manager) UnregisterSession(name string) {
	var sess *session.Session
	if plc := m.GetPLC(name); plc != nil {
		plc.mu.RLock()
		sess = plc.sess
		plc.mu.RUnlock()
	}
	m.Disconnect(name)
	if sess != nil {
		sess.Close()
	}
}

func (m *Manager) clientFor(plcName string) (*logix.Client, error) {
	plc := m.GetPLC(plcName)
	if plc == nil {
		return nil, errs.New(errs.KindConfiguration, "supervisor: unknown PLC %q", plcName)
	}
	client := plc.Client()
	if client == nil {
		return nil, errs.New(errs.KindConnection, "%q is not connected", plcName)
	}
	return client, nil
}

// AddOnValueChangeListener registers fn to be called for every tag value
// change across all managed controllers.
func (m *Manager) AddOnValueChangeListener(fn func(ValueChange)) ListenerID {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listenerCounter++
	id := ListenerID(m.listenerCounter)
	m.valueListeners[id] = fn
	return id
}

// RemoveOnValueChangeListener removes a previously registered listener.
func (m *Manager) RemoveOnValueChangeListener(id ListenerID) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.valueListeners, id)
}

// AddOnStatusChangeListener registers fn to be called with a PLC's name
// whenever its connection status changes.
func (m *Manager) AddOnStatusChangeListener(fn func(string)) ListenerID {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listenerCounter++
	id := ListenerID(m.listenerCounter)
	m.statusListeners[id] = fn
	return id
}

// RemoveOnStatusChangeListener removes a previously registered listener.
func (m *Manager) RemoveOnStatusChangeListener(id ListenerID) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.statusListeners, id)
}

func (m *Manager) fireValueChange(c ValueChange) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, fn := range m.valueListeners {
		fn(c)
	}
}

func (m *Manager) fireStatusChange(name string) {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, fn := range m.statusListeners {
		fn(name)
	}
}

// StopAll disconnects every managed controller and shuts down the
// subscription manager and connection pool.
func (m *Manager) StopAll() {
	m.subs.StopAll()
	for _, plc := range m.ListPLCs() {
		m.Disconnect(plc.Config.Name)
	}
	m.pool.Close()
}

// String implements fmt.Stringer for diagnostic logging.
func (s HealthStatus) String() string {
	return fmt.Sprintf("online=%v status=%s error=%q", s.Online, s.Status, s.Error)
}
