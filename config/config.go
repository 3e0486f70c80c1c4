// Package config handles configuration persistence for the goenip client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigListenerID is a unique identifier for a config change listener.
type ConfigListenerID string

// Config holds the complete application configuration.
type Config struct {
	Namespace    string         `yaml:"namespace"` // Required: instance namespace for topic/key isolation
	PLCs         []PLCConfig    `yaml:"plcs"`
	Pool         PoolConfig     `yaml:"pool,omitempty"`
	Subscription SubscribeConfig `yaml:"subscription,omitempty"`
	Batch        BatchConfig    `yaml:"batch,omitempty"`
	MQTT         []MQTTConfig   `yaml:"mqtt,omitempty"`
	Valkey       []ValkeyConfig `yaml:"valkey,omitempty"`
	Kafka        []KafkaConfig  `yaml:"kafka,omitempty"`
	API          APIConfig      `yaml:"api,omitempty"`
	PollRate     time.Duration  `yaml:"poll_rate"`

	// Data mutex protects all config fields against concurrent access.
	// Callers that modify config should Lock(), modify, then call UnlockAndSave().
	// Save() acquires the lock internally for callers that don't hold it.
	dataMu sync.Mutex `yaml:"-"`

	// Change listeners (not serialized)
	changeListeners map[ConfigListenerID]func() `yaml:"-"`
	listenersMu     sync.RWMutex                `yaml:"-"`
	listenerCounter uint64                      `yaml:"-"`
}

// PLCConfig stores configuration for a single Logix controller connection.
type PLCConfig struct {
	Name         string         `yaml:"name"`
	Address      string         `yaml:"address"`
	Slot         byte           `yaml:"slot"`
	RoutePath    []byte         `yaml:"route_path,omitempty"`     // explicit route, overrides Slot when set
	Enabled      bool           `yaml:"enabled"`
	DiscoverTags *bool          `yaml:"discover_tags,omitempty"` // default true
	PollRate     time.Duration  `yaml:"poll_rate,omitempty"`     // per-PLC poll rate (0 = use global)
	Timeout      time.Duration  `yaml:"timeout,omitempty"`       // connection/operation timeout (0 = driver default)
	Tags         []TagSelection `yaml:"tags,omitempty"`
}

// SupportsDiscovery returns whether tag discovery should run for this PLC.
func (p *PLCConfig) SupportsDiscovery() bool {
	if p.DiscoverTags != nil {
		return *p.DiscoverTags
	}
	return true
}

// TagSelection represents a tag selected for republishing.
type TagSelection struct {
	Name          string   `yaml:"name"`
	Alias         string   `yaml:"alias,omitempty"`
	DataType      string   `yaml:"data_type,omitempty"` // manual type override: BOOL, INT, DINT, REAL, etc.
	Enabled       bool     `yaml:"enabled"`
	Writable      bool     `yaml:"writable,omitempty"`
	IgnoreChanges []string `yaml:"ignore_changes,omitempty"` // UDT member names to ignore for change detection
	// Service inhibit flags - when true, tag is NOT published to that service
	NoREST   bool `yaml:"no_rest,omitempty"`
	NoMQTT   bool `yaml:"no_mqtt,omitempty"`
	NoKafka  bool `yaml:"no_kafka,omitempty"`
	NoValkey bool `yaml:"no_valkey,omitempty"`
}

// PublishesToAny returns true if the tag publishes to at least one service.
func (t *TagSelection) PublishesToAny() bool {
	return !t.NoREST || !t.NoMQTT || !t.NoKafka || !t.NoValkey
}

// GetEnabledServices returns a list of service names this tag publishes to.
func (t *TagSelection) GetEnabledServices() []string {
	var services []string
	if !t.NoREST {
		services = append(services, "REST")
	}
	if !t.NoMQTT {
		services = append(services, "MQTT")
	}
	if !t.NoKafka {
		services = append(services, "Kafka")
	}
	if !t.NoValkey {
		services = append(services, "Valkey")
	}
	return services
}

// ShouldIgnoreMember returns true if the given member name is in the ignore list.
func (t *TagSelection) ShouldIgnoreMember(memberName string) bool {
	for _, ignored := range t.IgnoreChanges {
		if ignored == memberName {
			return true
		}
	}
	return false
}

// AddIgnoreMember adds a member name to the ignore list if not already present.
func (t *TagSelection) AddIgnoreMember(memberName string) {
	if !t.ShouldIgnoreMember(memberName) {
		t.IgnoreChanges = append(t.IgnoreChanges, memberName)
	}
}

// RemoveIgnoreMember removes a member name from the ignore list.
func (t *TagSelection) RemoveIgnoreMember(memberName string) {
	for i, ignored := range t.IgnoreChanges {
		if ignored == memberName {
			t.IgnoreChanges = append(t.IgnoreChanges[:i], t.IgnoreChanges[i+1:]...)
			return
		}
	}
}

// PoolConfig configures the Connection Pool component.
type PoolConfig struct {
	MaxConnections      int           `yaml:"max_connections,omitempty"`       // default 16
	IdleTimeout         time.Duration `yaml:"idle_timeout,omitempty"`          // LRU eviction of idle connections
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty"` // cheap Identity Object poll cadence
	MaxFailedAttempts   int           `yaml:"max_failed_attempts,omitempty"`   // default 3, evict after this many consecutive failures
}

// SubscribeConfig configures the Subscription Manager component.
type SubscribeConfig struct {
	PollInterval      time.Duration `yaml:"poll_interval,omitempty"`       // default 250ms
	ChannelBufferSize int           `yaml:"channel_buffer_size,omitempty"` // bounded delivery channel, drop-newest on overflow
	StaleAfterMisses  int           `yaml:"stale_after_misses,omitempty"`  // default 3 consecutive poll timeouts
	DeadbandDefault   float64       `yaml:"deadband_default,omitempty"`    // default change threshold for numeric types
}

// BatchConfig configures the Batch Engine component.
type BatchConfig struct {
	MaxOperationsPerPacket int           `yaml:"max_operations_per_packet,omitempty"` // default 20
	MaxPacketSize          int           `yaml:"max_packet_size,omitempty"`           // default 504 (unconnected), 4002 (large FO)
	PacketTimeout          time.Duration `yaml:"packet_timeout,omitempty"`            // default 5s
	ContinueOnError        bool          `yaml:"continue_on_error,omitempty"`         // when false, a failed op stops the remaining packets from being sent
	OptimizePacketPacking  bool          `yaml:"optimize_packet_packing,omitempty"`   // pack operations to minimize packet count
}

// APIConfig holds the read-only status API server configuration.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name     string `yaml:"name"`
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID  string `yaml:"client_id"`
	RootTopic string `yaml:"root_topic,omitempty"` // topic prefix; NewPublisher fills it with the namespace when empty
	UseTLS    bool   `yaml:"use_tls,omitempty"`
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name            string        `yaml:"name"`
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"` // host:port format
	Password        string        `yaml:"password,omitempty"`
	Database        int           `yaml:"database"` // Redis DB number (default 0)
	Factory         string        `yaml:"factory,omitempty"` // namespace-qualified key prefix, set by the namespace builder
	UseTLS          bool          `yaml:"use_tls,omitempty"`
	KeyTTL          time.Duration `yaml:"key_ttl,omitempty"`          // TTL for keys (0 = no expiry)
	PublishChanges  bool          `yaml:"publish_changes,omitempty"`  // publish to Pub/Sub on changes
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"` // enable write-back queue
}

// KafkaConfig holds Kafka cluster configuration for YAML persistence.
// Note: this struct uses pointer types (e.g., *bool) for optional fields to
// distinguish between "not set" (nil = use default) and "explicitly set to
// false". The kafka package has its own Config struct with non-pointer types
// for runtime use; conversion happens when loading into the kafka manager.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`

	// Tag publishing settings
	PublishChanges   bool   `yaml:"publish_changes,omitempty"`    // publish tag changes to Kafka
	Selector         string `yaml:"selector,omitempty"`           // optional sub-namespace
	AutoCreateTopics *bool  `yaml:"auto_create_topics,omitempty"` // auto-create topics if missing (default true)

	// Writeback settings
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"` // enable consuming write requests from Kafka
	ConsumerGroup   string        `yaml:"consumer_group,omitempty"`   // consumer group ID (default: goenip-{name}-writers)
	WriteMaxAge     time.Duration `yaml:"write_max_age,omitempty"`    // max age of write requests to process (default 2s)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PLCs: []PLCConfig{},
		Pool: PoolConfig{
			MaxConnections:      16,
			IdleTimeout:         5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
			MaxFailedAttempts:   3,
		},
		Subscription: SubscribeConfig{
			PollInterval:      250 * time.Millisecond,
			ChannelBufferSize: 256,
			StaleAfterMisses:  3,
		},
		Batch: BatchConfig{
			MaxOperationsPerPacket: 20,
			MaxPacketSize:          504,
			PacketTimeout:          5 * time.Second,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		PollRate: time.Second,
		MQTT:     []MQTTConfig{},
		Valkey:   []ValkeyConfig{},
		Kafka:    []KafkaConfig{},
	}
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// AddMQTT adds a new MQTT configuration.
func (c *Config) AddMQTT(mqtt MQTTConfig) {
	c.MQTT = append(c.MQTT, mqtt)
}

// RemoveMQTT removes an MQTT config by name.
func (c *Config) RemoveMQTT(name string) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT = append(c.MQTT[:i], c.MQTT[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateMQTT updates an existing MQTT configuration.
func (c *Config) UpdateMQTT(name string, updated MQTTConfig) bool {
	for i, m := range c.MQTT {
		if m.Name == name {
			c.MQTT[i] = updated
			return true
		}
	}
	return false
}

// FindValkey returns the Valkey config with the given name, or nil if not found.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// AddValkey adds a new Valkey configuration.
func (c *Config) AddValkey(valkey ValkeyConfig) {
	c.Valkey = append(c.Valkey, valkey)
}

// RemoveValkey removes a Valkey config by name.
func (c *Config) RemoveValkey(name string) bool {
	for i, v := range c.Valkey {
		if v.Name == name {
			c.Valkey = append(c.Valkey[:i], c.Valkey[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateValkey updates an existing Valkey configuration.
func (c *Config) UpdateValkey(name string, updated ValkeyConfig) bool {
	for i, v := range c.Valkey {
		if v.Name == name {
			c.Valkey[i] = updated
			return true
		}
	}
	return false
}

// FindKafka returns the Kafka config with the given name, or nil if not found.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// AddKafka adds a new Kafka configuration.
func (c *Config) AddKafka(kafka KafkaConfig) {
	c.Kafka = append(c.Kafka, kafka)
}

// RemoveKafka removes a Kafka config by name.
func (c *Config) RemoveKafka(name string) bool {
	for i, k := range c.Kafka {
		if k.Name == name {
			c.Kafka = append(c.Kafka[:i], c.Kafka[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateKafka updates an existing Kafka configuration.
func (c *Config) UpdateKafka(name string, updated KafkaConfig) bool {
	for i, k := range c.Kafka {
		if k.Name == name {
			c.Kafka[i] = updated
			return true
		}
	}
	return false
}

// DefaultPath returns the default configuration file path (~/.goenip/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".goenip", "config.yaml")
}

// Load reads configuration from a YAML file, falling back to defaults with
// a best-effort save if the file does not yet exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg.Save(path) // best-effort save of the default config
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AddOnChangeListener registers a callback to be called when the config is saved.
// Returns an ID that can be used to remove the listener later.
func (c *Config) AddOnChangeListener(cb func()) ConfigListenerID {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	if c.changeListeners == nil {
		c.changeListeners = make(map[ConfigListenerID]func())
	}

	id := ConfigListenerID(fmt.Sprintf("listener-%d", atomic.AddUint64(&c.listenerCounter, 1)))
	c.changeListeners[id] = cb
	return id
}

// RemoveOnChangeListener removes a previously registered listener.
func (c *Config) RemoveOnChangeListener(id ConfigListenerID) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	delete(c.changeListeners, id)
}

// notifyChangeListeners calls all registered change listeners.
func (c *Config) notifyChangeListeners() {
	c.listenersMu.RLock()
	listeners := make([]func(), 0, len(c.changeListeners))
	for _, cb := range c.changeListeners {
		listeners = append(listeners, cb)
	}
	c.listenersMu.RUnlock()

	// Call listeners outside the lock to avoid deadlocks
	for _, cb := range listeners {
		go cb()
	}
}

// Lock acquires the config data mutex for exclusive access.
// Use this before modifying config fields, then call UnlockAndSave.
func (c *Config) Lock() { c.dataMu.Lock() }

// Unlock releases the config data mutex without saving.
// Prefer UnlockAndSave when modifications were made.
func (c *Config) Unlock() { c.dataMu.Unlock() }

// Save acquires the lock, marshals, writes, and notifies.
// Use this when the caller does not already hold the lock.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	return c.saveLocked(path)
}

// UnlockAndSave marshals, releases the lock, writes, and notifies.
// The caller must already hold the lock via Lock().
func (c *Config) UnlockAndSave(path string) error {
	return c.saveLocked(path)
}

// saveLocked marshals config (lock must be held), unlocks, then writes and notifies.
func (c *Config) saveLocked(path string) error {
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock() // Release lock after marshal, before I/O

	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}

	c.notifyChangeListeners()
	return nil
}

// FindPLC returns the PLC config with the given name, or nil if not found.
func (c *Config) FindPLC(name string) *PLCConfig {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			return &c.PLCs[i]
		}
	}
	return nil
}

// AddPLC adds a new PLC configuration.
func (c *Config) AddPLC(plc PLCConfig) {
	c.PLCs = append(c.PLCs, plc)
}

// RemovePLC removes a PLC by name.
func (c *Config) RemovePLC(name string) bool {
	for i, plc := range c.PLCs {
		if plc.Name == name {
			c.PLCs = append(c.PLCs[:i], c.PLCs[i+1:]...)
			return true
		}
	}
	return false
}

// UpdatePLC updates an existing PLC configuration.
func (c *Config) UpdatePLC(name string, updated PLCConfig) bool {
	for i, plc := range c.PLCs {
		if plc.Name == name {
			c.PLCs[i] = updated
			return true
		}
	}
	return false
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Namespace != "" && !IsValidNamespace(c.Namespace) {
		return fmt.Errorf("invalid namespace: must contain only alphanumeric characters, hyphens, underscores, and dots")
	}
	return nil
}

// IsValidNamespace returns true if the namespace is valid.
func IsValidNamespace(ns string) bool {
	if ns == "" {
		return false
	}
	for _, r := range ns {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
