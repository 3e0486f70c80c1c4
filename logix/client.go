package logix

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"

	"goenip/errs"
)

// Client is a high-level wrapper that manages connection lifecycle
// and provides simplified methods for common PLC operations.
type Client struct {
	plc *PLC // Low-level access preserved
}

// options holds configuration options for Connect.
type options struct {
	slot            byte
	routePath       []byte
	skipForwardOpen bool
}

// Option is a functional option for Connect.
type Option func(*options)

// WithSlot configures the CPU slot for ControlLogix systems.
// This sets up backplane routing to the specified slot.
func WithSlot(slot byte) Option {
	return func(o *options) {
		o.slot = slot
		o.routePath = nil // Slot routing overrides custom route path
	}
}

// WithRoutePath configures explicit routing for the PLC.
// Use this when connecting through a gateway or communication module.
func WithRoutePath(path []byte) Option {
	return func(o *options) {
		o.routePath = path
	}
}

// WithoutConnection skips the Forward Open and uses unconnected messaging only.
// Useful when connected messaging is not supported or not desired.
func WithoutConnection() Option {
	return func(o *options) {
		o.skipForwardOpen = true
	}
}

// Connect establishes a connection to a Logix PLC at the given address.
// It attempts to establish a CIP connection (Forward Open) for efficient messaging.
// If Forward Open fails, it falls back to unconnected messaging with a warning.
func Connect(address string, opts ...Option) (*Client, error) {
	// Apply options
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Create low-level PLC connection
	plc, err := NewPLC(address)
	if err != nil {
		return nil, fmt.Errorf("Connect: %w", err)
	}

	// Configure routing
	if cfg.routePath != nil {
		plc.SetRoutePath(cfg.routePath)
	} else if cfg.slot > 0 {
		plc.SetSlotRouting(cfg.slot)
	}

	// Attempt Forward Open for connected messaging
	if !cfg.skipForwardOpen {
		err = plc.OpenConnection()
		if err != nil {
			log.Printf("Warning: Forward Open failed, using unconnected messaging: %v", err)
		}
	}

	return &Client{plc: &plc}, nil
}

// Close releases all resources associated with the client.
func (c *Client) Close() {
	if c == nil || c.plc == nil {
		return
	}
	c.plc.Close()
}

// PLC returns the underlying low-level PLC for advanced operations.
func (c *Client) PLC() *PLC {
	return c.plc
}

// IsConnected returns true if a CIP connection is established.
func (c *Client) IsConnected() bool {
	return c.plc != nil && c.plc.IsConnected()
}

// ConnectionInfo returns information about the current connection.
// Returns connected (CIP connection active), size (negotiated connection size in bytes).
// If not using connected messaging, size is 0.
func (c *Client) ConnectionInfo() (connected bool, size uint16) {
	if c == nil || c.plc == nil {
		return false, 0
	}
	return c.plc.IsConnected(), c.plc.connSize
}

// ConnectionMode returns a human-readable string describing the connection mode.
func (c *Client) ConnectionMode() string {
	if c == nil || c.plc == nil {
		return "Not connected"
	}
	if c.plc.IsConnected() {
		if c.plc.connSize == ConnectionSizeLarge {
			return "Connected (Large Forward Open, 4002 bytes)"
		}
		return "Connected (Standard Forward Open, 504 bytes)"
	}
	return "Unconnected messaging"
}

// Programs returns the list of program names in the PLC.
// Returns names like "MainProgram", "SafetyProgram", etc. (without "Program:" prefix).
func (c *Client) Programs() ([]string, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("Programs: nil client")
	}

	fullNames, err := c.plc.ListPrograms()
	if err != nil {
		return nil, fmt.Errorf("Programs: %w", err)
	}

	// Strip "Program:" prefix for cleaner API
	programs := make([]string, len(fullNames))
	for i, name := range fullNames {
		if len(name) > 8 && name[:8] == "Program:" {
			programs[i] = name[8:]
		} else {
			programs[i] = name
		}
	}

	return programs, nil
}

// ControllerTags returns all controller-scope tags (excluding program entries and system tags).
func (c *Client) ControllerTags() ([]TagInfo, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("ControllerTags: nil client")
	}

	allTags, err := c.plc.ListTags()
	if err != nil {
		return nil, fmt.Errorf("ControllerTags: %w", err)
	}

	// Filter to only readable data tags at controller scope
	var dataTags []TagInfo
	for _, t := range allTags {
		if t.IsReadable() {
			dataTags = append(dataTags, t)
		}
	}

	return dataTags, nil
}

// ProgramTags returns all tags within a specific program.
// programName can be just the name (e.g., "MainProgram") or full form ("Program:MainProgram").
func (c *Client) ProgramTags(program string) ([]TagInfo, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("ProgramTags: nil client")
	}

	tags, err := c.plc.ListProgramTags(program)
	if err != nil {
		return nil, fmt.Errorf("ProgramTags: %w", err)
	}

	// Filter to only readable data tags
	var dataTags []TagInfo
	for _, t := range tags {
		if t.IsReadable() {
			dataTags = append(dataTags, t)
		}
	}

	return dataTags, nil
}

// AllTags returns all readable tags (controller-scope and program-scope).
// This excludes program entries, routines, and system tags.
func (c *Client) AllTags() ([]TagInfo, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("AllTags: nil client")
	}

	tags, err := c.plc.ListDataTags()
	if err != nil {
		return nil, fmt.Errorf("AllTags: %w", err)
	}

	return tags, nil
}

// ReadBit reads a single bit from a "Name.BitN" path (0 <= N <= 31).
// Implemented as a DINT read followed by bit extraction, per the core's
// path grammar: bit access is not a distinct wire operation.
func (c *Client) ReadBit(path string) (bool, error) {
	if c == nil || c.plc == nil {
		return false, fmt.Errorf("ReadBit: nil client")
	}
	base, bit, ok, err := parseBitAccess(path)
	if err != nil {
		return false, fmt.Errorf("ReadBit: %w", err)
	}
	if !ok {
		return false, errs.New(errs.KindTag, "ReadBit: %q is not a Name.BitN path", path)
	}
	tag, err := c.plc.ReadTag(base)
	if err != nil {
		return false, fmt.Errorf("ReadBit: %w", err)
	}
	if len(tag.Bytes) < 4 {
		return false, errs.New(errs.KindInvalidData, "ReadBit: insufficient data for DINT read of %q", base)
	}
	word := binary.LittleEndian.Uint32(tag.Bytes)
	return word&(1<<uint(bit)) != 0, nil
}

// WriteBit sets or clears a single bit at a "Name.BitN" path via
// read-modify-write. This is NOT atomic: a concurrent write to the same
// DINT between the read and the write is a lost update. Callers needing
// atomicity should issue a masked write themselves or serialize access.
func (c *Client) WriteBit(path string, val bool) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("WriteBit: nil client")
	}
	base, bit, ok, err := parseBitAccess(path)
	if err != nil {
		return fmt.Errorf("WriteBit: %w", err)
	}
	if !ok {
		return errs.New(errs.KindTag, "WriteBit: %q is not a Name.BitN path", path)
	}
	tag, err := c.plc.ReadTag(base)
	if err != nil {
		return fmt.Errorf("WriteBit: %w", err)
	}
	if len(tag.Bytes) < 4 {
		return errs.New(errs.KindInvalidData, "WriteBit: insufficient data for DINT read of %q", base)
	}
	word := binary.LittleEndian.Uint32(tag.Bytes)
	if val {
		word |= 1 << uint(bit)
	} else {
		word &^= 1 << uint(bit)
	}
	data := binary.LittleEndian.AppendUint32(nil, word)
	return c.plc.WriteTag(base, TypeDINT, data)
}

// Read reads one or more tags by name and returns their values.
// Each tag in the result includes its own error status (nil if successful).
// The method returns an error only for transport-level failures.
// Paths ending in ".BitN" are transparently resolved via ReadBit; the
// result carries a synthesized BOOL TagValue for that bit.
func (c *Client) Read(tagNames ...string) ([]*TagValue, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("Read: nil client")
	}
	if len(tagNames) == 0 {
		return nil, nil
	}

	var bitNames, plainNames []string
	for _, n := range tagNames {
		if _, _, ok, _ := parseBitAccess(n); ok {
			bitNames = append(bitNames, n)
		} else {
			plainNames = append(plainNames, n)
		}
	}
	if len(bitNames) > 0 {
		results := make([]*TagValue, 0, len(tagNames))
		plain, err := c.readPlain(plainNames)
		if err != nil {
			return nil, err
		}
		plainByName := make(map[string]*TagValue, len(plain))
		for _, tv := range plain {
			plainByName[tv.Name] = tv
		}
		for _, name := range tagNames {
			if _, _, ok, _ := parseBitAccess(name); ok {
				b, err := c.ReadBit(name)
				tv := &TagValue{Name: name, DataType: TypeBOOL, Error: err}
				if err == nil {
					if b {
						tv.Bytes = []byte{1}
					} else {
						tv.Bytes = []byte{0}
					}
				}
				results = append(results, tv)
			} else if tv, ok := plainByName[name]; ok {
				results = append(results, tv)
			}
		}
		return results, nil
	}

	return c.readPlain(tagNames)
}

// readPlain reads ordinary (non-bit-access) tag paths in batches.
func (c *Client) readPlain(tagNames []string) ([]*TagValue, error) {
	if len(tagNames) == 0 {
		return nil, nil
	}

	// Determine batch size based on connection mode
	batchSize := 5 // Conservative for unconnected messaging
	if c.plc.IsConnected() {
		batchSize = 50
	}

	results := make([]*TagValue, 0, len(tagNames))

	// Process in batches
	for i := 0; i < len(tagNames); i += batchSize {
		end := i + batchSize
		if end > len(tagNames) {
			end = len(tagNames)
		}
		batch := tagNames[i:end]

		tags, err := c.plc.ReadMultiple(batch)
		if err != nil {
			// Transport-level failure - mark all tags in batch as failed
			for _, name := range batch {
				results = append(results, &TagValue{
					Name:  name,
					Error: err,
				})
			}
			continue
		}

		// Convert results
		for j, tag := range tags {
			if tag == nil {
				results = append(results, &TagValue{
					Name:  batch[j],
					Error: fmt.Errorf("tag read failed"),
				})
			} else {
				results = append(results, &TagValue{
					Name:     tag.Name,
					DataType: tag.DataType,
					Bytes:    tag.Bytes,
					Error:    nil,
				})
			}
		}
	}

	return results, nil
}

// ReadAll discovers and reads all readable tags from the PLC.
// This is a convenience method that combines AllTags() and Read().
func (c *Client) ReadAll() ([]*TagValue, error) {
	if c == nil || c.plc == nil {
		return nil, fmt.Errorf("ReadAll: nil client")
	}

	tags, err := c.AllTags()
	if err != nil {
		return nil, fmt.Errorf("ReadAll: %w", err)
	}

	tagNames := make([]string, len(tags))
	for i, t := range tags {
		tagNames[i] = t.Name
	}

	return c.Read(tagNames...)
}

// Write writes a value to a tag. The value type is inferred and converted appropriately.
// Supported value types: bool, int/int8/int16/int32/int64, uint/uint8/uint16/uint32/uint64,
// float32/float64, string.
func (c *Client) Write(tagName string, value interface{}) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("Write: nil client")
	}

	if _, _, ok, err := parseBitAccess(tagName); ok || err != nil {
		if err != nil {
			return fmt.Errorf("Write: %w", err)
		}
		b, isBool := value.(bool)
		if !isBool {
			return errs.New(errs.KindTag, "Write: %q is a bit-access path, value must be bool, got %T", tagName, value)
		}
		return c.WriteBit(tagName, b)
	}

	dataType, data, err := EncodeValue(value)
	if err != nil {
		return fmt.Errorf("Write: %w", err)
	}
	return c.plc.WriteTag(tagName, dataType, data)
}

// WriteBool writes a boolean value to a tag.
func (c *Client) WriteBool(tagName string, val bool) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("WriteBool: nil client")
	}
	data := []byte{0}
	if val {
		data[0] = 1
	}
	return c.plc.WriteTag(tagName, TypeBOOL, data)
}

// WriteInt writes an integer value to a tag.
// Writes as DINT (32-bit signed integer).
func (c *Client) WriteInt(tagName string, val int64) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("WriteInt: nil client")
	}
	data := binary.LittleEndian.AppendUint32(nil, uint32(val))
	return c.plc.WriteTag(tagName, TypeDINT, data)
}

// WriteFloat writes a floating-point value to a tag.
// Writes as REAL (32-bit float).
func (c *Client) WriteFloat(tagName string, val float64) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("WriteFloat: nil client")
	}
	data := binary.LittleEndian.AppendUint32(nil, math.Float32bits(float32(val)))
	return c.plc.WriteTag(tagName, TypeREAL, data)
}

// WriteString writes a string value to a tag.
// Writes as AB structured STRING: fixed 88 bytes (4-byte Len + 82-byte buffer).
func (c *Client) WriteString(tagName string, val string) error {
	if c == nil || c.plc == nil {
		return fmt.Errorf("WriteString: nil client")
	}
	data, err := encodeABString(val)
	if err != nil {
		return fmt.Errorf("WriteString: %w", err)
	}
	return c.plc.WriteTag(tagName, TypeSTRING, data)
}
