// Package batch packs heterogeneous tag read/write operations into CIP
// Multiple Service Packet requests, fragmenting across packets when a batch
// would not fit in one, and demultiplexing results back to input order.
package batch

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"goenip/cip"
	"goenip/errs"
	"goenip/logix"
)

// OpKind identifies whether an Operation reads or writes a tag.
type OpKind int

const (
	OpRead OpKind = iota
	OpWrite
)

// Operation is one entry in a batch: a single tag-scoped read or write.
type Operation struct {
	Kind  OpKind
	Tag   string
	Value interface{} // used for OpWrite only
}

// Read builds a read Operation for tag.
func Read(tag string) Operation { return Operation{Kind: OpRead, Tag: tag} }

// Write builds a write Operation for tag with value.
func Write(tag string, value interface{}) Operation {
	return Operation{Kind: OpWrite, Tag: tag, Value: value}
}

// Result is the outcome of one Operation, returned in the same position as
// its Operation appeared in the input slice regardless of how Execute packed
// or fragmented the batch across packets.
type Result struct {
	Operation Operation
	Value     *logix.TagValue // set on a successful OpRead
	Err       error
	ElapsedUs int64
}

// WritePair is a tag/value pair for the WriteTagsBatch convenience facade.
type WritePair struct {
	Tag   string
	Value interface{}
}

// Config controls packet packing and fragmentation behavior.
type Config struct {
	MaxOperationsPerPacket int
	MaxPacketSize          int
	PacketTimeout          time.Duration
	ContinueOnError        bool
	OptimizePacketPacking  bool
}

// DefaultConfig returns the spec-default batch configuration.
func DefaultConfig() Config {
	return Config{
		MaxOperationsPerPacket: 20,
		MaxPacketSize:          504,
		PacketTimeout:          3 * time.Second,
		ContinueOnError:        true,
		OptimizePacketPacking:  true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxOperationsPerPacket <= 0 {
		c.MaxOperationsPerPacket = d.MaxOperationsPerPacket
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = d.MaxPacketSize
	}
	if c.PacketTimeout <= 0 {
		c.PacketTimeout = d.PacketTimeout
	}
	return c
}

// Engine executes batches of tag operations against a single Logix
// connection, packing sub-requests into Multiple Service Packets.
type Engine struct {
	plc *logix.PLC
}

// NewEngine builds a batch Engine over an already-connected client.
func NewEngine(client *logix.Client) *Engine {
	return &Engine{plc: client.PLC()}
}

// encoded pairs a pre-built CIP sub-request with its operation and original
// input index, so packing can reorder or split work and results can still
// be demultiplexed back to the caller's order.
type encoded struct {
	index int
	op    Operation
	req   cip.MultiServiceRequest
}

// Execute runs ops against the PLC and returns one Result per operation, in
// input order, honoring cfg's packing and fragmentation behavior.
func (e *Engine) Execute(ops []Operation, cfg Config) ([]Result, error) {
	if len(ops) == 0 {
		return nil, nil
	}
	cfg = cfg.withDefaults()

	encs := make([]encoded, len(ops))
	for i, op := range ops {
		req, err := buildRequest(op)
		if err != nil {
			return nil, fmt.Errorf("batch.Execute: op %d (%q): %w", i, op.Tag, err)
		}
		encs[i] = encoded{index: i, op: op, req: req}
	}

	packets := packOperations(encs, cfg)

	results := make([]Result, len(ops))
	aborted := false
	for _, pkt := range packets {
		if aborted {
			for _, en := range pkt {
				results[en.index] = Result{
					Operation: en.op,
					Err:       errs.New(errs.KindResource, "batch aborted: an earlier packet failed and continue_on_error is false"),
				}
			}
			continue
		}

		start := time.Now()
		pktResults, err := e.sendPacket(pkt, cfg)
		elapsed := time.Since(start).Microseconds()

		if err != nil {
			for _, en := range pkt {
				results[en.index] = Result{Operation: en.op, Err: err, ElapsedUs: elapsed}
			}
			if !cfg.ContinueOnError {
				aborted = true
			}
			continue
		}

		for i, en := range pkt {
			r := pktResults[i]
			r.ElapsedUs = elapsed
			results[en.index] = r
			if r.Err != nil && !cfg.ContinueOnError {
				aborted = true
			}
		}
	}

	return results, nil
}

// ReadTagsBatch is a thin facade constructing a read-only Operation list.
func (e *Engine) ReadTagsBatch(names []string) ([]Result, error) {
	ops := make([]Operation, len(names))
	for i, n := range names {
		ops[i] = Read(n)
	}
	return e.Execute(ops, DefaultConfig())
}

// WriteTagsBatch is a thin facade constructing a write-only Operation list.
func (e *Engine) WriteTagsBatch(pairs []WritePair) ([]Result, error) {
	ops := make([]Operation, len(pairs))
	for i, p := range pairs {
		ops[i] = Write(p.Tag, p.Value)
	}
	return e.Execute(ops, DefaultConfig())
}

// buildRequest encodes an Operation into its CIP sub-request, using the same
// service codes and EPath construction as the single-tag read/write path.
func buildRequest(op Operation) (cip.MultiServiceRequest, error) {
	path, err := cip.EPath().Symbol(op.Tag).Build()
	if err != nil {
		return cip.MultiServiceRequest{}, fmt.Errorf("path: %w", err)
	}

	switch op.Kind {
	case OpRead:
		return cip.MultiServiceRequest{
			Service: logix.SvcReadTag,
			Path:    path,
			Data:    []byte{0x01, 0x00}, // element count = 1
		}, nil

	case OpWrite:
		if strings.Contains(op.Tag, ",") {
			return cip.MultiServiceRequest{}, errs.New(errs.KindTag, "write to %q: multi-dimensional subscripts are not supported", op.Tag)
		}
		dataType, data, err := logix.EncodeValue(op.Value)
		if err != nil {
			return cip.MultiServiceRequest{}, err
		}
		payload := make([]byte, 0, 4+len(data))
		payload = binary.LittleEndian.AppendUint16(payload, dataType)
		payload = binary.LittleEndian.AppendUint16(payload, 1) // element count = 1
		payload = append(payload, data...)
		return cip.MultiServiceRequest{
			Service: logix.SvcWriteTag,
			Path:    path,
			Data:    payload,
		}, nil

	default:
		return cip.MultiServiceRequest{}, fmt.Errorf("unknown operation kind %v", op.Kind)
	}
}

// requestSize is the encoded byte length of a sub-request within the
// Multiple Service Packet body (service byte + path word-len byte + path +
// data), matching BuildMultipleServiceRequest's per-entry layout.
func requestSize(req cip.MultiServiceRequest) int {
	return 2 + len(req.Path) + len(req.Data)
}

// packOperations greedily packs encoded sub-requests into packets honoring
// MaxOperationsPerPacket and MaxPacketSize. When OptimizePacketPacking is
// false, reads and writes are grouped into two contiguous runs first (reads,
// then writes) so a single packet's services are homogeneous, still subject
// to the same size constraints; relative order within each run is preserved.
func packOperations(encs []encoded, cfg Config) [][]encoded {
	items := encs
	if !cfg.OptimizePacketPacking {
		var reads, writes []encoded
		for _, en := range encs {
			if en.op.Kind == OpRead {
				reads = append(reads, en)
			} else {
				writes = append(writes, en)
			}
		}
		items = append(append([]encoded{}, reads...), writes...)
	}

	const headerBase = 2 // num_services field

	var packets [][]encoded
	var current []encoded
	currentBytes := 0
	for _, en := range items {
		subSize := requestSize(en.req)
		overhead := headerBase + 2*(len(current)+1) // offset table grows with count
		if len(current) > 0 &&
			(len(current)+1 > cfg.MaxOperationsPerPacket || overhead+currentBytes+subSize > cfg.MaxPacketSize) {
			packets = append(packets, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, en)
		currentBytes += subSize
	}
	if len(current) > 0 {
		packets = append(packets, current)
	}
	return packets
}

// sendPacket assembles, sends, and parses a single Multiple Service Packet
// for pkt, enforcing cfg.PacketTimeout around the round trip.
func (e *Engine) sendPacket(pkt []encoded, cfg Config) ([]Result, error) {
	reqs := make([]cip.MultiServiceRequest, len(pkt))
	for i, en := range pkt {
		reqs[i] = en.req
	}

	msData, err := cip.BuildMultipleServiceRequest(reqs)
	if err != nil {
		return nil, fmt.Errorf("sendPacket: %w", err)
	}

	msPath, _ := cip.EPath().Class(0x02).Instance(1).Build() // Message Router
	reqData := make([]byte, 0, 2+len(msPath)+len(msData))
	reqData = append(reqData, cip.SvcMultipleServicePacket)
	reqData = append(reqData, msPath.WordLen())
	reqData = append(reqData, msPath...)
	reqData = append(reqData, msData...)

	type sendOutcome struct {
		resp []byte
		err  error
	}
	ch := make(chan sendOutcome, 1)
	go func() {
		resp, err := e.plc.SendRaw(reqData)
		ch <- sendOutcome{resp, err}
	}()

	var cipResp []byte
	select {
	case out := <-ch:
		if out.err != nil {
			return nil, fmt.Errorf("sendPacket: %w", out.err)
		}
		cipResp = out.resp
	case <-time.After(cfg.PacketTimeout):
		return nil, errs.New(errs.KindTimeout, "batch packet timed out after %s", cfg.PacketTimeout)
	}

	if len(cipResp) < 4 {
		return nil, fmt.Errorf("sendPacket: response too short (%d bytes)", len(cipResp))
	}

	replyService := cipResp[0]
	status := cipResp[2]
	addlStatusSize := cipResp[3]

	if replyService != (cip.SvcMultipleServicePacket | 0x80) {
		return nil, fmt.Errorf("sendPacket: unexpected reply service 0x%02X", replyService)
	}
	// 0x1E "Embedded service error" means the MSP itself succeeded but one
	// or more contained services failed; fall through and let per-service
	// status carry the error for that operation alone.
	if status != 0x00 && status != 0x1E {
		return nil, cip.StatusError(status, 0)
	}

	dataStart := 4 + int(addlStatusSize)*2
	if dataStart > len(cipResp) {
		return nil, fmt.Errorf("sendPacket: response too short for additional status")
	}
	responses, err := cip.ParseMultipleServiceResponse(cipResp[dataStart:])
	if err != nil {
		return nil, fmt.Errorf("sendPacket: %w", err)
	}
	if len(responses) != len(pkt) {
		return nil, fmt.Errorf("sendPacket: expected %d responses, got %d", len(pkt), len(responses))
	}

	results := make([]Result, len(pkt))
	for i, resp := range responses {
		results[i] = decodeResult(pkt[i].op, resp)
	}
	return results, nil
}

// decodeResult converts one sub-reply into a Result for op.
func decodeResult(op Operation, resp cip.MultiServiceResponse) Result {
	// 0x06 (partial transfer) is acceptable for reads of data that spans
	// more than fits in one sub-reply; the caller sees what arrived.
	if resp.Status != cip.StatusSuccess && resp.Status != cip.StatusPartialTransfer {
		return Result{Operation: op, Err: resp.Err()}
	}

	if op.Kind == OpWrite {
		return Result{Operation: op}
	}

	if len(resp.Data) < 2 {
		return Result{Operation: op, Err: errs.New(errs.KindInvalidData, "short read response for %q", op.Tag)}
	}
	dataType := binary.LittleEndian.Uint16(resp.Data[0:2])
	return Result{
		Operation: op,
		Value:     &logix.TagValue{Name: op.Tag, DataType: dataType, Bytes: resp.Data[2:]},
	}
}
