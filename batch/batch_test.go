package batch

import (
	"testing"

	"goenip/cip"
)

func TestPackOperations_RespectsMaxOperationsPerPacket(t *testing.T) {
	var encs []encoded
	for i := 0; i < 45; i++ {
		req, err := buildRequest(Read("Tag"))
		if err != nil {
			t.Fatalf("buildRequest: %v", err)
		}
		encs = append(encs, encoded{index: i, op: Read("Tag"), req: req})
	}

	cfg := DefaultConfig()
	cfg.MaxOperationsPerPacket = 20
	cfg.MaxPacketSize = 4000

	packets := packOperations(encs, cfg)

	total := 0
	for _, pkt := range packets {
		if len(pkt) > cfg.MaxOperationsPerPacket {
			t.Fatalf("packet has %d ops, want <= %d", len(pkt), cfg.MaxOperationsPerPacket)
		}
		total += len(pkt)
	}
	if total != len(encs) {
		t.Fatalf("packed %d operations, want %d", total, len(encs))
	}
}

func TestPackOperations_RespectsMaxPacketSize(t *testing.T) {
	var encs []encoded
	for i := 0; i < 10; i++ {
		req, err := buildRequest(Read("SomeLongerTagName"))
		if err != nil {
			t.Fatalf("buildRequest: %v", err)
		}
		encs = append(encs, encoded{index: i, op: Read("SomeLongerTagName"), req: req})
	}

	cfg := DefaultConfig()
	cfg.MaxOperationsPerPacket = 100
	cfg.MaxPacketSize = 40 // force multiple packets

	packets := packOperations(encs, cfg)
	if len(packets) < 2 {
		t.Fatalf("expected fragmentation across packets with a tiny max size, got %d packet(s)", len(packets))
	}

	for _, pkt := range packets {
		size := 2 + 2*len(pkt)
		for _, en := range pkt {
			size += requestSize(en.req)
		}
		if size > cfg.MaxPacketSize {
			t.Errorf("packet size %d exceeds MaxPacketSize %d", size, cfg.MaxPacketSize)
		}
	}
}

func TestPackOperations_PreservesOrderWithinRuns(t *testing.T) {
	ops := []Operation{
		Read("A"), Write("B", int32(1)), Read("C"), Write("D", int32(2)), Read("E"),
	}
	var encs []encoded
	for i, op := range ops {
		req, err := buildRequest(op)
		if err != nil {
			t.Fatalf("buildRequest: %v", err)
		}
		encs = append(encs, encoded{index: i, op: op, req: req})
	}

	cfg := DefaultConfig()
	cfg.OptimizePacketPacking = false
	cfg.MaxOperationsPerPacket = 100
	cfg.MaxPacketSize = 4000

	packets := packOperations(encs, cfg)
	if len(packets) != 1 {
		t.Fatalf("expected a single packet, got %d", len(packets))
	}

	var kinds []OpKind
	for _, en := range packets[0] {
		kinds = append(kinds, en.op.Kind)
	}
	// Reads (A, C, E) must precede writes (B, D), each run in original order.
	want := []OpKind{OpRead, OpRead, OpRead, OpWrite, OpWrite}
	for i, k := range want {
		if kinds[i] != k {
			t.Errorf("position %d: kind = %v, want %v", i, kinds[i], k)
		}
	}
}

func TestBuildRequest_ReadVsWrite(t *testing.T) {
	readReq, err := buildRequest(Read("Counter"))
	if err != nil {
		t.Fatalf("buildRequest(read): %v", err)
	}
	if readReq.Service != 0x4C {
		t.Errorf("read service = 0x%02X, want 0x4C", readReq.Service)
	}
	if len(readReq.Data) != 2 {
		t.Errorf("read element-count payload len = %d, want 2", len(readReq.Data))
	}

	writeReq, err := buildRequest(Write("Counter", int32(42)))
	if err != nil {
		t.Fatalf("buildRequest(write): %v", err)
	}
	if writeReq.Service != 0x53 {
		t.Errorf("write service = 0x%02X, want 0x53", writeReq.Service)
	}
	// type(2) + count(2) + DINT(4) = 8 bytes
	if len(writeReq.Data) != 8 {
		t.Errorf("write payload len = %d, want 8", len(writeReq.Data))
	}
}

func TestBuildRequest_UnsupportedValueType(t *testing.T) {
	_, err := buildRequest(Write("Tag", struct{}{}))
	if err == nil {
		t.Fatal("expected error for unsupported value type")
	}
}

func TestDecodeResult_ErrorStatus(t *testing.T) {
	op := Read("Missing")
	resp := cip.MultiServiceResponse{Status: 0x05} // path-destination-unknown
	r := decodeResult(op, resp)
	if r.Err == nil {
		t.Fatal("expected error for non-zero status")
	}
	if r.Value != nil {
		t.Error("expected nil Value on error")
	}
}

func TestDecodeResult_SuccessfulRead(t *testing.T) {
	op := Read("Counter")
	resp := cip.MultiServiceResponse{Status: 0x00, Data: []byte{0xC4, 0x00, 0x2A, 0x00, 0x00, 0x00}}
	r := decodeResult(op, resp)
	if r.Err != nil {
		t.Fatalf("unexpected error: %v", r.Err)
	}
	if r.Value == nil {
		t.Fatal("expected non-nil Value")
	}
	if r.Value.DataType != 0x00C4 {
		t.Errorf("DataType = 0x%04X, want 0x00C4", r.Value.DataType)
	}
}
