package logix

import (
	"encoding/binary"

	"goenip/cip"
	"goenip/eip"
	"goenip/errs"
	"goenip/logging"
)

var verboseLogging bool // Controls detailed template/parsing logs

// SetVerboseLogging enables or disables detailed template/parsing logs.
func SetVerboseLogging(verbose bool) {
	verboseLogging = verbose
}

// debugLog logs a message if debug logging is enabled.
func debugLog(format string, args ...interface{}) {
	logging.DebugLog("Logix", format, args...)
}

// debugLogVerbose logs detailed messages only when verbose logging is enabled.
func debugLogVerbose(format string, args ...interface{}) {
	if verboseLogging {
		logging.DebugLog("Logix", format, args...)
	}
}

// Connection size options
const (
	ConnectionSizeLarge = 4002 // Large Forward Open max size
	ConnectionSizeSmall = 504  // Standard Forward Open size
)

// OpenConnection establishes a CIP connection using Forward Open.
// This enables more efficient connected messaging for repeated operations.
// Attempts large connection size first, falls back to smaller size if rejected.
func (p *PLC) OpenConnection() error {
	if p == nil || p.Connection == nil {
		return errs.New(errs.KindConfiguration, "open connection: nil plc or connection")
	}
	if p.cipConn != nil {
		return errs.New(errs.KindConnection, "open connection: connection already open")
	}

	// Try large connection size first, then fall back to small
	sizes := []uint16{ConnectionSizeLarge, ConnectionSizeSmall}

	var lastErr error
	for _, size := range sizes {
		err := p.tryForwardOpen(size)
		if err == nil {
			return nil // Success
		}
		lastErr = err
	}

	return errs.Wrap(errs.KindConnection, lastErr, "open connection: all connection sizes failed")
}

// tryForwardOpen attempts Forward Open with the specified connection size.
func (p *PLC) tryForwardOpen(connectionSize uint16) error {
	// Build connection path to the target
	connPath := p.buildConnectionPath()

	// Create Forward Open config
	cfg := cip.DefaultForwardOpenConfig()
	cfg.ConnectionPath = connPath
	cfg.OTConnectionSize = connectionSize
	cfg.TOConnectionSize = connectionSize

	// Use standard Forward Open (0x54) for sizes ≤511, Large (0x5B) for >511
	var reqData []byte
	var connSerial uint16
	var err error
	if connectionSize <= 511 {
		reqData, connSerial, err = cip.BuildForwardOpenRequestSmall(cfg)
	} else {
		reqData, connSerial, err = cip.BuildForwardOpenRequest(cfg)
	}
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, err, "try forward open: build request")
	}

	// Forward Open is sent directly (not via UCMM routing).
	// The connection path inside Forward Open contains the route.
	cpf := &eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfAddressNullId, Length: 0, Data: nil},
			{TypeId: eip.CpfUnconnectedMessageId, Length: uint16(len(reqData)), Data: reqData},
		},
	}

	// Send via SendRRData
	resp, err := p.Connection.SendRRData(*cpf)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "try forward open: send rr data failed")
	}

	if len(resp.Items) < 2 {
		return errs.New(errs.KindProtocol, "try forward open: expected 2 CPF items, got %d", len(resp.Items))
	}

	cipResp := resp.Items[1].Data

	if len(cipResp) < 4 {
		return errs.New(errs.KindProtocol, "try forward open: response too short")
	}

	// Check CIP response status
	replyService := cipResp[0]
	status := cipResp[2]
	addlStatusSize := cipResp[3]

	// Accept reply for either Standard (0x54) or Large (0x5B) Forward Open
	if replyService != (cip.SvcForwardOpen|0x80) && replyService != (cip.SvcForwardOpenLarge|0x80) {
		return errs.New(errs.KindProtocol, "try forward open: unexpected reply service: 0x%02X", replyService)
	}

	if status != cip.StatusSuccess {
		extStatus := uint16(0)
		if addlStatusSize >= 1 && len(cipResp) >= 6 {
			extStatus = binary.LittleEndian.Uint16(cipResp[4:6])
		}
		return errs.Wrap(errs.KindConnection, cip.StatusError(status, extStatus),
			"try forward open (size=%d, path=% X)", connectionSize, connPath)
	}

	// Parse Forward Open response
	dataStart := 4 + int(addlStatusSize)*2
	if dataStart >= len(cipResp) {
		return errs.New(errs.KindProtocol, "try forward open: response missing data")
	}

	foResp, err := cip.ParseForwardOpenResponse(cipResp[dataStart:])
	if err != nil {
		return errs.Wrap(errs.KindProtocol, err, "try forward open: parse response")
	}

	// Create and store the connection
	p.cipConn = &cip.Connection{
		OTConnID:     foResp.OTConnectionID,
		TOConnID:     foResp.TOConnectionID,
		SerialNumber: connSerial,
		VendorID:     cfg.VendorID,
		OrigSerial:   cfg.OriginatorSerial,
	}
	p.connPath = connPath
	p.connSize = connectionSize

	return nil
}

// CloseConnection tears down the CIP connection using Forward Close.
func (p *PLC) CloseConnection() error {
	if p == nil || p.Connection == nil {
		return nil
	}
	if p.cipConn == nil {
		return nil // Not connected
	}

	// Build Forward Close request
	reqData, err := cip.BuildForwardCloseRequest(p.cipConn, p.connPath)
	if err != nil {
		p.cipConn = nil
		return errs.Wrap(errs.KindConfiguration, err, "close connection: build forward close request")
	}

	// Wrap in CPF for unconnected messaging
	cpf := &eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			{TypeId: eip.CpfAddressNullId, Length: 0, Data: nil},
			{TypeId: eip.CpfUnconnectedMessageId, Length: uint16(len(reqData)), Data: reqData},
		},
	}

	// Send and ignore errors (best-effort close)
	_, _ = p.Connection.SendRRData(*cpf)

	p.cipConn = nil
	p.connPath = nil
	return nil
}

// IsConnected returns true if the PLC connection is active.
// For connected messaging, this checks the CIP connection.
// For unconnected messaging, this checks the underlying EIP/TCP connection.
func (p *PLC) IsConnected() bool {
	if p == nil {
		return false
	}
	// For connected messaging, check CIP connection
	if p.cipConn != nil {
		return true
	}
	// For unconnected messaging, check TCP connection
	return p.Connection != nil && p.Connection.IsConnected()
}

// ReadTagConnected reads a tag using connected messaging.
// Requires an open connection (call OpenConnection first).
func (p *PLC) ReadTagConnected(tagName string) (*Tag, error) {
	return p.ReadTagCountConnected(tagName, 1)
}

// ReadTagCountConnected reads multiple elements using connected messaging.
func (p *PLC) ReadTagCountConnected(tagName string, count uint16) (*Tag, error) {
	if p.cipConn == nil {
		return nil, errs.New(errs.KindConnection, "read tag connected: no connection (call OpenConnection first)")
	}

	// Build the CIP request (same as unconnected)
	path, err := cip.EPath().Symbol(tagName).Build()
	if err != nil {
		return nil, errs.Wrap(errs.KindTag, err, "read tag connected: build path for %q", tagName)
	}

	reqData := make([]byte, 0, 2+len(path)+2)
	reqData = append(reqData, SvcReadTag)
	reqData = append(reqData, path.WordLen())
	reqData = append(reqData, path...)
	reqData = binary.LittleEndian.AppendUint16(reqData, count)

	// Wrap with sequence number for connected messaging
	connData := p.cipConn.WrapConnected(reqData)

	// Build CPF for connected messaging
	cpf := p.buildConnectedCpf(connData)

	// Send via SendUnitDataTransaction
	resp, err := p.Connection.SendUnitDataTransaction(*cpf)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "read tag connected %q: send unit data failed", tagName)
	}

	if len(resp.Items) < 2 {
		return nil, errs.New(errs.KindProtocol, "read tag connected %q: expected 2 CPF items", tagName)
	}

	// Unwrap connected response
	_, cipResp, err := p.cipConn.UnwrapConnected(resp.Items[1].Data)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "read tag connected %q: unwrap connected data", tagName)
	}

	// Parse the Read Tag response
	tag, err := parseReadTagResponse(cipResp, tagName)
	if err != nil {
		return nil, err
	}

	return tag, nil
}

// ReadMultiple reads multiple tags in a single request using Multiple Service Packet.
// This is more efficient than reading tags one at a time.
// Requires an open connection for best performance, but works without one too.
func (p *PLC) ReadMultiple(tagNames []string) ([]*Tag, error) {
	if len(tagNames) == 0 {
		return nil, nil
	}

	// Build individual read requests
	requests := make([]cip.MultiServiceRequest, len(tagNames))
	for i, tagName := range tagNames {
		path, err := cip.EPath().Symbol(tagName).Build()
		if err != nil {
			return nil, errs.Wrap(errs.KindTag, err, "read multiple: build path for %q", tagName)
		}

		requests[i] = cip.MultiServiceRequest{
			Service: SvcReadTag,
			Path:    path,
			Data:    []byte{0x01, 0x00}, // Element count = 1
		}
	}

	// Build Multiple Service Packet
	msData, err := cip.BuildMultipleServiceRequest(requests)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidData, err, "read multiple: build request")
	}

	// Build the complete CIP request with MSP service and path
	msPath, _ := cip.EPath().Class(0x02).Instance(1).Build() // Message Router
	reqData := make([]byte, 0, 2+len(msPath)+len(msData))
	reqData = append(reqData, cip.SvcMultipleServicePacket)
	reqData = append(reqData, msPath.WordLen())
	reqData = append(reqData, msPath...)
	reqData = append(reqData, msData...)

	var cipResp []byte

	if p.cipConn != nil {
		// Use connected messaging
		connData := p.cipConn.WrapConnected(reqData)
		cpf := p.buildConnectedCpf(connData)

		resp, err := p.Connection.SendUnitDataTransaction(*cpf)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "read multiple: send unit data failed")
		}

		if len(resp.Items) < 2 {
			return nil, errs.New(errs.KindProtocol, "read multiple: expected 2 CPF items")
		}

		_, cipResp, err = p.cipConn.UnwrapConnected(resp.Items[1].Data)
		if err != nil {
			return nil, errs.Wrap(errs.KindProtocol, err, "read multiple: unwrap connected data")
		}
	} else {
		// Use unconnected messaging
		var cpf *eip.EipCommonPacket
		if len(p.RoutePath) > 0 {
			cpf = buildRoutedCpf(reqData, p.RoutePath)
		} else {
			cpf = buildDirectCpf(reqData)
		}

		resp, err := p.Connection.SendRRData(*cpf)
		if err != nil {
			return nil, errs.Wrap(errs.KindIO, err, "read multiple: send rr data failed")
		}

		if len(resp.Items) < 2 {
			return nil, errs.New(errs.KindProtocol, "read multiple: expected 2 CPF items")
		}

		cipResp = resp.Items[1].Data

		// Unwrap UCMM if routed
		if len(p.RoutePath) > 0 {
			cipResp, err = unwrapUCMMResponse(cipResp)
			if err != nil {
				return nil, errs.Wrap(errs.KindProtocol, err, "read multiple: unwrap ucmm response")
			}
		}
	}

	// Parse Multiple Service Packet response header
	if len(cipResp) < 4 {
		return nil, errs.New(errs.KindProtocol, "read multiple: response too short")
	}

	replyService := cipResp[0]
	status := cipResp[2]
	addlStatusSize := cipResp[3]

	if replyService != (cip.SvcMultipleServicePacket | 0x80) {
		return nil, errs.New(errs.KindProtocol, "read multiple: unexpected reply service: 0x%02X", replyService)
	}

	// 0x1E ("embedded service error") means the MSP itself succeeded but one
	// or more of the embedded services failed; individual responses still
	// carry each service's own status, so keep parsing rather than fail out.
	const statusEmbeddedServiceError = 0x1E
	if status != cip.StatusSuccess && status != statusEmbeddedServiceError {
		return nil, cip.StatusError(status, 0)
	}

	// Parse individual responses
	dataStart := 4 + int(addlStatusSize)*2
	responses, err := cip.ParseMultipleServiceResponse(cipResp[dataStart:])
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "read multiple: parse response")
	}

	if len(responses) != len(tagNames) {
		return nil, errs.New(errs.KindProtocol, "read multiple: expected %d responses, got %d", len(tagNames), len(responses))
	}

	// Convert responses to Tags
	tags := make([]*Tag, len(tagNames))
	for i, resp := range responses {
		// 0x06 (partial transfer) is acceptable for reads.
		if resp.Status != cip.StatusSuccess && resp.Status != cip.StatusPartialTransfer {
			debugLogVerbose("ReadMultiple: tag %q failed: %v", tagNames[i], resp.Err())
			tags[i] = nil
			continue
		}

		if len(resp.Data) < 2 {
			tags[i] = nil
			continue
		}

		dataType := binary.LittleEndian.Uint16(resp.Data[0:2])
		tags[i] = &Tag{
			Name:     tagNames[i],
			DataType: dataType,
			Bytes:    resp.Data[2:],
		}
	}

	return tags, nil
}

// buildConnectionPath builds the connection path carried inside a Forward
// Open request: the backplane route (port/slot segment, or an explicit
// multi-hop RoutePath) followed by a Message Router (class 2, instance 1)
// segment, which is where the opened connection terminates.
func (p *PLC) buildConnectionPath() []byte {
	path := make([]byte, 0, 6)

	if len(p.RoutePath) > 0 {
		path = append(path, p.RoutePath...)
	} else {
		path = append(path, 0x01, p.Slot)
	}

	path = append(path, 0x20, 0x02, 0x24, 0x01)

	return path
}

// Keepalive sends a NOP (No Operation) via connected messaging to keep
// the CIP ForwardOpen connection alive. This should be called periodically
// when no other connected operations are being performed.
// Returns nil if not connected (unconnected messaging mode).
func (p *PLC) Keepalive() error {
	if p.cipConn == nil {
		// Not using connected messaging, nothing to keep alive
		return nil
	}

	// Build NOP request targeting Identity object (class 1, instance 1)
	// Format: service, path_size, path (class segment, instance segment)
	reqData := []byte{
		SvcNop, // Service code 0x17
		0x02,   // Path size (2 words)
		0x20, 0x01, // Class segment: class 1 (Identity)
		0x24, 0x01, // Instance segment: instance 1
	}

	// Wrap with sequence number for connected messaging
	connData := p.cipConn.WrapConnected(reqData)

	// Build CPF for connected messaging
	cpf := p.buildConnectedCpf(connData)

	// Send via SendUnitDataTransaction
	resp, err := p.Connection.SendUnitDataTransaction(*cpf)
	if err != nil {
		return errs.Wrap(errs.KindIO, err, "keepalive: send unit data failed")
	}

	if len(resp.Items) < 2 {
		return errs.New(errs.KindProtocol, "keepalive: expected 2 CPF items, got %d", len(resp.Items))
	}

	// Unwrap connected response to check status
	_, cipResp, err := p.cipConn.UnwrapConnected(resp.Items[1].Data)
	if err != nil {
		return errs.Wrap(errs.KindProtocol, err, "keepalive: unwrap connected data")
	}

	// NOP should return success; a "service not supported" reply still
	// proves the connection is alive and counts as a successful keepalive.
	if len(cipResp) >= 3 {
		status := cipResp[2]
		if status != cip.StatusSuccess && status != StatusServiceNotSupport {
			return errs.New(errs.KindConnection, "keepalive: cip status 0x%02X", status)
		}
	}

	return nil
}

// buildConnectedCpf builds a CPF packet for connected messaging.
func (p *PLC) buildConnectedCpf(data []byte) *eip.EipCommonPacket {
	return &eip.EipCommonPacket{
		Items: []eip.EipCommonPacketItem{
			// Connected Address Item carrying the O->T connection ID.
			{
				TypeId: eip.CpfAddressConnectionId,
				Length: 4,
				Data:   binary.LittleEndian.AppendUint32(nil, p.cipConn.OTConnID),
			},
			// Connected Data Item
			{
				TypeId: eip.CpfConnectedTransportPacketId,
				Length: uint16(len(data)),
				Data:   data,
			},
		},
	}
}
