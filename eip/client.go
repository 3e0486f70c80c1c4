package eip

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"goenip/errs"
	"goenip/logging"
)

const (
	NOP               uint16 = 0x00
	RegisterSession   uint16 = 0x65
	UnRegisterSession uint16 = 0x66
	SendRRData        uint16 = 0x6F
	SendUnitData      uint16 = 0x70
)

// EipClient owns a single TCP connection to a controller's ENIP port and the
// session handle registered over it.
type EipClient struct {
	ipAddr  string
	port    uint16
	conn    net.Conn
	session uint32
	timeout time.Duration
	mu      sync.Mutex
}

func (e *EipClient) GetAddr() string {
	if e == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ipAddr
}

func (e *EipClient) GetTimeout() time.Duration {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeout
}

func (e *EipClient) GetSession() uint32 {
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

func (e *EipClient) SetTimeout(dur time.Duration) error {
	if e == nil {
		return errs.New(errs.KindConfiguration, "set timeout: nil client")
	}
	e.mu.Lock()
	e.timeout = dur
	e.mu.Unlock()
	return nil
}

func (e *EipClient) IsConnected() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// defaultEipTimeout is the per-transaction read/write deadline applied when
// a client is constructed without an explicit override.
const defaultEipTimeout = 5 * time.Second

// NewEipClient builds a client for the default EtherNet/IP port (44818).
func NewEipClient(ipaddr string) *EipClient {
	return &EipClient{
		ipAddr:  ipaddr,
		port:    44818,
		timeout: defaultEipTimeout,
	}
}

// NewEipClientWithPort allows a non-default ENIP port.
func NewEipClientWithPort(ipaddr string, port uint16) *EipClient {
	return &EipClient{
		ipAddr:  ipaddr,
		port:    port,
		timeout: defaultEipTimeout,
	}
}

// Connect dials the controller and registers a session over the new
// connection, replacing any prior connection/session atomically.
func (e *EipClient) Connect() error {
	if e == nil {
		return errs.New(errs.KindConfiguration, "connect: nil client")
	}

	e.mu.Lock()
	connString := e.ipAddr + ":" + strconv.Itoa(int(e.port))
	timeout := e.timeout
	e.mu.Unlock()

	logging.DebugConnect("EIP", connString)

	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", connString)
	if err != nil {
		logging.DebugConnectError("EIP", connString, err)
		return errs.Wrap(errs.KindIO, err, "connect: dial %s failed", connString)
	}

	logging.DebugLog("EIP", "TCP connection established to %s", connString)

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}

	e.mu.Lock()
	oldConn := e.conn
	oldSession := e.session

	e.conn = conn
	e.session = 0

	session, err := e.registerSession()
	if err != nil {
		e.conn = oldConn
		e.session = oldSession
		e.mu.Unlock()
		_ = conn.Close()
		logging.DebugError("EIP", "RegisterSession", err)
		return errs.Wrap(errs.KindConnection, err, "connect: register session failed")
	}

	e.session = session
	e.mu.Unlock()

	logging.DebugConnectSuccess("EIP", connString, fmt.Sprintf("session=0x%08X", session))

	if oldConn != nil {
		_ = oldConn.Close()
	}
	return nil
}

// Disconnect unregisters the session (best-effort) and closes the socket.
// A nil client or a client with no active connection is a no-op.
func (e *EipClient) Disconnect() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		e.session = 0
		return nil
	}

	logging.DebugDisconnect("EIP", e.ipAddr, "client disconnect requested")

	if e.session != 0 {
		return e.unRegisterSession()
	}

	err := e.conn.Close()
	e.conn = nil
	e.session = 0
	return err
}

func (e *EipClient) registerSession() (uint32, error) {
	if e == nil || e.conn == nil {
		return 0, errs.New(errs.KindConnection, "register session: not connected")
	}

	msg := EipEncap{
		command: RegisterSession,
		length:  4,
		data:    []byte{1, 0, 0, 0},
	}

	resp, err := e.transactEncap(msg)
	if err != nil {
		return 0, errs.Wrap(errs.KindConnection, err, "register session: transaction failed")
	}

	if resp.status != 0 {
		return 0, errs.New(errs.KindConnection, "register session: encapsulation status=0x%08x", resp.status)
	}
	if resp.sessionHandle == 0 {
		return 0, errs.New(errs.KindConnection, "register session: controller returned session_handle=0")
	}

	return resp.sessionHandle, nil
}

// unRegisterSession sends the De-Register Session command and tears down
// the local connection state regardless of whether the send succeeds — the
// caller is closing the client either way.
func (e *EipClient) unRegisterSession() error {
	if e == nil || e.conn == nil {
		return nil
	}
	if e.session == 0 {
		return nil
	}

	msg := EipEncap{
		command:       UnRegisterSession,
		sessionHandle: e.session,
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	err := e.sendEncap(msg)

	e.session = 0
	e.conn.Close()
	e.conn = nil

	return err
}

// transactEncap sends msg and blocks for the matching reply, bounding both
// legs by the client's configured timeout.
func (e *EipClient) transactEncap(msg EipEncap) (*EipEncap, error) {
	if e == nil {
		return nil, errs.New(errs.KindConfiguration, "transact: nil client")
	}
	if e.conn == nil {
		return nil, errs.New(errs.KindConnection, "transact: not connected")
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})
	if err := e.sendEncap(msg); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "transact: send failed")
	}

	_ = e.conn.SetReadDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetReadDeadline(time.Time{})
	resp, err := e.recvEncap()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "transact: read response failed")
	}

	return resp, nil
}

// sendEncap writes one encapsulated message. Callers hold e.mu and are
// expected to bound the write with a deadline first.
func (e *EipClient) sendEncap(msg EipEncap) error {
	if e == nil || e.conn == nil {
		return errs.New(errs.KindConnection, "send: not connected")
	}
	data := msg.Bytes()
	logging.DebugTX("EIP", data)
	_, err := e.conn.Write(data)
	if err != nil {
		logging.DebugError("EIP", "sendEncap write", err)
		return errs.Wrap(errs.KindIO, err, "send: write failed")
	}
	return nil
}

// recvEncap reads one encapsulated reply: a fixed header followed by its
// declared payload length.
func (e *EipClient) recvEncap() (*EipEncap, error) {
	if e == nil || e.conn == nil {
		return nil, errs.New(errs.KindConnection, "receive: not connected")
	}

	header := make([]byte, encapHeaderSize)
	if _, err := io.ReadFull(e.conn, header); err != nil {
		logging.DebugError("EIP", "recvEncap read header", err)
		return nil, errs.Wrap(errs.KindIO, err, "receive: read header failed")
	}

	payloadLength := binary.LittleEndian.Uint16(header[2:4])
	sessionHandle := binary.LittleEndian.Uint32(header[4:8])

	if payloadLength > 65511 {
		logging.DebugLog("EIP", "RX excessive payload length: %d", payloadLength)
		return nil, errs.New(errs.KindProtocol, "receive: payload length %d exceeds maximum", payloadLength)
	}
	// Session 0 in a response is always valid (ListIdentity and similar);
	// otherwise the reply must echo our registered session.
	if sessionHandle != 0 && e.session != 0 && sessionHandle != e.session {
		logging.DebugLog("EIP", "RX session mismatch: expected 0x%08X, got 0x%08X", e.session, sessionHandle)
		return nil, errs.New(errs.KindSession, "receive: session mismatch, want 0x%08X got 0x%08X", e.session, sessionHandle)
	}

	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(e.conn, payload); err != nil {
		logging.DebugError("EIP", "recvEncap read payload", err)
		return nil, errs.Wrap(errs.KindIO, err, "receive: read payload failed")
	}

	fullPacket := append(header, payload...)
	logging.DebugRX("EIP", fullPacket)

	var ctx [8]byte
	copy(ctx[:], header[12:20])

	return &EipEncap{
		command:       binary.LittleEndian.Uint16(header[:2]),
		length:        payloadLength,
		sessionHandle: sessionHandle,
		status:        binary.LittleEndian.Uint32(header[8:12]),
		context:       ctx,
		options:       binary.LittleEndian.Uint32(header[20:24]),
		data:          payload,
	}, nil
}

// wrapAndTransact wraps packet in an EipCommandData envelope, sends it under
// the given encapsulation command, and decodes the reply back into a
// EipCommonPacket. Shared by SendRRData and SendUnitDataTransaction.
func (e *EipClient) wrapAndTransact(command uint16, packet EipCommonPacket) (*EipCommonPacket, error) {
	packetBytes := packet.Bytes()
	if len(packetBytes) == 0 {
		return nil, errs.New(errs.KindInvalidData, "wrapAndTransact: empty CIP request")
	}

	cmdBytes := (&EipCommandData{packet: packetBytes}).Bytes()

	req := EipEncap{
		command:       command,
		length:        uint16(len(cmdBytes)),
		sessionHandle: e.session,
		data:          cmdBytes,
	}

	resp, err := e.transactEncap(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "wrapAndTransact: transaction failed")
	}
	if resp.status != 0 {
		return nil, errs.New(errs.KindProtocol, "wrapAndTransact: encapsulation status=0x%08x", resp.status)
	}

	cdata, err := ParseEipCommandData(resp.data)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "wrapAndTransact: parse command data failed")
	}

	cpacket, err := ParseEipCommonPacket(cdata.packet)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "wrapAndTransact: parse common packet failed")
	}

	return cpacket, nil
}

// SendRRData sends an unconnected explicit message and waits for its reply.
// Requires a live TCP connection and a registered session.
func (e *EipClient) SendRRData(packet EipCommonPacket) (*EipCommonPacket, error) {
	if e == nil {
		return nil, errs.New(errs.KindConfiguration, "send RR data: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, errs.New(errs.KindConnection, "send RR data: not connected")
	}
	if e.session == 0 {
		return nil, errs.New(errs.KindSession, "send RR data: no registered session")
	}

	return e.wrapAndTransact(SendRRData, packet)
}

// SendUnitData sends a connected explicit message without waiting for a
// reply (used for the fire-and-forget leg of connected messaging).
func (e *EipClient) SendUnitData(packet EipCommonPacket) error {
	if e == nil {
		return errs.New(errs.KindConfiguration, "send unit data: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return errs.New(errs.KindConnection, "send unit data: not connected")
	}
	if e.session == 0 {
		return errs.New(errs.KindSession, "send unit data: no registered session")
	}

	packetBytes := packet.Bytes()
	if len(packetBytes) == 0 {
		return errs.New(errs.KindInvalidData, "send unit data: empty CIP request")
	}

	cmdBytes := (&EipCommandData{packet: packetBytes}).Bytes()

	req := EipEncap{
		command:       SendUnitData,
		length:        uint16(len(cmdBytes)),
		sessionHandle: e.session,
		data:          cmdBytes,
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	if err := e.sendEncap(req); err != nil {
		return errs.Wrap(errs.KindIO, err, "send unit data: transmit failed")
	}
	return nil
}

// SendUnitDataTransaction is the connected-messaging equivalent of
// SendRRData: it sends a connected message and waits for the reply.
func (e *EipClient) SendUnitDataTransaction(packet EipCommonPacket) (*EipCommonPacket, error) {
	if e == nil {
		return nil, errs.New(errs.KindConfiguration, "send unit data transaction: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, errs.New(errs.KindConnection, "send unit data transaction: not connected")
	}
	if e.session == 0 {
		return nil, errs.New(errs.KindSession, "send unit data transaction: no registered session")
	}

	return e.wrapAndTransact(SendUnitData, packet)
}

// SendNop issues the EIP No-Op command (0x00), a cheap way to validate the
// connection is still responsive without touching session state.
func (e *EipClient) SendNop() error {
	if e == nil {
		return errs.New(errs.KindConfiguration, "send nop: nil client")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return errs.New(errs.KindConnection, "send nop: not connected")
	}

	msg := EipEncap{
		command:       NOP,
		sessionHandle: e.session,
	}

	_ = e.conn.SetWriteDeadline(time.Now().Add(e.timeout))
	defer e.conn.SetWriteDeadline(time.Time{})

	if err := e.sendEncap(msg); err != nil {
		return errs.Wrap(errs.KindIO, err, "send nop: transmit failed")
	}

	return nil
}
