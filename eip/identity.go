package eip

import (
	"encoding/binary"
	"net"
	"time"

	"goenip/errs"
)

// Implement the ListIdentity operation.

// Identity is the parsed ListIdentity identity item.
type Identity struct {
	EncapsulationVersion uint16
	VendorID             uint16
	DeviceType           uint16
	ProductCode          uint16
	RevisionMajor        byte
	RevisionMinor        byte
	Status               uint16
	SerialNumber         uint32
	ProductName          string
	State                byte

	IP   net.IP
	Port uint16
}

// ListIdentityTCP issues ListIdentity (encapsulation command 0x63) over an
// already-established TCP session, reusing the same payload parser as the
// UDP broadcast path. This is not broadcast discovery: it asks the
// connected target to identify itself and returns zero or more Identity
// records (usually exactly one).
func (e *EipClient) ListIdentityTCP() ([]Identity, error) {
	if e == nil {
		return nil, errs.New(errs.KindConfiguration, "list identity: nil client")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == nil {
		return nil, errs.New(errs.KindConnection, "list identity: not connected")
	}

	// ListIdentity conventionally uses session_handle = 0.
	req := EipEncap{command: 0x63}

	if err := e.sendEncap(req); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "list identity: transmit failed")
	}
	resp, err := e.recvEncap()
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "list identity: read response failed")
	}
	if resp.status != 0 {
		return nil, errs.New(errs.KindProtocol, "list identity: encapsulation status=0x%08x", resp.status)
	}

	// TCP responses commonly carry 0.0.0.0 in the embedded socket address;
	// there's no UDP source IP to fall back on here, so pass nil. Vendor,
	// device type, product name, etc. still decode fine.
	idents, err := parseListIdentityPayloadToIdentities(resp.data, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "list identity: parse payload failed")
	}

	return idents, nil
}

// ListIdentityUDP broadcasts a ListIdentity (0x63) request over UDP/44818 and
// collects replies until the timeout expires.
//
// broadcastIP can be "255.255.255.255" or a directed broadcast like
// "192.168.1.255". timeout is how long to listen for responses.
func (e *EipClient) ListIdentityUDP(broadcastIP string, timeout time.Duration) ([]Identity, error) {
	if e == nil {
		return nil, errs.New(errs.KindConfiguration, "list identity udp: nil client")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return nil, errs.New(errs.KindConfiguration, "list identity udp: invalid broadcast IP: %q", broadcastIP)
	}
	ip = ip.To4()
	if ip == nil {
		return nil, errs.New(errs.KindConfiguration, "list identity udp: broadcast IP must be IPv4: %q", broadcastIP)
	}

	laddr := &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	uc, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "list identity udp: listen failed")
	}
	defer uc.Close()

	_ = uc.SetWriteBuffer(1 << 20)
	_ = uc.SetReadBuffer(1 << 20)

	// Encapsulation header is always encapHeaderSize bytes:
	// Command(2) Length(2) Session(4) Status(4) Context(8) Options(4).
	req := make([]byte, 0, encapHeaderSize)
	req = binary.LittleEndian.AppendUint16(req, 0x63) // ListIdentity
	req = binary.LittleEndian.AppendUint16(req, 0)    // length
	req = binary.LittleEndian.AppendUint32(req, 0)    // session handle (0 for discovery)
	req = binary.LittleEndian.AppendUint32(req, 0)    // status
	req = append(req, make([]byte, 8)...)             // sender context
	req = binary.LittleEndian.AppendUint32(req, 0)    // options

	raddr := &net.UDPAddr{IP: ip, Port: 44818}
	if _, err := uc.WriteToUDP(req, raddr); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "list identity udp: write failed")
	}

	deadline := time.Now().Add(timeout)
	if err := uc.SetReadDeadline(deadline); err != nil {
		return nil, errs.Wrap(errs.KindIO, err, "list identity udp: set read deadline failed")
	}

	// Collect devices, deduplicated by (IP, serial).
	type key struct {
		ip     string
		serial uint32
	}
	seen := make(map[key]struct{})
	out := make([]Identity, 0, 8)

	buf := make([]byte, 4096)
	for {
		n, src, err := uc.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return nil, errs.Wrap(errs.KindIO, err, "list identity udp: read failed")
		}
		if n < encapHeaderSize {
			continue
		}

		cmd := binary.LittleEndian.Uint16(buf[0:2])
		if cmd != 0x63 {
			continue
		}
		length := int(binary.LittleEndian.Uint16(buf[2:4]))
		status := binary.LittleEndian.Uint32(buf[8:12])
		if status != 0 {
			continue
		}
		if encapHeaderSize+length > n {
			continue
		}

		payload := buf[encapHeaderSize : encapHeaderSize+length]

		idents, err := parseListIdentityPayloadToIdentities(payload, src.IP)
		if err != nil {
			// Ignore malformed replies rather than failing discovery outright.
			continue
		}

		for _, id := range idents {
			k := key{ip: id.IP.String(), serial: id.SerialNumber}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, id)
		}
	}

	return out, nil
}

func parseListIdentityPayloadToIdentities(p []byte, fallbackIP net.IP) ([]Identity, error) {
	if len(p) < 2 {
		return nil, errs.New(errs.KindProtocol, "list identity payload too short: %d bytes", len(p))
	}

	count := int(binary.LittleEndian.Uint16(p[0:2]))
	off := 2

	idents := make([]Identity, 0, count)
	for i := 0; i < count; i++ {
		if off+4 > len(p) {
			return nil, errs.New(errs.KindProtocol, "list identity: truncated item header at item %d", i)
		}
		itemType := binary.LittleEndian.Uint16(p[off : off+2])
		itemLen := int(binary.LittleEndian.Uint16(p[off+2 : off+4]))
		off += 4

		if off+itemLen > len(p) {
			return nil, errs.New(errs.KindProtocol, "list identity: truncated item data at item %d", i)
		}
		itemData := p[off : off+itemLen]
		off += itemLen

		// Identity Item is commonly type 0x000C.
		if itemType == 0x000C {
			id, err := parseIdentityItemData(itemData)
			if err != nil {
				return nil, err
			}
			if id.IP == nil || id.IP.To4() == nil || id.IP.Equal(net.IPv4zero) {
				id.IP = fallbackIP
			}
			idents = append(idents, id)
		}
	}

	return idents, nil
}

func parseIdentityItemData(b []byte) (Identity, error) {
	if len(b) < 33 {
		return Identity{}, errs.New(errs.KindProtocol, "identity item too short: %d bytes", len(b))
	}
	off := 0

	encapVer := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	// Socket Address (16 bytes): family(2), port(2), addr(4), zero(8).
	if off+16 > len(b) {
		return Identity{}, errs.New(errs.KindProtocol, "identity item: socket address truncated")
	}
	sock := b[off : off+16]
	off += 16

	port := binary.BigEndian.Uint16(sock[2:4]) // network byte order
	ip := net.IPv4(sock[4], sock[5], sock[6], sock[7])

	vendor := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	devType := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2
	prodCode := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	revMaj := b[off]
	revMin := b[off+1]
	off += 2

	status := binary.LittleEndian.Uint16(b[off : off+2])
	off += 2

	serial := binary.LittleEndian.Uint32(b[off : off+4])
	off += 4

	nameLen := int(b[off])
	off++

	if off+nameLen > len(b) {
		return Identity{}, errs.New(errs.KindProtocol, "identity item: product name truncated: need %d bytes, have %d", nameLen, len(b)-off)
	}
	name := string(b[off : off+nameLen])
	off += nameLen

	if off >= len(b) {
		return Identity{}, errs.New(errs.KindProtocol, "identity item: missing state byte")
	}
	state := b[off]

	return Identity{
		EncapsulationVersion: encapVer,
		VendorID:             vendor,
		DeviceType:           devType,
		ProductCode:          prodCode,
		RevisionMajor:        revMaj,
		RevisionMinor:        revMin,
		Status:               status,
		SerialNumber:         serial,
		ProductName:          name,
		State:                state,
		IP:                   ip,
		Port:                 port,
	}, nil
}
