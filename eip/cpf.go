package eip

// Code related to the CommonPacket Format for EIP per ODVA v1.4

import (
	"encoding/binary"

	"goenip/errs"
)

const (
	CpfAddressNullId              uint16 = 0x00
	CpfTypeListIdentityResponseId uint16 = 0x0C
	CpfAddressConnectionId        uint16 = 0xA1
	CpfConnectedTransportPacketId uint16 = 0xB1
	CpfUnconnectedMessageId       uint16 = 0xB2
	CpfListServicesResponseId     uint16 = 0x100
	CpfSockAddrInfoOtoTId         uint16 = 0x8000
	CpfSockAddrInfoTtoOId         uint16 = 0x8001
	CpfSequencedAddressId         uint16 = 0x8002
)

// Cpf consists of a wrapper for data items.
type EipCommonPacket struct {
	Items []EipCommonPacketItem
}

// Common Packet Item format used for Data and Address items.
type EipCommonPacketItem struct {
	TypeId uint16
	Length uint16
	Data   []byte
}

type EipCpfNullAddressItem struct {
	TypeId uint16
	Length uint16
}

type EipCpfConnectedAddressItem struct {
	TypeId               uint16
	Length               uint16
	ConnectionIdentifier uint32
}

type EipCpfSequencedAddressItem struct {
	TypeId               uint16
	Length               uint16
	ConnectionIdentifier uint32
	SequenceNumber       uint32
}

type EipCpfUnconnectedDataItem struct {
	TypeId uint16
	Length uint16
	Data   []byte
}

type EipCpfConnectedDataItem struct {
	TypeId uint16
	Length uint16
	Data   []byte
}

type EipCpfSockaddrInfoItem struct {
	TypeId    uint16
	Length    uint16
	SinFamily int16
	SinPort   uint16
	SinAddr   uint32
	SinZero   [8]byte
}

// Generate a Little-Endian Encoded byte representation of the CommonPacket.
func (p *EipCommonPacket) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, uint16(len(p.Items)))
	for _, value := range p.Items {
		raw = append(raw, value.Bytes()...)
	}
	return raw
}

// Generate a Little-Endian encoded byte representation of the CommonPacketItem.
func (item *EipCommonPacketItem) Bytes() []byte {
	raw := binary.LittleEndian.AppendUint16(nil, item.TypeId)
	raw = binary.LittleEndian.AppendUint16(raw, item.Length)
	raw = append(raw, item.Data...)
	return raw
}

// ParseEipCommonPacket parses a list of CommonPacketItems from a raw byte
// stream: a 2-byte item count followed by that many [type(2) length(2) data]
// entries.
func ParseEipCommonPacket(raw []byte) (*EipCommonPacket, error) {
	if len(raw) < 2 {
		return nil, errs.New(errs.KindProtocol, "common packet format: too short, need at least 2 bytes, got %d", len(raw))
	}

	itemCount := binary.LittleEndian.Uint16(raw[:2])
	raw = raw[2:]

	if itemCount > 0 && len(raw) == 0 {
		return nil, errs.New(errs.KindProtocol, "common packet format: item count %d but no bytes remain", itemCount)
	}

	items := make([]EipCommonPacketItem, 0, itemCount)
	for i := uint16(0); i < itemCount; i++ {
		if len(raw) < 4 {
			return nil, errs.New(errs.KindProtocol, "common packet format: truncated item header at item %d: have %d bytes", i, len(raw))
		}

		typeID := binary.LittleEndian.Uint16(raw[:2])
		length := binary.LittleEndian.Uint16(raw[2:4])

		need := int(4 + length)
		if len(raw) < need {
			return nil, errs.New(errs.KindProtocol, "common packet format: insufficient data for item %d: need %d bytes, have %d", i, need, len(raw))
		}

		items = append(items, EipCommonPacketItem{TypeId: typeID, Length: length, Data: raw[4 : 4+length]})
		raw = raw[4+length:]
	}

	return &EipCommonPacket{Items: items}, nil
}

// Find returns the first item of the given type, or false if none is present.
func (p *EipCommonPacket) Find(typeID uint16) (EipCommonPacketItem, bool) {
	for _, item := range p.Items {
		if item.TypeId == typeID {
			return item, true
		}
	}
	return EipCommonPacketItem{}, false
}

