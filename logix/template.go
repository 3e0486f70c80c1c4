package logix

import (
	"encoding/binary"
	"fmt"
	"strings"

	"goenip/errs"
)

// Template represents a UDT/AOI structure definition from the PLC.
type Template struct {
	ID          uint16           // Template instance ID
	Name        string           // Structure name (e.g., "MyUDT")
	Size        uint32           // Size in bytes of structure instances
	Members     []TemplateMember // Member definitions
	MemberMap   map[string]int   // Map of member name to index in Members slice
	RawHandle   uint16           // Structure handle from PLC
	MemberCount uint16           // Number of members
}

// TemplateMember represents a single member within a UDT.
type TemplateMember struct {
	Name      string // Member name
	Type      uint16 // Type code (can be nested struct if 0x8xxx)
	Offset    uint32 // Byte offset within structure
	ArrayDims []int  // Array dimensions (nil for scalar)
	BitOffset uint8  // Bit offset for BOOL members within a byte
	Hidden    bool   // True if this is a hidden/internal member
}

// IsStructure returns true if this member is a nested structure/UDT.
func (m *TemplateMember) IsStructure() bool {
	return IsStructure(m.Type)
}

// IsArray returns true if this member is an array.
func (m *TemplateMember) IsArray() bool {
	return len(m.ArrayDims) > 0
}

// ElementCount returns the total number of elements (1 for scalar).
func (m *TemplateMember) ElementCount() int {
	if len(m.ArrayDims) == 0 {
		return 1
	}
	count := 1
	for _, d := range m.ArrayDims {
		count *= d
	}
	return count
}

// GetMember returns a member by name, or nil if not found.
func (t *Template) GetMember(name string) *TemplateMember {
	if t.MemberMap == nil {
		return nil
	}
	if idx, ok := t.MemberMap[name]; ok {
		return &t.Members[idx]
	}
	return nil
}

// templateAttributes holds the attributes fetched from the Template Object.
type templateAttributes struct {
	ObjectDefinitionSize uint32 // Attribute 4: size of definition in 32-bit words
	StructureSize        uint32 // Attribute 5 (fallback: attribute 3): size of structure instances in bytes
	MemberCount          uint16 // Attribute 2: number of members
	StructureHandle      uint16 // Attribute 1: handle/identifier
}

// GetTemplate fetches and parses a UDT template from the PLC.
// The templateID is extracted from a structure type code (lower 12 bits).
//
// Two requests drive this: Get Attribute List (0x03) against the Template
// Object to learn the definition size and member count, then one or more
// fragmented Read Tag (0x4C) requests against the same instance to pull the
// raw member-table/string-table bytes.
func (p *PLC) GetTemplate(templateID uint16) (*Template, error) {
	if templateID == 0 {
		return nil, errs.New(errs.KindTag, "get template: invalid template ID 0")
	}

	debugLogVerbose("GetTemplate: fetching template ID %d (0x%04X)", templateID, templateID)

	attrs, err := p.getTemplateAttributes(templateID)
	if err != nil {
		return nil, errs.Wrap(errs.KindTag, err, "get template %d: attributes", templateID)
	}

	debugLogVerbose("GetTemplate: attributes - defSize=%d, structSize=%d, memberCount=%d, handle=0x%04X",
		attrs.ObjectDefinitionSize, attrs.StructureSize, attrs.MemberCount, attrs.StructureHandle)

	// Definition byte count: (words * 4) - 23, rounded up to a 4-byte boundary.
	bytesToRead := (attrs.ObjectDefinitionSize * 4) - 23
	bytesToRead = ((bytesToRead + 3) / 4) * 4

	defData, err := p.readTemplateData(templateID, bytesToRead)
	if err != nil {
		return nil, errs.Wrap(errs.KindTag, err, "get template %d: definition data", templateID)
	}
	debugLogVerbose("GetTemplate: got %d bytes of definition data for template %d", len(defData), templateID)

	showLen := len(defData)
	if showLen > 64 {
		showLen = 64
	}
	debugLogVerbose("GetTemplate: first %d bytes of definition: % X", showLen, defData[:showLen])

	tmpl := &Template{
		ID:          templateID,
		Size:        attrs.StructureSize,
		MemberCount: attrs.MemberCount,
		RawHandle:   attrs.StructureHandle,
		MemberMap:   make(map[string]int),
	}

	if err := tmpl.parseDefinition(defData, int(attrs.MemberCount)); err != nil {
		return nil, errs.Wrap(errs.KindProtocol, err, "get template %d: parse definition", templateID)
	}

	// Packed BOOL bit positions aren't carried in the wire format; every
	// other member's byte offset is trusted as reported by the PLC, unless
	// that report is plainly absent (all-zero), in which case fall back to
	// computing offsets from the member types and their natural alignment.
	if tmpl.offsetsLookSuspect() {
		debugLogVerbose("GetTemplate: template %d reported no usable offsets, recomputing from member layout", templateID)
		tmpl.calculateOffsetsWithSizes(func(typeCode uint16) uint32 {
			size, err := p.GetTemplateSize(typeCode)
			if err != nil {
				return 0
			}
			return size
		})
	}
	tmpl.calculateBoolBitOffsets()

	debugLogVerbose("GetTemplate: parsed template %d %q with %d visible members", templateID, tmpl.Name, len(tmpl.MemberMap))
	return tmpl, nil
}

// offsetsLookSuspect reports whether every non-hidden member's offset is
// zero, which is how some firmware reports a definition it didn't actually
// fill in rather than a structure that legitimately has one member at
// offset 0.
func (t *Template) offsetsLookSuspect() bool {
	visible := 0
	for _, m := range t.Members {
		if m.Hidden {
			continue
		}
		visible++
		if m.Offset != 0 {
			return false
		}
	}
	return visible > 1
}

// getTemplateAttributes fetches template attributes using Get Attribute List (0x03):
// handle, member count, object definition size, and structure size (falling
// back to the member byte count attribute on controllers that don't expose
// attribute 5).
func (p *PLC) getTemplateAttributes(templateID uint16) (*templateAttributes, error) {
	path, err := classInstanceBuilder(0x6C, uint32(templateID)).Build()
	if err != nil {
		return nil, err
	}

	// [count=5][attr5][attr4][attr3][attr2][attr1], requested high-to-low so
	// attribute 5 (preferred structure size source) appears first.
	attrData := []byte{
		0x05, 0x00,
		0x05, 0x00, // Attribute 5: Structure size in bytes (UDINT)
		0x04, 0x00, // Attribute 4: Object definition size (32-bit words)
		0x03, 0x00, // Attribute 3: Member byte count (UINT, fallback)
		0x02, 0x00, // Attribute 2: Member count
		0x01, 0x00, // Attribute 1: Structure handle
	}

	reqData := make([]byte, 0, 2+len(path)+len(attrData))
	reqData = append(reqData, 0x03) // Get Attribute List service
	reqData = append(reqData, path.WordLen())
	reqData = append(reqData, path...)
	reqData = append(reqData, attrData...)

	cipResp, err := p.sendCipRequest(reqData)
	if err != nil {
		return nil, err
	}

	if len(cipResp) < 4 {
		return nil, errs.New(errs.KindProtocol, "template attributes: response too short: %d bytes", len(cipResp))
	}

	replyService := cipResp[0]
	status := cipResp[2]
	addlStatusSize := cipResp[3]

	if replyService != 0x83 {
		return nil, errs.New(errs.KindProtocol, "template attributes: unexpected reply service: 0x%02X", replyService)
	}
	if status != StatusSuccess {
		return nil, parseCipError(status, addlStatusSize, cipResp[4:])
	}

	dataStart := 4 + int(addlStatusSize)*2
	if len(cipResp) < dataStart+2 {
		return nil, errs.New(errs.KindProtocol, "template attributes: response missing attribute data")
	}

	data := cipResp[dataStart:]
	debugLogVerbose("getTemplateAttributes: raw response (%d bytes): % X", len(data), data)

	attrCount := binary.LittleEndian.Uint16(data[0:2])
	debugLogVerbose("getTemplateAttributes: got %d attributes in response", attrCount)

	attrs := &templateAttributes{}
	offset := 2

	for i := 0; i < int(attrCount) && offset+4 <= len(data); i++ {
		attrID := binary.LittleEndian.Uint16(data[offset : offset+2])
		attrStatus := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		offset += 4

		if attrStatus != 0 {
			debugLogVerbose("getTemplateAttributes: attribute %d has error status 0x%04X", attrID, attrStatus)
			offset += attributeValueSize(attrID)
			continue
		}

		switch attrID {
		case 1: // Structure handle (UINT, 2 bytes)
			if offset+2 <= len(data) {
				attrs.StructureHandle = binary.LittleEndian.Uint16(data[offset : offset+2])
				offset += 2
			}
		case 2: // Member count (UINT, 2 bytes)
			if offset+2 <= len(data) {
				attrs.MemberCount = binary.LittleEndian.Uint16(data[offset : offset+2])
				offset += 2
			}
		case 3: // Member byte count (UINT, 2 bytes) - structure size fallback
			if offset+2 <= len(data) {
				val := binary.LittleEndian.Uint16(data[offset : offset+2])
				if attrs.StructureSize == 0 {
					attrs.StructureSize = uint32(val)
				}
				offset += 2
			}
		case 4: // Object definition size (UDINT, 4 bytes)
			if offset+4 <= len(data) {
				attrs.ObjectDefinitionSize = binary.LittleEndian.Uint32(data[offset : offset+4])
				offset += 4
			}
		case 5: // Structure size (UDINT, 4 bytes)
			if offset+4 <= len(data) {
				attrs.StructureSize = binary.LittleEndian.Uint32(data[offset : offset+4])
				offset += 4
			}
		default:
			debugLogVerbose("getTemplateAttributes: unknown attribute %d", attrID)
			offset += 2
		}
	}

	if attrs.ObjectDefinitionSize == 0 {
		return nil, errs.New(errs.KindProtocol, "template attributes: missing object definition size")
	}

	return attrs, nil
}

// attributeValueSize returns how many bytes to skip for an errored
// attribute reply whose value was omitted, based on its known CIP type.
func attributeValueSize(attrID uint16) int {
	switch attrID {
	case 1, 2, 3:
		return 2
	case 4, 5:
		return 4
	default:
		return 2
	}
}

// readTemplateData reads the raw template definition bytes using Read Tag
// (0x4C) against the Template Object instance, paging through StatusPartialTransfer
// replies until the full definition has arrived.
func (p *PLC) readTemplateData(templateID uint16, totalBytes uint32) ([]byte, error) {
	path, err := classInstanceBuilder(0x6C, uint32(templateID)).Build()
	if err != nil {
		return nil, err
	}

	var allData []byte
	offset := uint32(0)

	for offset < totalBytes {
		remaining := totalBytes - offset
		chunkSize := remaining
		if chunkSize > 4000 {
			chunkSize = 4000
		}

		reqPayload := make([]byte, 6)
		binary.LittleEndian.PutUint32(reqPayload[0:4], offset)
		binary.LittleEndian.PutUint16(reqPayload[4:6], uint16(chunkSize))

		reqData := make([]byte, 0, 2+len(path)+len(reqPayload))
		reqData = append(reqData, SvcReadTag)
		reqData = append(reqData, path.WordLen())
		reqData = append(reqData, path...)
		reqData = append(reqData, reqPayload...)

		cipResp, err := p.sendCipRequest(reqData)
		if err != nil {
			if len(allData) > 0 {
				debugLogVerbose("readTemplateData: error after %d bytes: %v", len(allData), err)
				break
			}
			return nil, err
		}

		if len(cipResp) < 4 {
			if len(allData) > 0 {
				break
			}
			return nil, errs.New(errs.KindProtocol, "read template data: response too short: %d bytes", len(cipResp))
		}

		replyService := cipResp[0]
		status := cipResp[2]
		addlStatusSize := cipResp[3]

		if replyService != 0xCC {
			return nil, errs.New(errs.KindProtocol, "read template data: unexpected reply service: 0x%02X", replyService)
		}

		if status != StatusSuccess && status != StatusPartialTransfer {
			cipErr := parseCipError(status, addlStatusSize, cipResp[4:])
			if len(allData) > 0 {
				debugLogVerbose("readTemplateData: error after %d bytes: %v", len(allData), cipErr)
				break
			}
			return nil, cipErr
		}

		dataStart := 4 + int(addlStatusSize)*2
		if dataStart >= len(cipResp) {
			break
		}

		chunkData := cipResp[dataStart:]

		// Template definition data has no leading type-code byte, unlike
		// a regular Read Tag reply: it starts directly with member entries.
		allData = append(allData, chunkData...)
		offset += uint32(len(chunkData))

		debugLogVerbose("readTemplateData: read %d bytes at offset %d, total %d/%d, status=0x%02X",
			len(chunkData), offset-uint32(len(chunkData)), len(allData), totalBytes, status)

		if status == StatusSuccess {
			break
		}
	}

	if len(allData) == 0 {
		return nil, errs.New(errs.KindProtocol, "read template data: no definition data received")
	}

	return allData, nil
}

// parseDefinition parses the raw template definition bytes:
//   - memberCount * 8-byte member info entries
//   - a null-terminated string table (template name, then member names)
func (t *Template) parseDefinition(data []byte, memberCount int) error {
	if memberCount <= 0 {
		return errs.New(errs.KindProtocol, "parse definition: invalid member count: %d", memberCount)
	}

	const memberInfoSize = 8
	expectedInfoBytes := memberCount * memberInfoSize

	if len(data) < expectedInfoBytes {
		debugLogVerbose("parseDefinition: data too short for %d members (need %d bytes, have %d)",
			memberCount, expectedInfoBytes, len(data))
		memberCount = len(data) / memberInfoSize
		if memberCount == 0 {
			return errs.New(errs.KindProtocol, "parse definition: data too short: %d bytes", len(data))
		}
	}

	debugLogVerbose("parseDefinition: parsing %d members from %d bytes", memberCount, len(data))

	members := make([]TemplateMember, 0, memberCount)
	for i := 0; i < memberCount; i++ {
		idx := i * memberInfoSize
		if idx+8 > len(data) {
			break
		}

		entry := data[idx : idx+8]

		// Bytes 0-1: array size (for arrays). Bytes 2-3: type code (low 12
		// bits = base type, bits 13-14 = array dimension, bit 15 = struct
		// flag). Bytes 4-7: byte offset within the structure, as reported
		// by the PLC.
		arraySize := binary.LittleEndian.Uint16(entry[0:2])
		typeVal := binary.LittleEndian.Uint16(entry[2:4])
		memberOffset := binary.LittleEndian.Uint32(entry[4:8])

		dataTypeValue := typeVal & 0x0FFF
		isArray := (typeVal & 0x6000) >> 13

		member := TemplateMember{
			Type:   typeVal,
			Offset: memberOffset,
		}

		if isArray > 0 && arraySize > 0 {
			member.ArrayDims = []int{int(arraySize)}
		}

		if i < 5 {
			debugLogVerbose("  Member %d: raw=% X -> arraySize=%d typeVal=0x%04X offset=%d",
				i, entry, arraySize, typeVal, memberOffset)
		}

		if dataTypeValue == 0 {
			member.Hidden = true
		}

		members = append(members, member)
	}

	debugLogVerbose("parseDefinition: parsed %d member info entries", len(members))

	nameDataStart := len(members) * memberInfoSize
	if nameDataStart < len(data) {
		nameData := data[nameDataStart:]
		debugLogVerbose("parseDefinition: parsing names from %d bytes at offset %d", len(nameData), nameDataStart)
		showLen := len(nameData)
		if showLen > 128 {
			showLen = 128
		}
		debugLogVerbose("parseDefinition: string table first %d bytes: % X", showLen, nameData[:showLen])

		names := parseNullTerminatedStrings(nameData, len(members)+1)
		if len(names) > 0 {
			debugLogVerbose("parseDefinition: found %d names, first: %q", len(names), names[0])
		}

		// The first name is the template name, sometimes carrying
		// "Name;extra;info" - keep only the part before the semicolon.
		if len(names) > 0 {
			templateName := names[0]
			if idx := strings.Index(templateName, ";"); idx >= 0 {
				templateName = templateName[:idx]
			}
			t.Name = templateName
			debugLogVerbose("parseDefinition: template name extracted: %q (full: %q)", templateName, names[0])
		}

		for i := 0; i < len(members) && i+1 < len(names); i++ {
			members[i].Name = names[i+1]
			// A leading "__" or ":" marks an internal member; so does an
			// empty or control-character name.
			if len(members[i].Name) > 0 {
				name := members[i].Name
				if strings.HasPrefix(name, "__") || strings.HasPrefix(name, ":") || name[0] < 32 {
					members[i].Hidden = true
				}
			}
			if i < 10 {
				debugLogVerbose("  Assigned member %d: name=%q offset=%d type=0x%04X",
					i, members[i].Name, members[i].Offset, members[i].Type)
			}
		}
		if len(members) > 10 {
			debugLogVerbose("  ... and %d more members", len(members)-10)
		}
	}

	t.Members = members
	for i, m := range members {
		if m.Name != "" && !m.Hidden {
			t.MemberMap[m.Name] = i
		}
	}

	debugLogVerbose("parseDefinition: template %q has %d visible members (offsets from PLC)", t.Name, len(t.MemberMap))
	return nil
}

// calculateOffsetsWithSizes recomputes every member's byte offset from its
// type and natural alignment, used as a fallback when the PLC's reported
// offsets can't be trusted (see offsetsLookSuspect). sizeLookup resolves the
// byte size of a nested structure type code; BOOL members are packed into
// 32-bit hosts and get a bit position instead of a full slot.
func (t *Template) calculateOffsetsWithSizes(sizeLookup func(uint16) uint32) {
	if len(t.Members) == 0 {
		return
	}

	var offset uint32
	var boolBitPosition uint8
	var inBoolHost bool

	for i := range t.Members {
		member := &t.Members[i]
		baseType := member.Type & 0x0FFF
		isStruct := (member.Type & 0x8000) != 0

		var memberSize, alignment uint32

		if isStruct {
			memberSize = sizeLookup(member.Type)
			if memberSize == 0 {
				memberSize = 4
			}
			alignment = 4
		} else {
			switch baseType {
			case TypeBOOL:
				if !inBoolHost || boolBitPosition >= 32 {
					offset = alignTo(offset, 4)
					inBoolHost = true
					boolBitPosition = 0
				}
				member.Offset = offset
				member.BitOffset = boolBitPosition
				boolBitPosition++
				continue

			case TypeSINT, TypeUSINT:
				alignment, memberSize = 1, 1
			case TypeINT, TypeUINT:
				alignment, memberSize = 2, 2
			case TypeDINT, TypeUDINT, TypeREAL:
				alignment, memberSize = 4, 4
			case TypeLINT, TypeULINT, TypeLREAL:
				alignment, memberSize = 8, 8
			case TypeSTRING:
				alignment, memberSize = 4, 88
			case TypeShortSTRING:
				alignment, memberSize = 1, 1
			default:
				alignment, memberSize = 4, 4
			}
		}

		if baseType != TypeBOOL {
			if inBoolHost {
				offset += 4
				inBoolHost = false
				boolBitPosition = 0
			}
			offset = alignTo(offset, alignment)
		}

		member.Offset = offset

		if member.IsArray() {
			memberSize *= uint32(member.ElementCount())
		}

		offset += memberSize
	}

	debugLogVerbose("calculateOffsetsWithSizes: %s final offset=%d (template size=%d)", t.Name, offset, t.Size)
}

// calculateBoolBitOffsets assigns bit positions to BOOL members that share
// the same PLC-reported byte offset (BOOLs are packed 32 to a DINT host).
func (t *Template) calculateBoolBitOffsets() {
	if len(t.Members) == 0 {
		return
	}

	boolBitAtOffset := make(map[uint32]uint8)

	for i := range t.Members {
		member := &t.Members[i]
		baseType := member.Type & 0x0FFF

		if baseType == TypeBOOL {
			bitPos := boolBitAtOffset[member.Offset]
			member.BitOffset = bitPos
			boolBitAtOffset[member.Offset] = bitPos + 1

			if bitPos < 5 {
				debugLogVerbose("  BOOL member %q: offset=%d, bitOffset=%d", member.Name, member.Offset, bitPos)
			}
		}
	}
}

// alignTo rounds offset up to the next multiple of alignment.
func alignTo(offset, alignment uint32) uint32 {
	if alignment == 0 {
		return offset
	}
	return (offset + alignment - 1) &^ (alignment - 1)
}

// parseNullTerminatedStrings parses up to maxCount null-terminated,
// printable-ASCII strings from data.
func parseNullTerminatedStrings(data []byte, maxCount int) []string {
	var result []string
	var current []byte

	for _, b := range data {
		if b == 0 {
			if len(current) > 0 {
				result = append(result, string(current))
				current = nil
				if len(result) >= maxCount {
					break
				}
			}
		} else if b >= 32 && b < 127 {
			current = append(current, b)
		}
	}

	if len(current) > 0 && len(result) < maxCount {
		result = append(result, string(current))
	}

	return result
}

// String returns a human-readable representation of the template.
func (t *Template) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Template %q (ID: %d, Size: %d bytes)\n", t.Name, t.ID, t.Size))
	for _, m := range t.Members {
		if m.Hidden {
			continue
		}
		typeStr := TypeName(m.Type)
		if m.IsArray() {
			typeStr += fmt.Sprintf("[%d]", m.ArrayDims[0])
		}
		sb.WriteString(fmt.Sprintf("  +%04X: %s %s\n", m.Offset, m.Name, typeStr))
	}
	return sb.String()
}
