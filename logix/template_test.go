package logix

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestTemplate_ParseDefinitionAssignsNamesAndOffsets(t *testing.T) {
	// Two members: a DINT at offset 0, a REAL at offset 4.
	data := make([]byte, 0, 16+len("MyUDT;n1,n2;0\x00Count\x00Value\x00"))
	appendMember := func(arraySize, typeCode uint16, offset uint32) []byte {
		e := make([]byte, 8)
		binary.LittleEndian.PutUint16(e[0:2], arraySize)
		binary.LittleEndian.PutUint16(e[2:4], typeCode)
		binary.LittleEndian.PutUint32(e[4:8], offset)
		return e
	}
	data = append(data, appendMember(0, TypeDINT, 0)...)
	data = append(data, appendMember(0, TypeREAL, 4)...)
	data = append(data, []byte("MyUDT;n1,n2;0\x00Count\x00Value\x00")...)

	tmpl := &Template{MemberMap: make(map[string]int)}
	if err := tmpl.parseDefinition(data, 2); err != nil {
		t.Fatalf("parseDefinition: %v", err)
	}

	if tmpl.Name != "MyUDT" {
		t.Errorf("Name = %q, want %q", tmpl.Name, "MyUDT")
	}
	if len(tmpl.Members) != 2 {
		t.Fatalf("len(Members) = %d, want 2", len(tmpl.Members))
	}
	if m := tmpl.GetMember("Count"); m == nil || m.Offset != 0 || m.Type != TypeDINT {
		t.Errorf("Count member = %+v", m)
	}
	if m := tmpl.GetMember("Value"); m == nil || m.Offset != 4 || m.Type != TypeREAL {
		t.Errorf("Value member = %+v", m)
	}
}

func TestTemplate_ParseDefinitionMarksHiddenMembers(t *testing.T) {
	data := make([]byte, 0, 8+len("UDT\x00__pad\x00"))
	e := make([]byte, 8)
	binary.LittleEndian.PutUint16(e[2:4], TypeDINT)
	data = append(data, e...)
	data = append(data, []byte("UDT\x00__pad\x00")...)

	tmpl := &Template{MemberMap: make(map[string]int)}
	if err := tmpl.parseDefinition(data, 1); err != nil {
		t.Fatalf("parseDefinition: %v", err)
	}
	if !tmpl.Members[0].Hidden {
		t.Error("member named __pad should be marked Hidden")
	}
	if len(tmpl.MemberMap) != 0 {
		t.Errorf("hidden member should not appear in MemberMap, got %v", tmpl.MemberMap)
	}
}

func TestTemplate_ParseDefinitionRejectsZeroMemberCount(t *testing.T) {
	tmpl := &Template{MemberMap: make(map[string]int)}
	if err := tmpl.parseDefinition([]byte{1, 2, 3}, 0); err == nil {
		t.Fatal("expected an error for a zero member count")
	}
}

func TestTemplate_OffsetsLookSuspect(t *testing.T) {
	suspect := &Template{Members: []TemplateMember{{Name: "A"}, {Name: "B"}}}
	if !suspect.offsetsLookSuspect() {
		t.Error("two visible members both at offset 0 should look suspect")
	}

	single := &Template{Members: []TemplateMember{{Name: "A"}}}
	if single.offsetsLookSuspect() {
		t.Error("a single member at offset 0 is a legitimate layout, not suspect")
	}

	trusted := &Template{Members: []TemplateMember{{Name: "A", Offset: 0}, {Name: "B", Offset: 4}}}
	if trusted.offsetsLookSuspect() {
		t.Error("a second member with a nonzero offset should not look suspect")
	}
}

func TestTemplate_CalculateOffsetsWithSizesAlignsAndPacksBools(t *testing.T) {
	tmpl := &Template{
		Members: []TemplateMember{
			{Name: "Flag1", Type: TypeBOOL},
			{Name: "Flag2", Type: TypeBOOL},
			{Name: "Count", Type: TypeDINT},
			{Name: "Nested", Type: TypeDINT | 0x8000},
		},
	}
	sizes := map[uint16]uint32{TypeDINT | 0x8000: 16}
	tmpl.calculateOffsetsWithSizes(func(tc uint16) uint32 { return sizes[tc] })

	if tmpl.Members[0].Offset != 0 || tmpl.Members[0].BitOffset != 0 {
		t.Errorf("Flag1 = %+v", tmpl.Members[0])
	}
	if tmpl.Members[1].Offset != 0 || tmpl.Members[1].BitOffset != 1 {
		t.Errorf("Flag2 = %+v", tmpl.Members[1])
	}
	if tmpl.Members[2].Offset != 4 {
		t.Errorf("Count.Offset = %d, want 4 (after the BOOL host)", tmpl.Members[2].Offset)
	}
	if tmpl.Members[3].Offset != 8 {
		t.Errorf("Nested.Offset = %d, want 8", tmpl.Members[3].Offset)
	}
}

func TestTemplate_CalculateBoolBitOffsetsSharesPlcReportedOffset(t *testing.T) {
	tmpl := &Template{
		Members: []TemplateMember{
			{Name: "A", Type: TypeBOOL, Offset: 100},
			{Name: "B", Type: TypeBOOL, Offset: 100},
			{Name: "C", Type: TypeBOOL, Offset: 104},
		},
	}
	tmpl.calculateBoolBitOffsets()

	if tmpl.Members[0].BitOffset != 0 || tmpl.Members[1].BitOffset != 1 {
		t.Errorf("bit offsets at shared offset 100 = %d, %d, want 0, 1",
			tmpl.Members[0].BitOffset, tmpl.Members[1].BitOffset)
	}
	if tmpl.Members[2].BitOffset != 0 {
		t.Errorf("bit offset at a new host offset = %d, want 0", tmpl.Members[2].BitOffset)
	}
}

func TestAlignTo(t *testing.T) {
	cases := []struct{ offset, alignment, want uint32 }{
		{0, 4, 0},
		{1, 4, 4},
		{4, 4, 4},
		{5, 8, 8},
		{3, 0, 3},
	}
	for _, c := range cases {
		if got := alignTo(c.offset, c.alignment); got != c.want {
			t.Errorf("alignTo(%d, %d) = %d, want %d", c.offset, c.alignment, got, c.want)
		}
	}
}

func TestParseNullTerminatedStrings(t *testing.T) {
	data := []byte("Foo\x00Bar\x00Baz\x00")
	got := parseNullTerminatedStrings(data, 2)
	if len(got) != 2 || got[0] != "Foo" || got[1] != "Bar" {
		t.Errorf("got %v, want [Foo Bar] (capped at maxCount)", got)
	}
}

func TestTemplate_StringOmitsHiddenMembers(t *testing.T) {
	tmpl := &Template{
		Name: "MyUDT",
		Size: 8,
		Members: []TemplateMember{
			{Name: "Visible", Type: TypeDINT, Offset: 0},
			{Name: "__internal", Type: TypeDINT, Offset: 4, Hidden: true},
		},
	}
	s := tmpl.String()
	if !strings.Contains(s, "Visible") {
		t.Errorf("String() = %q, want it to mention Visible", s)
	}
	if strings.Contains(s, "__internal") {
		t.Errorf("String() = %q, should omit hidden members", s)
	}
}
