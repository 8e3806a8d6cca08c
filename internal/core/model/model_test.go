package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePayloadKeepsDocumentOrder(t *testing.T) {
	v, err := ParsePayload([]byte(`{"part_number":"0131M00008P","data":{"replaced_by":"0131M00008PS","oem":true},"prices":[1.5,null]}`), DefaultMaxDepth)
	require.NoError(t, err)

	require.Equal(t, KindObject, v.Kind)
	require.Len(t, v.Fields, 3)
	assert.Equal(t, "part_number", v.Fields[0].Key)
	assert.Equal(t, "data", v.Fields[1].Key)
	assert.Equal(t, "0131M00008P", v.GetString("part_number"))

	data, ok := v.Get("data")
	require.True(t, ok)
	assert.Equal(t, "0131M00008PS", data.GetString("replaced_by"))
	oem, _ := data.Get("oem")
	assert.Equal(t, Bool(true), oem)

	prices, _ := v.Get("prices")
	require.Len(t, prices.Items, 2)
	assert.Equal(t, 1.5, prices.Items[0].Num)
	assert.True(t, prices.Items[1].IsZero())
}

func TestParsePayloadRejectsBadInput(t *testing.T) {
	_, err := ParsePayload([]byte(`{"part_number": `), DefaultMaxDepth)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	deep := strings.Repeat("[", 5) + `"x"` + strings.Repeat("]", 5)
	_, err = ParsePayload([]byte(deep), 4)
	assert.ErrorIs(t, err, ErrPayloadTooDeep)

	_, err = ParsePayload([]byte(deep), 5)
	assert.NoError(t, err)
}

func TestPayloadRoundTripsThroughJSON(t *testing.T) {
	src := `{"a":"x\"y","b":[true,false,null,3],"c":{}}`
	v, err := ParsePayload([]byte(src), DefaultMaxDepth)
	require.NoError(t, err)

	out, err := v.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, src, string(out))
}

func TestWalkIsBounded(t *testing.T) {
	v := Object(
		F("top", String("a")),
		F("nested", Object(F("deeper", Array(String("b"), Object(F("deepest", String("c"))))))),
	)

	collect := func(depth int) ([]string, bool) {
		var seen []string
		truncated := v.Walk(depth, func(x Value) bool {
			if x.Kind == KindString {
				seen = append(seen, x.Str)
			}
			return true
		})
		return seen, truncated
	}

	all, truncated := collect(DefaultMaxDepth)
	assert.Equal(t, []string{"a", "b", "c"}, all)
	assert.False(t, truncated)

	shallow, truncated := collect(1)
	assert.Equal(t, []string{"a"}, shallow)
	assert.True(t, truncated)
}

func TestNodeKeys(t *testing.T) {
	assert.Equal(t, PartNode("0131m-00008p").Key(), PartNode("0131M00008P").Key())
	assert.Equal(t, "MFD|40+5", SpecNode(" mfd", "40+5").Key())
	assert.Equal(t, "GOODMAN MANUFACTURING", ManufacturerNode("  Goodman   manufacturing").Key())
	assert.Equal(t, "Part:HC41SE113", PartNode("hc41se113").Ref().String())
}

func TestNodeValidate(t *testing.T) {
	assert.NoError(t, PartNode("0131M00008P").Validate())
	assert.Error(t, PartNode(" ").Validate())
	assert.Error(t, SpecNode("", "40+5").Validate())
	assert.Error(t, Node{Label: "Widget", ID: "x"}.Validate())
}

func TestNodeMergeFromKeepsIdentity(t *testing.T) {
	yes := true
	n := Node{Label: LabelPart, ID: "0131M00008P", SourceDocIDs: []string{"doc-1"}}
	n.MergeFrom(Node{Label: LabelPart, ID: "0131m00008p", Name: "Capacitor", OEM: &yes, SourceDocIDs: []string{"doc-1", "doc-2"}})

	assert.Equal(t, "0131M00008P", n.ID)
	assert.Equal(t, "Capacitor", n.Name)
	assert.True(t, n.IsOEM())
	assert.Equal(t, []string{"doc-1", "doc-2"}, n.SourceDocIDs)

	n.MergeFrom(Node{Label: LabelPart, ID: "0131M00008P"})
	assert.Equal(t, "Capacitor", n.Name)
	assert.True(t, n.IsOEM())
}

func TestParseRelType(t *testing.T) {
	rt, err := ParseRelType("equivalent to")
	require.NoError(t, err)
	assert.Equal(t, RelEquivalentTo, rt)

	_, err = ParseRelType("RELATES_TO")
	assert.Error(t, err)
}

func TestEdgeValidate(t *testing.T) {
	e := Edge{Type: RelReplaces, Source: PartNode("A12345"), Target: PartNode("B12345"), Confidence: 1.2}
	assert.Error(t, e.Validate())

	e.Confidence = 0.8
	assert.NoError(t, e.Validate())
}

func TestDocumentIDIsStable(t *testing.T) {
	rec := RawEvidenceRecord{Source: "goodman", Session: "s1", File: "a.json", QueriedID: "0131M00008P", Payload: Object(F("status", String("Discontinued")))}
	assert.Equal(t, rec.DocumentID(), rec.DocumentID())

	other := rec
	other.File = "b.json"
	assert.NotEqual(t, rec.DocumentID(), other.DocumentID())

	rec.ID = "explicit"
	assert.Equal(t, "explicit", rec.DocumentID())
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		in        string
		wantType  string
		wantValue string
	}{
		{"40+5 MFD", "MFD", "40+5"},
		{"440V", "V", "440"},
		{" 1/3   hp ", "HP", "1/3"},
		{"Voltage: 440", "VOLTAGE", "440"},
		{"rpm = 1075", "RPM", "1075"},
		{"round, dual run", "SPEC", "round, dual run"},
	}
	for _, tt := range tests {
		gotType, gotValue := ParseSpec(tt.in)
		assert.Equal(t, tt.wantType, gotType, tt.in)
		assert.Equal(t, tt.wantValue, gotValue, tt.in)
	}

	_, _, ok := SplitUnit("round, dual run")
	assert.False(t, ok)
}
