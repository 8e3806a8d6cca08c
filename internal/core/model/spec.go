package model

import (
	"regexp"
	"strings"
)

// SpecFallbackType is the type given to spec text that does not parse.
const SpecFallbackType = "SPEC"

var (
	// "40+5 MFD", "440V", "1/3 HP"
	specValueUnit = regexp.MustCompile(`^([0-9][0-9.,+/xX-]*)\s*([A-Za-z]+)$`)
	// "MFD: 40+5", "voltage = 440"
	specTypeValue = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*?)\s*[:=]\s*(.+)$`)
)

// SplitUnit splits a value carrying its unit ("40+5 MFD") into the
// upper-cased unit and the bare value.
func SplitUnit(text string) (unit, value string, ok bool) {
	m := specValueUnit.FindStringSubmatch(strings.Join(strings.Fields(text), " "))
	if m == nil {
		return "", "", false
	}
	return strings.ToUpper(m[2]), m[1], true
}

// ParseSpec splits untyped spec text into (type, value). Text that fits
// neither the value-unit nor the type-value shape becomes (SPEC, text).
func ParseSpec(text string) (string, string) {
	text = strings.Join(strings.Fields(text), " ")
	if unit, value, ok := SplitUnit(text); ok {
		return unit, value
	}
	if m := specTypeValue.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(strings.TrimSpace(m[1])), strings.TrimSpace(m[2])
	}
	return SpecFallbackType, text
}
