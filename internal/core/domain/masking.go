package domain

import (
	"crypto/sha256"
	"fmt"
)

// MaskType represents a masking strategy for the values of a column that
// appear in summaries (min/max, bin bounds, frequent values).
type MaskType string

const (
	MaskRedact  MaskType = "redact"
	MaskHash    MaskType = "hash"
	MaskPartial MaskType = "partial"
	MaskNull    MaskType = "null"
)

// Valid returns true if the MaskType is a recognised masking strategy
// (including the zero value "", which means "no mask").
func (m MaskType) Valid() bool {
	switch m {
	case MaskRedact, MaskHash, MaskPartial, MaskNull, "":
		return true
	}
	return false
}

// MaskLabel transforms a display value according to the mask type.
// The second result is false when the value is masked to null.
func MaskLabel(value string, maskType MaskType) (string, bool) {
	switch maskType {
	case MaskRedact:
		return "***", true
	case MaskHash:
		h := sha256.Sum256([]byte(value))
		return fmt.Sprintf("%x", h), true
	case MaskPartial:
		return maskPartial(value), true
	case MaskNull:
		return "", false
	default:
		return value, true
	}
}

// maskPartial reveals only the last 4 characters, replacing the rest with
// asterisks. Works correctly with multi-byte (unicode) strings.
func maskPartial(s string) string {
	runes := []rune(s)
	if len(runes) <= 4 {
		return "***" + s
	}
	masked := make([]rune, len(runes))
	for i := range masked {
		if i < len(runes)-4 {
			masked[i] = '*'
		} else {
			masked[i] = runes[i]
		}
	}
	return string(masked)
}

// MaskOrdinalAnalysis masks the min/max values and bin bounds of an ordinal analysis.
func MaskOrdinalAnalysis(a OrdinalColumnAnalysis, maskType MaskType) OrdinalColumnAnalysis {
	if maskType == "" {
		return a
	}
	a.MinValue, _ = MaskLabel(a.MinValue, maskType)
	a.MaxValue, _ = MaskLabel(a.MaxValue, maskType)
	bounds := make([]string, len(a.BinLowerBounds))
	for i, b := range a.BinLowerBounds {
		bounds[i], _ = MaskLabel(b, maskType)
	}
	a.BinLowerBounds = bounds
	return a
}

// MaskFrequentValues masks the labels of a frequent-value table. Null keys stay null.
func MaskFrequentValues(values []FrequentValue, maskType MaskType) []FrequentValue {
	if maskType == "" {
		return values
	}
	out := make([]FrequentValue, len(values))
	for i, v := range values {
		out[i] = v
		if v.Null {
			continue
		}
		label, ok := MaskLabel(v.Label, maskType)
		out[i].Label = label
		out[i].Null = !ok
	}
	return out
}
