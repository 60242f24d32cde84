package experiment

import "unicode/utf16"

// Hash is the 31-multiplier rolling hash over the UTF-16 code units of s,
// wrapped to a signed 32-bit integer at every step.
func Hash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = h*31 + int32(unit)
	}
	return h
}

// Bucket maps a visitor of a test to a percentage in [1, 100].
// The same pair always lands in the same bucket.
func Bucket(visitorID, testID string) int {
	h := int64(Hash(visitorID + testID))
	if h < 0 {
		// int64 keeps abs(MinInt32) representable.
		h = -h
	}
	return int(h%100) + 1
}

// Allocate picks the variant for a visitor by walking variants in order and
// accumulating their traffic allocation until it reaches the visitor's bucket.
// It reports false when the allocations sum to less than the bucket.
func Allocate(variants []Variant, visitorID, testID string) (Variant, bool) {
	bucket := Bucket(visitorID, testID)
	cumulative := 0
	for _, v := range variants {
		cumulative += v.TrafficAllocation
		if cumulative >= bucket {
			return v, true
		}
	}
	return Variant{}, false
}
