package tic

import "math"

// maxU32Accepted is the largest value U32FromDigits will return as a real
// number. It is MaxUint32-1, not MaxUint32: the all-ones value is the
// failure sentinel, so an input spelling 4294967295 is indistinguishable
// from a conversion error and is reported as one.
const maxU32Accepted = math.MaxUint32 - 1

// U32FromDigits interprets p as an ASCII decimal number. It returns
// math.MaxUint32 when p is empty, contains a non-digit byte, or spells a
// value above 4294967294. Overflow is detected before it happens, so inputs
// of any length are safe.
func U32FromDigits(p []byte) uint32 {
	if len(p) == 0 {
		return math.MaxUint32
	}
	var v uint32
	for _, b := range p {
		if b < '0' || b > '9' {
			return math.MaxUint32
		}
		d := uint32(b - '0')
		if v > maxU32Accepted/10 || (v == maxU32Accepted/10 && d > maxU32Accepted%10) {
			return math.MaxUint32
		}
		v = v*10 + d
	}
	return v
}
