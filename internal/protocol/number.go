package protocol

import "encoding/binary"

// exactHighLimit is the precision boundary for 64-bit reconstruction.
// A high word below 0x100000 keeps the combined magnitude under 2^52, so the
// float64 result is exact. At or above it the value is approximated as
// hi*2^32 + lo and low-order bits are lost; the decode still succeeds.
const exactHighLimit = 0x100000

const twoTo32 = 1 << 32

// join64 combines the halves of an unsigned 64-bit wire integer
func join64(hi, lo uint32) (float64, bool) {
	if hi < exactHighLimit {
		return float64(uint64(hi)<<32 | uint64(lo)), true
	}
	return float64(hi)*twoTo32 + float64(lo), false
}

// joinSigned64 combines the halves of a signed 64-bit wire integer.
// The high half carries the sign; the low half is unsigned.
func joinSigned64(hi int32, lo uint32) (float64, bool) {
	if hi < exactHighLimit && hi >= -exactHighLimit {
		return float64(int64(hi)<<32 | int64(lo)), true
	}
	return float64(hi)*twoTo32 + float64(lo), false
}

// readUint64 reads a big-endian unsigned 64-bit number from b[0:8]
func readUint64(b []byte) Number {
	hi := binary.BigEndian.Uint32(b[0:4])
	lo := binary.BigEndian.Uint32(b[4:8])
	v, exact := join64(hi, lo)
	return Number{Raw: uint64(hi)<<32 | uint64(lo), Value: v, Exact: exact}
}

// readInt64 reads a big-endian signed 64-bit number from b[0:8]
func readInt64(b []byte) Number {
	hi := binary.BigEndian.Uint32(b[0:4])
	lo := binary.BigEndian.Uint32(b[4:8])
	v, exact := joinSigned64(int32(hi), lo)
	return Number{Raw: uint64(hi)<<32 | uint64(lo), Value: v, Exact: exact}
}
