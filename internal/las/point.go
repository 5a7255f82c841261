package las

import "encoding/binary"

// minRecordLength is the size of each point data record format 0..10
// without extra bytes.
var minRecordLength = [...]uint16{20, 28, 26, 34, 57, 63, 30, 36, 38, 59, 67}

// MinRecordLength returns the minimal record length of a point format.
func MinRecordLength(format uint8) (uint16, bool) {
	if int(format) >= len(minRecordLength) {
		return 0, false
	}
	return minRecordLength[format], true
}

// IsExtendedFormat reports whether a point format uses the LAS 1.4 layout
// with 4-bit return numbers.
func IsExtendedFormat(format uint8) bool { return format >= 6 }

// Record is one raw point data record. X, Y and Z are the first three
// little-endian int32 fields in every format.
type Record []byte

// RawXYZ returns the quantized coordinates.
func (r Record) RawXYZ() (int32, int32, int32) {
	le := binary.LittleEndian
	return int32(le.Uint32(r[0:])), int32(le.Uint32(r[4:])), int32(le.Uint32(r[8:]))
}

// SetRawXYZ overwrites the quantized coordinates.
func (r Record) SetRawXYZ(x, y, z int32) {
	le := binary.LittleEndian
	le.PutUint32(r[0:], uint32(x))
	le.PutUint32(r[4:], uint32(y))
	le.PutUint32(r[8:], uint32(z))
}

// Returns decodes the return number and number of returns.
func (r Record) Returns(format uint8) (number, of int) {
	b := r[14]
	if IsExtendedFormat(format) {
		return int(b & 0x0F), int(b >> 4)
	}
	return int(b & 0x07), int(b>>3) & 0x07
}

// SetReturns encodes the return number and number of returns.
func (r Record) SetReturns(format uint8, number, of int) {
	if IsExtendedFormat(format) {
		r[14] = byte(number&0x0F) | byte(of&0x0F)<<4
		return
	}
	r[14] = r[14]&0xC0 | byte(number&0x07) | byte(of&0x07)<<3
}
