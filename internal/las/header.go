package las

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Public header block sizes.
const (
	headerSizeV10 = 227
	headerSizeV13 = 235
	headerSizeV14 = 375
)

const signature = "LASF"

// encodingWaveformInternal is the global encoding bit marking waveform
// packets stored inside the file.
const encodingWaveformInternal = 1 << 1

// Header is the LAS public header block. Fields introduced after LAS 1.2
// are zero for older files.
type Header struct {
	FileSourceID       uint16
	GlobalEncoding     uint16
	ProjectID          [16]byte
	VersionMajor       uint8
	VersionMinor       uint8
	SystemIdentifier   [32]byte
	GeneratingSoftware [32]byte
	CreationDay        uint16
	CreationYear       uint16
	HeaderSize         uint16
	PointDataOffset    uint32
	NumberOfVLRs       uint32
	PointFormat        uint8
	PointRecordLength  uint16

	LegacyPointCount     uint32
	LegacyPointsByReturn [5]uint32

	Scale  [3]float64
	Offset [3]float64
	Max    [3]float64
	Min    [3]float64

	// LAS 1.3
	WaveformDataStart uint64

	// LAS 1.4
	EVLRStart      uint64
	NumberOfEVLRs  uint32
	PointCount     uint64
	PointsByReturn [15]uint64
}

// NewHeader returns a header for the given version and point format with a
// millimetre scale, zero offset and the minimal record length.
func NewHeader(minor, format uint8) Header {
	h := Header{
		VersionMajor: 1,
		VersionMinor: minor,
		PointFormat:  format,
		Scale:        [3]float64{0.001, 0.001, 0.001},
		CreationDay:  1,
		CreationYear: 2020,
		HeaderSize:   StandardHeaderSize(minor),
	}
	if n, ok := MinRecordLength(format); ok {
		h.PointRecordLength = n
	}
	return h
}

// StandardHeaderSize is the public header size defined for a LAS 1.x minor
// version.
func StandardHeaderSize(minor uint8) uint16 {
	switch {
	case minor >= 4:
		return headerSizeV14
	case minor == 3:
		return headerSizeV13
	default:
		return headerSizeV10
	}
}

// Count returns the number of point records in the file.
func (h *Header) Count() uint64 {
	if h.VersionMinor >= 4 && h.PointCount != 0 {
		return h.PointCount
	}
	return uint64(h.LegacyPointCount)
}

// SystemID returns the system identifier as a string.
func (h *Header) SystemID() string { return text(h.SystemIdentifier[:]) }

// Software returns the generating software as a string.
func (h *Header) Software() string { return text(h.GeneratingSoftware[:]) }

// SetSystemID stores s in the system identifier, truncated to 32 bytes.
func (h *Header) SetSystemID(s string) { setText(h.SystemIdentifier[:], s) }

// SetSoftware stores s in the generating software field, truncated to 32 bytes.
func (h *Header) SetSoftware(s string) { setText(h.GeneratingSoftware[:], s) }

// SameQuantization reports whether two headers map raw integers to the same
// coordinates.
func (h *Header) SameQuantization(o *Header) bool {
	return h.Scale == o.Scale && h.Offset == o.Offset
}

// Scaled converts raw record coordinates to real-world coordinates.
func (h *Header) Scaled(x, y, z int32) (float64, float64, float64) {
	return float64(x)*h.Scale[0] + h.Offset[0],
		float64(y)*h.Scale[1] + h.Offset[1],
		float64(z)*h.Scale[2] + h.Offset[2]
}

// Quantize converts real-world coordinates to raw record integers using
// this header's scale and offset.
func (h *Header) Quantize(x, y, z float64) (int32, int32, int32, error) {
	var out [3]int32
	for i, v := range [3]float64{x, y, z} {
		raw := math.Round((v - h.Offset[i]) / h.Scale[i])
		if math.IsNaN(raw) || raw < math.MinInt32 || raw > math.MaxInt32 {
			return 0, 0, 0, fmt.Errorf("coordinate %g does not fit scale %g offset %g", v, h.Scale[i], h.Offset[i])
		}
		out[i] = int32(raw)
	}
	return out[0], out[1], out[2], nil
}

// ReadHeader decodes and validates the public header of a LAS file of the
// given size. Errors describe why the input is not a usable LAS file.
func ReadHeader(r io.ReaderAt, size int64) (*Header, error) {
	if size < headerSizeV10 {
		return nil, fmt.Errorf("file too small for a LAS header: %d bytes", size)
	}
	buf := make([]byte, headerSizeV14)
	n, err := r.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: %w", err)
	}
	buf = buf[:n]

	if string(buf[0:4]) != signature {
		return nil, fmt.Errorf("bad file signature %q", buf[0:4])
	}
	major, minor := buf[24], buf[25]
	if major != 1 || minor > 4 {
		return nil, fmt.Errorf("unsupported LAS version %d.%d", major, minor)
	}
	if n < int(StandardHeaderSize(minor)) {
		return nil, fmt.Errorf("truncated LAS %d.%d header: %d bytes", major, minor, n)
	}

	h := decodeHeader(buf)
	if err := h.validate(size); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeHeader(buf []byte) *Header {
	le := binary.LittleEndian
	h := &Header{
		FileSourceID:      le.Uint16(buf[4:]),
		GlobalEncoding:    le.Uint16(buf[6:]),
		VersionMajor:      buf[24],
		VersionMinor:      buf[25],
		CreationDay:       le.Uint16(buf[90:]),
		CreationYear:      le.Uint16(buf[92:]),
		HeaderSize:        le.Uint16(buf[94:]),
		PointDataOffset:   le.Uint32(buf[96:]),
		NumberOfVLRs:      le.Uint32(buf[100:]),
		PointFormat:       buf[104],
		PointRecordLength: le.Uint16(buf[105:]),
		LegacyPointCount:  le.Uint32(buf[107:]),
	}
	copy(h.ProjectID[:], buf[8:24])
	copy(h.SystemIdentifier[:], buf[26:58])
	copy(h.GeneratingSoftware[:], buf[58:90])
	for i := range h.LegacyPointsByReturn {
		h.LegacyPointsByReturn[i] = le.Uint32(buf[111+4*i:])
	}
	for i := 0; i < 3; i++ {
		h.Scale[i] = math.Float64frombits(le.Uint64(buf[131+8*i:]))
		h.Offset[i] = math.Float64frombits(le.Uint64(buf[155+8*i:]))
		// Bounds are stored as max X, min X, max Y, min Y, max Z, min Z.
		h.Max[i] = math.Float64frombits(le.Uint64(buf[179+16*i:]))
		h.Min[i] = math.Float64frombits(le.Uint64(buf[187+16*i:]))
	}
	if h.VersionMinor >= 3 {
		h.WaveformDataStart = le.Uint64(buf[227:])
	}
	if h.VersionMinor >= 4 {
		h.EVLRStart = le.Uint64(buf[235:])
		h.NumberOfEVLRs = le.Uint32(buf[243:])
		h.PointCount = le.Uint64(buf[247:])
		for i := range h.PointsByReturn {
			h.PointsByReturn[i] = le.Uint64(buf[255+8*i:])
		}
	}
	return h
}

// minVersionForFormat is the lowest LAS minor version defining each point
// data record format.
var minVersionForFormat = [...]uint8{0, 0, 2, 2, 3, 3, 4, 4, 4, 4, 4}

func (h *Header) validate(size int64) error {
	if h.PointFormat&0xC0 != 0 {
		return fmt.Errorf("compressed point data (format byte 0x%02x) is not supported", h.PointFormat)
	}
	minLen, ok := MinRecordLength(h.PointFormat)
	if !ok {
		return fmt.Errorf("unsupported point data format %d", h.PointFormat)
	}
	if h.VersionMinor < minVersionForFormat[h.PointFormat] {
		return fmt.Errorf("point data format %d is not defined for LAS 1.%d", h.PointFormat, h.VersionMinor)
	}
	if h.PointRecordLength < minLen {
		return fmt.Errorf("point record length %d below minimum %d for format %d", h.PointRecordLength, minLen, h.PointFormat)
	}
	if h.GlobalEncoding&encodingWaveformInternal != 0 {
		return fmt.Errorf("internal waveform data is not supported")
	}
	if h.HeaderSize < StandardHeaderSize(h.VersionMinor) {
		return fmt.Errorf("header size %d below %d required by LAS 1.%d", h.HeaderSize, StandardHeaderSize(h.VersionMinor), h.VersionMinor)
	}
	if uint32(h.HeaderSize) > h.PointDataOffset {
		return fmt.Errorf("point data offset %d inside header of %d bytes", h.PointDataOffset, h.HeaderSize)
	}
	for i, s := range h.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("invalid scale factor %g on axis %d", s, i)
		}
	}
	for i, o := range h.Offset {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return fmt.Errorf("invalid offset %g on axis %d", o, i)
		}
	}

	count := h.Count()
	if count > 0 && uint64(h.PointRecordLength) > math.MaxUint64/count {
		return fmt.Errorf("point count %d overflows file size", count)
	}
	end := uint64(h.PointDataOffset) + count*uint64(h.PointRecordLength)
	if end > uint64(size) {
		return fmt.Errorf("file truncated: %d points of %d bytes need %d bytes, have %d", count, h.PointRecordLength, end, size)
	}
	if h.NumberOfEVLRs > 0 {
		if h.EVLRStart < end || h.EVLRStart > uint64(size) {
			return fmt.Errorf("extended VLRs start at %d outside [%d, %d]", h.EVLRStart, end, size)
		}
	}
	return nil
}

func (h *Header) marshal() []byte {
	le := binary.LittleEndian
	size := StandardHeaderSize(h.VersionMinor)
	buf := make([]byte, size)

	copy(buf[0:4], signature)
	le.PutUint16(buf[4:], h.FileSourceID)
	le.PutUint16(buf[6:], h.GlobalEncoding)
	copy(buf[8:24], h.ProjectID[:])
	buf[24] = h.VersionMajor
	buf[25] = h.VersionMinor
	copy(buf[26:58], h.SystemIdentifier[:])
	copy(buf[58:90], h.GeneratingSoftware[:])
	le.PutUint16(buf[90:], h.CreationDay)
	le.PutUint16(buf[92:], h.CreationYear)
	le.PutUint16(buf[94:], size)
	le.PutUint32(buf[96:], h.PointDataOffset)
	le.PutUint32(buf[100:], h.NumberOfVLRs)
	buf[104] = h.PointFormat
	le.PutUint16(buf[105:], h.PointRecordLength)
	le.PutUint32(buf[107:], h.LegacyPointCount)
	for i, v := range h.LegacyPointsByReturn {
		le.PutUint32(buf[111+4*i:], v)
	}
	for i := 0; i < 3; i++ {
		le.PutUint64(buf[131+8*i:], math.Float64bits(h.Scale[i]))
		le.PutUint64(buf[155+8*i:], math.Float64bits(h.Offset[i]))
		le.PutUint64(buf[179+16*i:], math.Float64bits(h.Max[i]))
		le.PutUint64(buf[187+16*i:], math.Float64bits(h.Min[i]))
	}
	if h.VersionMinor >= 3 {
		le.PutUint64(buf[227:], h.WaveformDataStart)
	}
	if h.VersionMinor >= 4 {
		le.PutUint64(buf[235:], h.EVLRStart)
		le.PutUint32(buf[243:], h.NumberOfEVLRs)
		le.PutUint64(buf[247:], h.PointCount)
		for i, v := range h.PointsByReturn {
			le.PutUint64(buf[255+8*i:], v)
		}
	}
	return buf
}

func text(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimRight(b, " "))
}

func setText(dst []byte, s string) {
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
}
