package las

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

const writeBufferSize = 1 << 20

// Writer writes a LAS file. The header passed to NewWriter supplies the
// version, point format, quantization and descriptive fields; offsets,
// counts, bounds and per-return totals are computed and written on Close.
type Writer struct {
	w   io.WriteSeeker
	bw  *bufio.Writer
	hdr Header

	count    uint64
	byReturn [15]uint64
	min, max [3]float64
	closed   bool
}

// NewWriter writes the header and VLRs to w and prepares for point records.
func NewWriter(w io.WriteSeeker, hdr Header, vlrs []VLR) (*Writer, error) {
	minLen, ok := MinRecordLength(hdr.PointFormat)
	if !ok {
		return nil, fmt.Errorf("unsupported point data format %d", hdr.PointFormat)
	}
	if hdr.PointRecordLength < minLen {
		return nil, fmt.Errorf("point record length %d below minimum %d for format %d", hdr.PointRecordLength, minLen, hdr.PointFormat)
	}
	if hdr.VersionMajor == 0 {
		hdr.VersionMajor = 1
	}

	hdr.HeaderSize = StandardHeaderSize(hdr.VersionMinor)
	offset := uint64(hdr.HeaderSize)
	encoded := make([][]byte, 0, len(vlrs))
	for i := range vlrs {
		v := vlrs[i]
		v.Extended = false
		b, err := v.marshal()
		if err != nil {
			return nil, err
		}
		encoded = append(encoded, b)
		offset += uint64(len(b))
	}
	if offset > math.MaxUint32 {
		return nil, fmt.Errorf("VLRs too large: point data would start at %d", offset)
	}
	hdr.PointDataOffset = uint32(offset)
	hdr.NumberOfVLRs = uint32(len(vlrs))
	hdr.WaveformDataStart = 0
	hdr.EVLRStart = 0
	hdr.NumberOfEVLRs = 0

	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	lw := &Writer{
		w:   w,
		bw:  bufio.NewWriterSize(w, writeBufferSize),
		hdr: hdr,
	}
	if _, err := lw.bw.Write(hdr.marshal()); err != nil {
		return nil, err
	}
	for _, b := range encoded {
		if _, err := lw.bw.Write(b); err != nil {
			return nil, err
		}
	}
	return lw, nil
}

// Header returns the header as it will be written, with the statistics
// accumulated so far.
func (w *Writer) Header() Header {
	h := w.hdr
	w.fillStats(&h)
	return h
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 { return w.count }

// WriteRecord appends one point record.
func (w *Writer) WriteRecord(rec Record) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if len(rec) != int(w.hdr.PointRecordLength) {
		return fmt.Errorf("record of %d bytes, want %d", len(rec), w.hdr.PointRecordLength)
	}
	if _, err := w.bw.Write(rec); err != nil {
		return err
	}

	x, y, z := w.hdr.Scaled(rec.RawXYZ())
	p := [3]float64{x, y, z}
	if w.count == 0 {
		w.min, w.max = p, p
	} else {
		for i := 0; i < 3; i++ {
			w.min[i] = math.Min(w.min[i], p[i])
			w.max[i] = math.Max(w.max[i], p[i])
		}
	}
	if n, _ := rec.Returns(w.hdr.PointFormat); n >= 1 && n <= len(w.byReturn) {
		w.byReturn[n-1]++
	}
	w.count++
	return nil
}

func (w *Writer) fillStats(h *Header) {
	h.Min, h.Max = w.min, w.max

	h.PointCount = 0
	h.PointsByReturn = [15]uint64{}
	h.LegacyPointCount = 0
	h.LegacyPointsByReturn = [5]uint32{}

	if h.VersionMinor >= 4 {
		h.PointCount = w.count
		h.PointsByReturn = w.byReturn
	}
	// Legacy counts stay zero for 1.4 files that legacy readers cannot
	// represent.
	if w.count <= math.MaxUint32 && (h.VersionMinor < 4 || !IsExtendedFormat(h.PointFormat)) {
		h.LegacyPointCount = uint32(w.count)
		for i := range h.LegacyPointsByReturn {
			h.LegacyPointsByReturn[i] = uint32(w.byReturn[i])
		}
	}
}

// Close writes the EVLRs (LAS 1.4 only) and the final header. It does not
// close the underlying writer.
func (w *Writer) Close(evlrs []VLR) error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.hdr.VersionMinor < 4 && w.count > math.MaxUint32 {
		return fmt.Errorf("%d points exceed the LAS 1.%d limit", w.count, w.hdr.VersionMinor)
	}
	if len(evlrs) > 0 {
		if w.hdr.VersionMinor < 4 {
			return fmt.Errorf("extended VLRs need LAS 1.4, have 1.%d", w.hdr.VersionMinor)
		}
		w.hdr.EVLRStart = uint64(w.hdr.PointDataOffset) + w.count*uint64(w.hdr.PointRecordLength)
		w.hdr.NumberOfEVLRs = uint32(len(evlrs))
		for i := range evlrs {
			v := evlrs[i]
			v.Extended = true
			b, err := v.marshal()
			if err != nil {
				return err
			}
			if _, err := w.bw.Write(b); err != nil {
				return err
			}
		}
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}

	w.fillStats(&w.hdr)
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.w.Write(w.hdr.marshal()); err != nil {
		return err
	}
	return nil
}
