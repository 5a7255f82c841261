package las

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	vlrHeaderSize  = 54
	evlrHeaderSize = 60
)

// VLR is a variable length record. Extended marks a LAS 1.4 EVLR, which is
// stored after the point data and may exceed 64KiB.
type VLR struct {
	Reserved    uint16
	UserID      [16]byte
	RecordID    uint16
	Description [32]byte
	Data        []byte
	Extended    bool
}

// User returns the user ID as a string.
func (v *VLR) User() string { return text(v.UserID[:]) }

func (v *VLR) marshal() ([]byte, error) {
	le := binary.LittleEndian
	hdr := vlrHeaderSize
	if v.Extended {
		hdr = evlrHeaderSize
	} else if len(v.Data) > math.MaxUint16 {
		return nil, fmt.Errorf("VLR %s/%d payload of %d bytes exceeds 65535", v.User(), v.RecordID, len(v.Data))
	}

	buf := make([]byte, hdr+len(v.Data))
	le.PutUint16(buf[0:], v.Reserved)
	copy(buf[2:18], v.UserID[:])
	le.PutUint16(buf[18:], v.RecordID)
	if v.Extended {
		le.PutUint64(buf[20:], uint64(len(v.Data)))
		copy(buf[28:60], v.Description[:])
	} else {
		le.PutUint16(buf[20:], uint16(len(v.Data)))
		copy(buf[22:54], v.Description[:])
	}
	copy(buf[hdr:], v.Data)
	return buf, nil
}

// readVLRs reads the VLRs between the header and the point data.
func readVLRs(r io.ReaderAt, h *Header) ([]VLR, error) {
	le := binary.LittleEndian
	vlrs := make([]VLR, 0, h.NumberOfVLRs)
	pos := uint64(h.HeaderSize)
	limit := uint64(h.PointDataOffset)

	hdr := make([]byte, vlrHeaderSize)
	for i := uint32(0); i < h.NumberOfVLRs; i++ {
		if pos+vlrHeaderSize > limit {
			return nil, fmt.Errorf("VLR %d header overruns point data offset %d", i, limit)
		}
		if _, err := r.ReadAt(hdr, int64(pos)); err != nil {
			return nil, fmt.Errorf("read VLR %d: %w", i, err)
		}
		v := VLR{
			Reserved: le.Uint16(hdr[0:]),
			RecordID: le.Uint16(hdr[18:]),
		}
		copy(v.UserID[:], hdr[2:18])
		copy(v.Description[:], hdr[22:54])
		n := uint64(le.Uint16(hdr[20:]))
		pos += vlrHeaderSize
		if pos+n > limit {
			return nil, fmt.Errorf("VLR %d payload overruns point data offset %d", i, limit)
		}
		v.Data = make([]byte, n)
		if n > 0 {
			if _, err := r.ReadAt(v.Data, int64(pos)); err != nil {
				return nil, fmt.Errorf("read VLR %d payload: %w", i, err)
			}
		}
		pos += n
		vlrs = append(vlrs, v)
	}
	return vlrs, nil
}

// readEVLRs reads the LAS 1.4 extended VLRs that follow the point data.
func readEVLRs(r io.ReaderAt, h *Header, size int64) ([]VLR, error) {
	if h.NumberOfEVLRs == 0 {
		return nil, nil
	}
	le := binary.LittleEndian
	evlrs := make([]VLR, 0, h.NumberOfEVLRs)
	pos := h.EVLRStart

	hdr := make([]byte, evlrHeaderSize)
	for i := uint32(0); i < h.NumberOfEVLRs; i++ {
		if pos+evlrHeaderSize > uint64(size) {
			return nil, fmt.Errorf("EVLR %d header overruns end of file", i)
		}
		if _, err := r.ReadAt(hdr, int64(pos)); err != nil {
			return nil, fmt.Errorf("read EVLR %d: %w", i, err)
		}
		v := VLR{
			Reserved: le.Uint16(hdr[0:]),
			RecordID: le.Uint16(hdr[18:]),
			Extended: true,
		}
		copy(v.UserID[:], hdr[2:18])
		copy(v.Description[:], hdr[28:60])
		n := le.Uint64(hdr[20:])
		pos += evlrHeaderSize
		if n > uint64(size) || pos+n > uint64(size) {
			return nil, fmt.Errorf("EVLR %d payload overruns end of file", i)
		}
		v.Data = make([]byte, n)
		if n > 0 {
			if _, err := r.ReadAt(v.Data, int64(pos)); err != nil {
				return nil, fmt.Errorf("read EVLR %d payload: %w", i, err)
			}
		}
		pos += n
		evlrs = append(evlrs, v)
	}
	return evlrs, nil
}
