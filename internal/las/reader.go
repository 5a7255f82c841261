package las

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/plotmerge/internal/errkind"
)

const readBufferSize = 1 << 20

// Reader streams the point records of a LAS file.
type Reader struct {
	Header Header
	VLRs   []VLR
	EVLRs  []VLR

	path      string
	f         *os.File
	br        *bufio.Reader
	remaining uint64
	rec       Record
}

// Open opens and validates a LAS file. Failures to open or stat the file
// are errkind.ErrIO; anything wrong with its content is errkind.ErrFormat.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errkind.IO("open", path, err)
	}
	r, err := newReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f *os.File, path string) (*Reader, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errkind.IO("stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, errkind.Formatf("open", path, "not a regular file")
	}

	h, err := ReadHeader(f, info.Size())
	if err != nil {
		return nil, errkind.Format("read header", path, err)
	}
	vlrs, err := readVLRs(f, h)
	if err != nil {
		return nil, errkind.Format("read VLRs", path, err)
	}
	evlrs, err := readEVLRs(f, h, info.Size())
	if err != nil {
		return nil, errkind.Format("read EVLRs", path, err)
	}

	count := h.Count()
	section := io.NewSectionReader(f, int64(h.PointDataOffset), int64(count)*int64(h.PointRecordLength))
	return &Reader{
		Header:    *h,
		VLRs:      vlrs,
		EVLRs:     evlrs,
		path:      path,
		f:         f,
		br:        bufio.NewReaderSize(section, readBufferSize),
		remaining: count,
		rec:       make(Record, h.PointRecordLength),
	}, nil
}

// Path returns the file path the reader was opened with.
func (r *Reader) Path() string { return r.path }

// Count returns the number of point records in the file.
func (r *Reader) Count() uint64 { return r.Header.Count() }

// Next returns the next point record, or io.EOF after the last one. The
// returned Record is reused by the following call.
func (r *Reader) Next() (Record, error) {
	if r.remaining == 0 {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(r.br, r.rec); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, errkind.Formatf("read point", r.path, "unexpected end of point data with %d records left", r.remaining)
		}
		return nil, errkind.IO("read point", r.path, err)
	}
	r.remaining--
	return r.rec, nil
}

// RecordAt reads record i without disturbing the Next sequence.
func (r *Reader) RecordAt(i uint64) (Record, error) {
	if i >= r.Count() {
		return nil, fmt.Errorf("record %d out of range [0, %d)", i, r.Count())
	}
	rec := make(Record, r.Header.PointRecordLength)
	off := int64(r.Header.PointDataOffset) + int64(i)*int64(r.Header.PointRecordLength)
	if _, err := r.f.ReadAt(rec, off); err != nil {
		return nil, errkind.IO("read point", r.path, err)
	}
	return rec, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.f.Close()
}
