// Package las reads and writes ASPRS LAS point-cloud files, versions 1.0
// through 1.4.
//
// Responsibilities: decoding and validating the public header block,
// carrying variable length records (VLRs and 1.4 EVLRs) through unchanged,
// streaming raw point records, and writing new files whose header counts,
// bounds and per-return totals are computed from the points written.
// Key types: Header, VLR, Record, Reader, Writer.
//
// Point records are handled as raw bytes. Only the fields the merge needs
// are decoded: the quantized X/Y/Z coordinates and the return numbers.
// Everything else in a record (intensity, classification, GPS time, colour,
// extra bytes) is copied verbatim.
//
// Compressed files (LAZ) and files with internally stored waveform packets
// are rejected.
package las
