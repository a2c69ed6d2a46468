package pdu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Writer builds a message body. Integers are little-endian, strings are one
// byte per character. The first error is kept and reported by Bytes; later
// writes after an error are ignored.
type Writer struct {
	buf []byte
	err error
}

// NewWriter returns a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// PutUint8 appends one byte.
func (w *Writer) PutUint8(v uint8) {
	if w.err != nil {
		return
	}

	w.buf = append(w.buf, v)
}

// PutBool appends a boolean as a single byte (1 or 0).
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutUint8(1)
		return
	}

	w.PutUint8(0)
}

// PutUint16 appends a little-endian uint16.
func (w *Writer) PutUint16(v uint16) {
	if w.err != nil {
		return
	}

	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

// PutUint32 appends a little-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	if w.err != nil {
		return
	}

	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// PutLength appends the 16-bit length prefix of s without its characters.
func (w *Writer) PutLength(s string) {
	if w.err != nil {
		return
	}

	if len(s) > math.MaxUint16 {
		w.err = fmt.Errorf("length prefix for %d bytes: %w", len(s), ErrStringTooLong)
		return
	}

	w.PutUint16(uint16(len(s)))
}

// PutRaw appends the characters of s with no prefix.
func (w *Writer) PutRaw(s string) {
	if w.err != nil {
		return
	}

	w.buf = append(w.buf, s...)
}

// PutString appends a 16-bit length prefix followed by the characters of s.
func (w *Writer) PutString(s string) {
	w.PutLength(s)
	w.PutRaw(s)
}

// PutFixedString appends s as exactly n bytes, zero-padded when shorter and
// truncated when longer.
func (w *Writer) PutFixedString(s string, n int) {
	if w.err != nil {
		return
	}

	w.buf = append(w.buf, FixedBytes(s, n)...)
}

// PutStringList appends a list payload: a 16-bit total length that counts its
// own two bytes, then every field of every record as a length-prefixed string.
func (w *Writer) PutStringList(records [][]string) {
	total := 2
	for _, rec := range records {
		for _, field := range rec {
			total += 2 + len(field)
		}
	}

	if total > math.MaxUint16 {
		if w.err == nil {
			w.err = fmt.Errorf("list of %d bytes: %w", total, ErrStringTooLong)
		}
		return
	}

	w.PutUint16(uint16(total))
	for _, rec := range records {
		for _, field := range rec {
			w.PutString(field)
		}
	}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the encoded body, or the first error hit while writing.
func (w *Writer) Bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}

	return w.buf, nil
}

// Reader consumes a message body. It never reads past the end of the
// supplied buffer; a short buffer yields ErrTruncated.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, fmt.Errorf("read %d bytes at offset %d of %d: %w", n, r.off, len(r.buf), ErrTruncated)
	}

	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint8 reads one byte.
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.Bytes(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

// Bool reads a single-byte boolean; any non-zero value is true.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	return v != 0, err
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b), nil
}

// Raw reads n characters with no prefix.
func (r *Reader) Raw(n int) (string, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// String reads a 16-bit length prefix followed by that many characters.
func (r *Reader) String() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}

	return r.Raw(int(n))
}

// FixedString reads exactly n bytes and returns the content before the first
// zero byte.
func (r *Reader) FixedString(n int) (string, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return "", err
	}

	return TrimZero(b), nil
}

// StringList decodes a list payload written by Writer.PutStringList. Every
// record has fieldsPerRecord length-prefixed strings. Decoding tracks the
// bytes left from the declared total using the length prefixes actually read
// and stops when that counter reaches exactly zero; a counter that would go
// negative, a record cut short, or a total that does not fit in the buffer is
// reported as ErrMalformedList.
//
// Returns:
//   - The records in wire order
//   - ErrMalformedList or ErrTruncated on a bad payload
func (r *Reader) StringList(fieldsPerRecord int) ([][]string, error) {
	if fieldsPerRecord < 1 {
		return nil, fmt.Errorf("%d fields per record: %w", fieldsPerRecord, ErrMalformedList)
	}

	total, err := r.Uint16()
	if err != nil {
		return nil, err
	}

	remaining := int(total) - 2
	if remaining < 0 {
		return nil, fmt.Errorf("declared length %d: %w", total, ErrMalformedList)
	}

	if remaining > r.Remaining() {
		return nil, fmt.Errorf("declared length %d exceeds %d available bytes: %w", total, r.Remaining()+2, ErrMalformedList)
	}

	records := make([][]string, 0)
	for remaining > 0 {
		rec := make([]string, fieldsPerRecord)
		for i := range rec {
			if remaining < 2 {
				return nil, fmt.Errorf("record %d field %d: %d bytes left: %w", len(records), i, remaining, ErrMalformedList)
			}

			n, err := r.Uint16()
			if err != nil {
				return nil, err
			}

			remaining -= 2
			if int(n) > remaining {
				return nil, fmt.Errorf("record %d field %d: length %d exceeds %d bytes left: %w", len(records), i, n, remaining, ErrMalformedList)
			}

			s, err := r.Raw(int(n))
			if err != nil {
				return nil, err
			}

			remaining -= int(n)
			rec[i] = s
		}

		records = append(records, rec)
	}

	return records, nil
}

// FixedBytes returns s as exactly n bytes, zero-padded or truncated.
func FixedBytes(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// TrimZero returns the content of b before its first zero byte, or all of b
// when it has none.
func TrimZero(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}
