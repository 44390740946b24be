package bytecode

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"
)

// Reader is a little-endian cursor over a script buffer. Positions are
// reported as absolute offsets: base + position within buf.
type Reader struct {
	buf  []byte
	pos  int
	base int
}

// NewReader creates a cursor over buf whose first byte sits at absolute
// offset base.
func NewReader(buf []byte, base int) *Reader {
	return &Reader{buf: buf, base: base}
}

// Offset returns the absolute offset of the next unread byte.
func (r *Reader) Offset() int { return r.base + r.pos }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Done reports whether the cursor reached the end of the buffer.
func (r *Reader) Done() bool { return r.pos >= len(r.buf) }

func (r *Reader) need(n int, what string) error {
	if r.Remaining() < n {
		return Malformed(r.Offset(), "need %d bytes for %s, have %d", n, what, r.Remaining())
	}
	return nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (byte, error) {
	if err := r.need(1, "u8"); err != nil {
		return 0, err
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadU16 reads a little-endian uint16.
func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2, "u16"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadI32 reads a little-endian int32.
func (r *Reader) ReadI32() (int32, error) {
	if err := r.need(4, "i32"); err != nil {
		return 0, err
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

// ReadBool reads a one-byte flag. Any non-zero byte is true.
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadU8()
	return b != 0, err
}

// ReadBytes reads n raw bytes. The returned slice is a copy.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, Malformed(r.Offset(), "negative length %d", n)
	}
	if err := r.need(n, "bytes"); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}

// ReadString reads a fixed-size NUL padded UTF-8 field of size bytes.
// The string ends at the first NUL.
func (r *Reader) ReadString(size int) (string, error) {
	start := r.Offset()
	raw, err := r.ReadBytes(size)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	if !utf8.Valid(raw) {
		return "", Malformed(start, "string field is not valid UTF-8")
	}
	return string(raw), nil
}

// Sub returns a cursor over the next n bytes and advances past them.
func (r *Reader) Sub(n int) (*Reader, error) {
	if n < 0 {
		return nil, Malformed(r.Offset(), "negative length %d", n)
	}
	if err := r.need(n, "sub-stream"); err != nil {
		return nil, err
	}
	sub := &Reader{buf: r.buf[r.pos : r.pos+n], base: r.Offset()}
	r.pos += n
	return sub, nil
}
