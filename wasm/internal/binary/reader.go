package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Reader errors.
var (
	ErrOverflow     = errors.New("leb128: overflow")
	ErrInvalidUTF8  = errors.New("invalid UTF-8 in name")
	ErrLengthBounds = errors.New("length exceeds remaining input")
)

// Reader decodes WebAssembly binary primitives from a byte slice.
// Offsets reported in errors are absolute within the original input.
type Reader struct {
	data []byte
	pos  int
	base int
}

// NewReader creates a Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the absolute position of the next byte.
func (r *Reader) Offset() int {
	return r.base + r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.data) - r.pos
}

// Sub consumes the next n bytes and returns a Reader limited to them.
func (r *Reader) Sub(n int) (*Reader, error) {
	if n < 0 || n > r.Len() {
		return nil, r.wrap(ErrLengthBounds)
	}
	sub := &Reader{data: r.data[r.pos : r.pos+n], base: r.Offset()}
	r.pos += n
	return sub, nil
}

// Since returns the bytes consumed from start (an Offset value) to now.
func (r *Reader) Since(start int) []byte {
	return r.data[start-r.base : r.pos]
}

// Rest consumes and returns all unread bytes.
func (r *Reader) Rest() []byte {
	out := r.data[r.pos:]
	r.pos = len(r.data)
	return out
}

// ReadByte reads a single byte. It returns io.EOF only when the reader is
// exhausted before the call.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes. The result aliases the input.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Len() {
		return nil, r.wrap(io.ErrUnexpectedEOF)
	}
	out := r.data[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) next() (byte, error) {
	b, err := r.ReadByte()
	if err == io.EOF {
		return 0, r.wrap(io.ErrUnexpectedEOF)
	}
	return b, err
}

// ReadU32 reads an unsigned LEB128 uint32.
func (r *Reader) ReadU32() (uint32, error) {
	var result uint32
	for shift := uint(0); ; shift += 7 {
		if shift >= 35 {
			return 0, r.wrap(ErrOverflow)
		}
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		if shift == 28 && b&0x70 != 0 {
			return 0, r.wrap(ErrOverflow)
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadU64 reads an unsigned LEB128 uint64.
func (r *Reader) ReadU64() (uint64, error) {
	var result uint64
	for shift := uint(0); ; shift += 7 {
		if shift >= 70 {
			return 0, r.wrap(ErrOverflow)
		}
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadS32 reads a signed LEB128 int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.readSigned(35)
	return int32(v), err
}

// ReadS64 reads a signed LEB128 int64. Block types (s33) use it as well.
func (r *Reader) ReadS64() (int64, error) {
	return r.readSigned(70)
}

func (r *Reader) readSigned(limit uint) (int64, error) {
	var result int64
	var shift uint
	for {
		if shift >= limit {
			return 0, r.wrap(ErrOverflow)
		}
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
	}
}

// ReadName reads a length-prefixed UTF-8 name.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrap(ErrInvalidUTF8)
	}
	return string(data), nil
}

// ReadU32LE reads a fixed-width little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadU64LE reads a fixed-width little-endian uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (r *Reader) wrap(err error) error {
	return fmt.Errorf("at offset %d: %w", r.Offset(), err)
}

// ParseError attaches a section name and offset to a decoding failure.
type ParseError struct {
	Err     error
	Section string
	Offset  int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s section at offset %d: %v", e.Section, e.Offset, e.Err)
	}
	return fmt.Sprintf("wasm: at offset %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError at the current offset.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{Offset: r.Offset(), Section: section, Err: err}
}
