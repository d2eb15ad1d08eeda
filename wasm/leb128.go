package wasm

import "github.com/wippyai/wasabi/wasm/internal/binary"

// AppendU32 appends v as unsigned LEB128.
func AppendU32(dst []byte, v uint32) []byte {
	return binary.AppendU64(dst, uint64(v))
}

// AppendU64 appends v as unsigned LEB128.
func AppendU64(dst []byte, v uint64) []byte {
	return binary.AppendU64(dst, v)
}

// AppendS32 appends v as signed LEB128.
func AppendS32(dst []byte, v int32) []byte {
	return binary.AppendS64(dst, int64(v))
}

// AppendS64 appends v as signed LEB128.
func AppendS64(dst []byte, v int64) []byte {
	return binary.AppendS64(dst, v)
}

// ReadU32 decodes an unsigned LEB128 uint32 from the start of data and
// returns the value and the number of bytes consumed.
func ReadU32(data []byte) (uint32, int, error) {
	r := binary.NewReader(data)
	v, err := r.ReadU32()
	return v, r.Offset(), err
}

// ReadS64 decodes a signed LEB128 int64 from the start of data.
func ReadS64(data []byte) (int64, int, error) {
	r := binary.NewReader(data)
	v, err := r.ReadS64()
	return v, r.Offset(), err
}
