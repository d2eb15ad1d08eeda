package wasm_test

import (
	"bytes"
	"testing"

	"github.com/wippyai/wasabi/wasm"
)

func TestAppendU32(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xff, 0x7f}, 16383},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
		{[]byte{0xff, 0xff, 0xff, 0xff, 0x0f}, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		got := wasm.AppendU32(nil, tt.value)
		if !bytes.Equal(got, tt.encoded) {
			t.Errorf("encode %d: got %v, want %v", tt.value, got, tt.encoded)
		}
		v, n, err := wasm.ReadU32(tt.encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", tt.encoded, err)
		}
		if v != tt.value || n != len(tt.encoded) {
			t.Errorf("decode %v: got %d (%d bytes)", tt.encoded, v, n)
		}
	}
}

func TestAppendS32(t *testing.T) {
	tests := []struct {
		encoded []byte
		value   int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, -1},
		{[]byte{0x3f}, 63},
		{[]byte{0xc0, 0x00}, 64},
		{[]byte{0x40}, -64},
		{[]byte{0x80, 0x7f}, -128},
	}
	for _, tt := range tests {
		got := wasm.AppendS32(nil, tt.value)
		if !bytes.Equal(got, tt.encoded) {
			t.Errorf("encode %d: got %v, want %v", tt.value, got, tt.encoded)
		}
		v, _, err := wasm.ReadS64(tt.encoded)
		if err != nil {
			t.Fatalf("decode %v: %v", tt.encoded, err)
		}
		if int32(v) != tt.value {
			t.Errorf("decode %v: got %d", tt.encoded, v)
		}
	}
}

func TestAppendS64Extremes(t *testing.T) {
	for _, v := range []int64{-1 << 63, 1<<63 - 1, -1, 0} {
		enc := wasm.AppendS64(nil, v)
		got, n, err := wasm.ReadS64(enc)
		if err != nil {
			t.Fatalf("%d: %v", v, err)
		}
		if got != v || n != len(enc) {
			t.Errorf("%d: got %d", v, got)
		}
	}
}
