package cpu

import (
	"unsafe"

	"github.com/openfluke/strand/kernel"
)

// Buffer is host memory addressed as float32 elements.
type Buffer struct {
	label   string
	data    []float32
	byteLen int
}

var _ kernel.Buffer = (*Buffer)(nil)

// newByteBuffer copies raw bytes into float32-aligned storage.
func newByteBuffer(raw []byte, label string) *Buffer {
	n := (len(raw) + kernel.ElementSize - 1) / kernel.ElementSize
	b := &Buffer{label: label, data: make([]float32, n), byteLen: len(raw)}
	copy(b.Bytes(), raw)
	return b
}

// Len is the element count; a nil buffer holds none.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.data)
}

func (b *Buffer) Label() string { return b.label }

// Floats returns the live contents of the buffer.
func (b *Buffer) Floats() []float32 { return b.data }

// Bytes returns the live contents of the buffer as bytes.
func (b *Buffer) Bytes() []byte {
	if len(b.data) == 0 {
		return nil
	}
	//nolint:gosec // the float32 backing array is at least byteLen bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.data[0])), b.byteLen)
}
