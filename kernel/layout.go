package kernel

// ElementSize is the width in bytes of one buffer element (float32).
const ElementSize = 4

// ByteOffset converts an element offset to a byte offset.
func ByteOffset(elementOffset int) uint64 {
	return uint64(elementOffset) * ElementSize
}

// CheckBounds verifies buf can hold count elements starting at element offset.
func CheckBounds(argument string, buf Buffer, offset, count int) error {
	if buf == nil {
		return &BufferBoundsError{Argument: argument, Offset: offset, Count: count}
	}
	n := buf.Len()
	if offset < 0 || count < 0 || offset > n || count > n-offset {
		return &BufferBoundsError{Argument: argument, Offset: offset, Count: count, Len: n}
	}
	return nil
}
