package kernel

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type lenBuffer int

func (b lenBuffer) Len() int { return int(b) }

func TestByteOffset(t *testing.T) {
	assert.Equal(t, uint64(0), ByteOffset(0))
	assert.Equal(t, uint64(12), ByteOffset(3))
	assert.Equal(t, uint64(20), ByteOffset(5))
}

func TestCheckBounds(t *testing.T) {
	assert.NoError(t, CheckBounds("input", lenBuffer(8), 0, 8))
	assert.NoError(t, CheckBounds("input", lenBuffer(11), 3, 8))
	assert.NoError(t, CheckBounds("input", lenBuffer(4), 4, 0))

	cases := []struct {
		name   string
		buf    Buffer
		offset int
		count  int
	}{
		{"too short", lenBuffer(7), 0, 8},
		{"offset pushes past end", lenBuffer(10), 3, 8},
		{"offset past end", lenBuffer(4), 5, 0},
		{"negative offset", lenBuffer(8), -1, 1},
		{"nil buffer", nil, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckBounds("output", tc.buf, tc.offset, tc.count)
			var bounds *BufferBoundsError
			if assert.True(t, errors.As(err, &bounds)) {
				assert.Equal(t, "output", bounds.Argument)
				assert.Equal(t, tc.offset, bounds.Offset)
				assert.Equal(t, tc.count, bounds.Count)
			}
		})
	}
}
