package layer

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/openfluke/strand/kernel"
)

// DimensionsSize is the encoded size of Dimensions in bytes.
const DimensionsSize = 8

// ErrDimensionsLayout is returned when decoding a buffer of the wrong size.
var ErrDimensionsLayout = errors.New("dimensions: expected 8 bytes")

// Dimensions is the per-dispatch shape metadata handed to elementwise kernels.
//
// Layout: batchSize as little-endian u32 at byte 0, size as little-endian u32
// at byte 4. Kernels read it as
//
//	struct Dimensions { batch_size: u32, size: u32 }
type Dimensions struct {
	BatchSize uint32
	Size      uint32
}

// NewDimensions validates batchSize and size and checks that the element
// count fits the kernels' 32-bit indexing and the host int.
func NewDimensions(batchSize, size int) (Dimensions, error) {
	if batchSize < 0 {
		return Dimensions{}, errors.Wrapf(ErrNegativeBatch, "batch size %d", batchSize)
	}
	if size <= 0 {
		return Dimensions{}, errors.Errorf("dimensions: size must be positive, got %d", size)
	}
	if n := uint64(batchSize) * uint64(size); n > math.MaxUint32 || n > math.MaxInt {
		return Dimensions{}, errors.Wrapf(kernel.ErrDimensionOverflow,
			"dimensions: %d x %d", batchSize, size)
	}
	return Dimensions{BatchSize: uint32(batchSize), Size: uint32(size)}, nil
}

// Elements returns BatchSize*Size without overflow.
func (d Dimensions) Elements() uint64 {
	return uint64(d.BatchSize) * uint64(d.Size)
}

// Count returns Elements as an int, or -1 when it does not fit.
// Values built by NewDimensions always fit.
func (d Dimensions) Count() int {
	n := d.Elements()
	if n > math.MaxInt {
		return -1
	}
	return int(n)
}

// MarshalBinary packs d in the kernel argument layout.
func (d Dimensions) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DimensionsSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.BatchSize)
	binary.LittleEndian.PutUint32(buf[4:8], d.Size)
	return buf, nil
}

// UnmarshalBinary unpacks data produced by MarshalBinary.
func (d *Dimensions) UnmarshalBinary(data []byte) error {
	if len(data) != DimensionsSize {
		return errors.Wrapf(ErrDimensionsLayout, "got %d", len(data))
	}
	d.BatchSize = binary.LittleEndian.Uint32(data[0:4])
	d.Size = binary.LittleEndian.Uint32(data[4:8])
	return nil
}
