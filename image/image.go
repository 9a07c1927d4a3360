// Package image defines the byte-addressable view over an
// application image that the flash orchestrator programs into
// device flash. Parsing Intel HEX (or any other on-disk format) into
// this shape is a separate concern; this package only specifies what
// a parser hands over once addresses are resolved into one
// contiguous run.
package image

import (
	"fmt"

	"github.com/franc0r/frankly-fw-update-cli/protocol"
)

// Image is a contiguous byte sequence of known length, addressed
// relative to the device flash start address. Bytes beyond LenBytes
// are treated as 0xFF fill.
type Image interface {
	// LenBytes returns the total image length.
	LenBytes() int

	// WordAt returns the little-endian 32-bit word at byteOffset,
	// with 0xFF fill beyond LenBytes. byteOffset must be 4-aligned.
	WordAt(byteOffset uint32) (uint32, error)
}

// ByteImage is an Image backed by a plain byte slice, the shape an
// Intel HEX parser would hand to this package once it has resolved
// absolute addresses into a contiguous run.
type ByteImage struct {
	data []byte
}

// NewByteImage wraps data as an Image. data is not copied.
func NewByteImage(data []byte) *ByteImage {
	return &ByteImage{data: data}
}

func (i *ByteImage) LenBytes() int { return len(i.data) }

func (i *ByteImage) WordAt(byteOffset uint32) (uint32, error) {
	if byteOffset%4 != 0 {
		return 0, fmt.Errorf("image: offset %d is not 4-aligned", byteOffset)
	}
	var p protocol.Payload
	for k := 0; k < 4; k++ {
		idx := int(byteOffset) + k
		if idx < len(i.data) {
			p[k] = i.data[idx]
		} else {
			p[k] = 0xFF
		}
	}
	return protocol.WordFromPayload(p), nil
}
