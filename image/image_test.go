package image_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franc0r/frankly-fw-update-cli/image"
)

func TestByteImageWordAt(t *testing.T) {
	img := image.NewByteImage([]byte{0x04, 0x03, 0x02, 0x01, 0xAA, 0xBB, 0xCC, 0xDD})
	w, err := img.WordAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), w)

	w, err = img.WordAt(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDDCCBBAA), w)
}

func TestByteImagePastEndIsFill(t *testing.T) {
	img := image.NewByteImage([]byte{0x01, 0x02})
	w, err := img.WordAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFF0201), w)

	w, err = img.WordAt(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFFFFFF), w)
}

func TestByteImageUnalignedOffset(t *testing.T) {
	img := image.NewByteImage([]byte{0, 1, 2, 3})
	_, err := img.WordAt(1)
	require.Error(t, err)
}

func TestByteImageLen(t *testing.T) {
	img := image.NewByteImage(make([]byte, 300))
	assert.Equal(t, 300, img.LenBytes())
}
