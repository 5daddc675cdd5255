package cache

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	withThumbs := makePages(3)
	for i := range withThumbs {
		withThumbs[i].Thumbnail = []byte{0xff, 0xd8, byte(i)}
	}

	batches := map[string][]PageImage{
		"empty":       {},
		"single":      makePages(1),
		"many":        makePages(40),
		"thumbnails":  withThumbs,
		"large image": {{PageNumber: 1, ImageData: bytes.Repeat([]byte{0xab}, 200000), Width: 1, Height: 1}},
	}

	for name, pages := range batches {
		t.Run(name, func(t *testing.T) {
			payload, err := codec.Compress(pages)
			require.NoError(t, err)

			got, err := codec.Decompress(payload)
			require.NoError(t, err)
			assert.Equal(t, pages, got)
		})
	}
}

func TestCodec_DecompressGarbage(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.Decompress([]byte("definitely not zstd"))
	assert.Error(t, err)
}
