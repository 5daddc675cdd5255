package cache

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Codec shrinks page batches for the persistent tier. The wire form is the
// JSON page batch compressed with zstd.
type Codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

// Compress encodes pages into a compressed payload.
func (c *Codec) Compress(pages []PageImage) ([]byte, error) {
	raw, err := encodePages(pages)
	if err != nil {
		return nil, err
	}
	return c.compressRaw(raw)
}

// Decompress is the exact inverse of Compress.
func (c *Codec) Decompress(payload []byte) ([]PageImage, error) {
	raw, err := c.dec.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress pages: %w", err)
	}
	return decodePages(raw)
}

func (c *Codec) compressRaw(raw []byte) ([]byte, error) {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

func encodePages(pages []PageImage) ([]byte, error) {
	if pages == nil {
		pages = []PageImage{}
	}
	raw, err := json.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pages: %w", err)
	}
	return raw, nil
}

func decodePages(raw []byte) ([]PageImage, error) {
	var pages []PageImage
	if err := json.Unmarshal(raw, &pages); err != nil {
		return nil, fmt.Errorf("failed to decode pages: %w", err)
	}
	return pages, nil
}
