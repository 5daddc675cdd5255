package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

// GenerateKey derives the cache key for a document rendered with opts.
// The document ID is length-prefixed so no two (id, options) pairs share
// a composite string.
func GenerateKey(documentID string, opts RenderOptions) string {
	opts = opts.WithDefaults()
	composite := fmt.Sprintf("%d:%s|scale=%s|quality=%s|thumb=%s|max=%d",
		len(documentID), documentID,
		formatFloat(opts.Scale),
		formatFloat(opts.Quality),
		formatFloat(opts.ThumbnailScale),
		opts.MaxPages,
	)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
