// Package cache implements the two-tier page render cache: a bounded
// in-memory tier of decoded page batches in front of a durable store.
package cache

import "context"

const (
	DefaultScale   = 1.5
	DefaultQuality = 0.8
)

// PageImage is one rendered page of a document.
type PageImage struct {
	PageNumber int    `json:"pageNumber"`
	ImageData  []byte `json:"imageData"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Thumbnail  []byte `json:"thumbnail,omitempty"`
}

// ProgressFunc receives the completed percentage and the page just rendered.
type ProgressFunc func(percent int, pageNumber int)

// RenderOptions together with a document ID determine cache identity.
// OnProgress is not part of the identity.
type RenderOptions struct {
	Scale          float64
	Quality        float64
	ThumbnailScale float64 // 0 disables thumbnails
	MaxPages       int     // 0 renders every page
	OnProgress     ProgressFunc
}

func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Scale: DefaultScale, Quality: DefaultQuality}
}

// WithDefaults fills unset fields and clamps out-of-range ones.
func (o RenderOptions) WithDefaults() RenderOptions {
	if o.Scale <= 0 {
		o.Scale = DefaultScale
	}
	if o.Quality <= 0 {
		o.Quality = DefaultQuality
	}
	if o.Quality > 1 {
		o.Quality = 1
	}
	if o.ThumbnailScale < 0 {
		o.ThumbnailScale = 0
	}
	if o.MaxPages < 0 {
		o.MaxPages = 0
	}
	return o
}

// Renderer converts a whole document into pages. Implementations skip pages
// that fail and return an error only when the document can't be opened.
type Renderer interface {
	Render(ctx context.Context, documentID string, opts RenderOptions) ([]PageImage, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(ctx context.Context, documentID string, opts RenderOptions) ([]PageImage, error)

func (f RendererFunc) Render(ctx context.Context, documentID string, opts RenderOptions) ([]PageImage, error) {
	return f(ctx, documentID, opts)
}
