package page_renderer

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"flipview/internal/cache"
)

// Raster is one encoded page image.
type Raster struct {
	Data   []byte
	Width  int
	Height int
}

// Document is an opened source document. Pages are numbered from 1.
type Document interface {
	PageCount() int
	RenderPage(ctx context.Context, pageNumber int, scale, quality float64) (*Raster, error)
	Close() error
}

// Backend opens documents by ID.
type Backend interface {
	Open(ctx context.Context, documentID string) (Document, error)
}

// Converter turns a document into a page batch. It implements cache.Renderer.
type Converter struct {
	backend Backend
	logger  *zap.Logger
}

var _ cache.Renderer = (*Converter)(nil)

func NewConverter(backend Backend, logger *zap.Logger) *Converter {
	return &Converter{
		backend: backend,
		logger:  logger,
	}
}

// Render converts every page of documentID. Pages that fail are skipped, so
// the result may be shorter than the document. Only a failure to open the
// document is returned as an error, plus ctx cancellation between pages.
func (c *Converter) Render(ctx context.Context, documentID string, opts cache.RenderOptions) ([]cache.PageImage, error) {
	doc, err := c.backend.Open(ctx, documentID)
	if err != nil {
		c.logger.Warn("Failed to open document", zap.String("document_id", documentID), zap.Error(err))
		return nil, cache.DocumentOpenFailure(documentID, err)
	}
	defer func() {
		if err := doc.Close(); err != nil {
			c.logger.Debug("Failed to close document", zap.String("document_id", documentID), zap.Error(err))
		}
	}()

	total := doc.PageCount()
	if opts.MaxPages > 0 && opts.MaxPages < total {
		total = opts.MaxPages
	}

	pages := make([]cache.PageImage, 0, total)
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := c.renderPage(ctx, doc, n, opts)
		if err != nil {
			c.logger.Warn("Skipping page",
				zap.String("document_id", documentID),
				zap.Int("page", n),
				zap.Error(err))
			continue
		}
		pages = append(pages, *page)

		if opts.OnProgress != nil {
			opts.OnProgress(progressPercent(n, total), n)
		}
	}

	return pages, nil
}

func (c *Converter) renderPage(ctx context.Context, doc Document, n int, opts cache.RenderOptions) (*cache.PageImage, error) {
	primary, err := doc.RenderPage(ctx, n, opts.Scale, opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to render page: %w", err)
	}
	if primary.Width <= 0 || primary.Height <= 0 {
		return nil, fmt.Errorf("invalid page dimensions %dx%d", primary.Width, primary.Height)
	}

	page := &cache.PageImage{
		PageNumber: n,
		ImageData:  primary.Data,
		Width:      primary.Width,
		Height:     primary.Height,
	}

	if opts.ThumbnailScale > 0 {
		thumb, err := doc.RenderPage(ctx, n, opts.ThumbnailScale, opts.Quality)
		if err != nil {
			return nil, fmt.Errorf("failed to render thumbnail: %w", err)
		}
		page.Thumbnail = thumb.Data
	}

	return page, nil
}

func progressPercent(page, total int) int {
	return int(math.Round(float64(page) / float64(total) * 100))
}
