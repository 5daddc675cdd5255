package page_renderer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
)

// PathResolver maps a document ID to the file on disk. Empty means unknown.
type PathResolver interface {
	GetDocumentPathByID(id string) string
}

// VipsBackend loads PDF and TIFF documents with libvips.
type VipsBackend struct {
	resolver PathResolver
	logger   *zap.Logger
}

func NewVipsBackend(resolver PathResolver, logger *zap.Logger) *VipsBackend {
	return &VipsBackend{
		resolver: resolver,
		logger:   logger,
	}
}

func (b *VipsBackend) Open(ctx context.Context, documentID string) (Document, error) {
	path := b.resolver.GetDocumentPathByID(documentID)
	if path == "" {
		return nil, fmt.Errorf("document not found: %s", documentID)
	}

	doc := &vipsDocument{
		path:   path,
		format: strings.ToLower(filepath.Ext(path)),
	}

	// Loading the first page validates the file and exposes the page count
	first, err := doc.load(0, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer first.Close()

	doc.pages = first.Pages()
	if doc.pages <= 0 {
		return nil, fmt.Errorf("document has no pages: %s", documentID)
	}

	b.logger.Debug("Opened document",
		zap.String("document_id", documentID),
		zap.String("path", path),
		zap.Int("pages", doc.pages))
	return doc, nil
}

type vipsDocument struct {
	path   string
	format string
	pages  int
}

func (d *vipsDocument) PageCount() int {
	return d.pages
}

func (d *vipsDocument) RenderPage(ctx context.Context, pageNumber int, scale, quality float64) (*Raster, error) {
	if pageNumber < 1 || pageNumber > d.pages {
		return nil, fmt.Errorf("page %d out of range 1..%d", pageNumber, d.pages)
	}

	image, err := d.load(pageNumber-1, scale)
	if err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}
	defer image.Close()

	// PDF pages are rasterized at the requested scale, raster formats are resized
	if d.format != ".pdf" && scale != 1 {
		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := image.Resize(scale, resizeOpts); err != nil {
			return nil, fmt.Errorf("failed to resize: %w", err)
		}
	}

	jpegOpts := vips.DefaultJpegsaveBufferOptions()
	jpegOpts.Q = jpegQuality(quality)
	jpegOpts.Interlace = false

	data, err := image.JpegsaveBuffer(jpegOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to export: %w", err)
	}

	return &Raster{
		Data:   data,
		Width:  image.Width(),
		Height: image.Height(),
	}, nil
}

func (d *vipsDocument) Close() error {
	return nil
}

// load reads a single page (0-based) of the document.
func (d *vipsDocument) load(page int, scale float64) (*vips.Image, error) {
	switch d.format {
	case ".pdf":
		opts := vips.DefaultPdfloadOptions()
		opts.Page = page
		opts.N = 1
		opts.Scale = scale
		opts.Access = vips.AccessSequential
		return vips.NewPdfload(d.path, opts)
	case ".tif", ".tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Page = page
		opts.N = 1
		opts.Access = vips.AccessSequential
		return vips.NewTiffload(d.path, opts)
	default:
		return nil, fmt.Errorf("unsupported document format: %s", d.format)
	}
}

func jpegQuality(quality float64) int {
	q := int(math.Round(quality * 100))
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
