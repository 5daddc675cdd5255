package page_renderer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flipview/internal/cache"
	"flipview/internal/store"
)

type fakeDocument struct {
	pages    int
	failPage int
	failAt   float64 // fail only renders at this scale when set
	flat     int     // page reported with zero height
	rendered []int
	closed   bool
}

func (d *fakeDocument) PageCount() int { return d.pages }

func (d *fakeDocument) RenderPage(ctx context.Context, n int, scale, quality float64) (*Raster, error) {
	d.rendered = append(d.rendered, n)
	if n == d.failPage && (d.failAt == 0 || d.failAt == scale) {
		return nil, errors.New("corrupt page stream")
	}
	height := int(100 * scale)
	if n == d.flat {
		height = 0
	}
	return &Raster{
		Data:   []byte(fmt.Sprintf("page-%d@%g", n, scale)),
		Width:  int(80 * scale),
		Height: height,
	}, nil
}

func (d *fakeDocument) Close() error {
	d.closed = true
	return nil
}

type fakeBackend struct {
	doc   *fakeDocument
	err   error
	opens int
}

func (b *fakeBackend) Open(ctx context.Context, documentID string) (Document, error) {
	b.opens++
	if b.err != nil {
		return nil, b.err
	}
	return b.doc, nil
}

func pageNumbers(pages []cache.PageImage) []int {
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.PageNumber)
	}
	return out
}

func TestConverter_RendersAllPages(t *testing.T) {
	doc := &fakeDocument{pages: 3}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	pages, err := c.Render(context.Background(), "doc", cache.DefaultRenderOptions())
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, []int{1, 2, 3}, pageNumbers(pages))
	assert.Equal(t, []byte("page-1@1.5"), pages[0].ImageData)
	assert.Equal(t, 120, pages[0].Width)
	assert.Equal(t, 150, pages[0].Height)
	assert.Nil(t, pages[0].Thumbnail)
	assert.True(t, doc.closed)
}

func TestConverter_SkipsFailingPage(t *testing.T) {
	doc := &fakeDocument{pages: 12, failPage: 7}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	pages, err := c.Render(context.Background(), "doc", cache.DefaultRenderOptions())
	require.NoError(t, err)
	assert.Len(t, pages, 11)
	assert.NotContains(t, pageNumbers(pages), 7)
	assert.Equal(t, 12, len(doc.rendered))
}

func TestConverter_SkipsZeroDimensionPage(t *testing.T) {
	doc := &fakeDocument{pages: 3, flat: 2}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	pages, err := c.Render(context.Background(), "doc", cache.DefaultRenderOptions())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, pageNumbers(pages))
}

func TestConverter_OpenFailure(t *testing.T) {
	c := NewConverter(&fakeBackend{err: errors.New("not a pdf")}, zap.NewNop())

	pages, err := c.Render(context.Background(), "broken", cache.DefaultRenderOptions())
	require.Error(t, err)
	assert.Nil(t, pages)
	assert.True(t, cache.IsDocumentOpenFailure(err))
	assert.Contains(t, err.Error(), "the document could not be opened")
}

func TestConverter_MaxPages(t *testing.T) {
	doc := &fakeDocument{pages: 10}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	opts := cache.DefaultRenderOptions()
	opts.MaxPages = 4
	pages, err := c.Render(context.Background(), "doc", opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, pageNumbers(pages))

	opts.MaxPages = 50
	pages, err = c.Render(context.Background(), "doc", opts)
	require.NoError(t, err)
	assert.Len(t, pages, 10)
}

func TestConverter_Thumbnails(t *testing.T) {
	doc := &fakeDocument{pages: 2}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	opts := cache.DefaultRenderOptions()
	opts.ThumbnailScale = 0.25
	pages, err := c.Render(context.Background(), "doc", opts)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, []byte("page-2@0.25"), pages[1].Thumbnail)
}

func TestConverter_ThumbnailFailureSkipsPage(t *testing.T) {
	doc := &fakeDocument{pages: 3, failPage: 2, failAt: 0.25}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	opts := cache.DefaultRenderOptions()
	opts.ThumbnailScale = 0.25
	pages, err := c.Render(context.Background(), "doc", opts)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, pageNumbers(pages))
}

func TestConverter_Progress(t *testing.T) {
	doc := &fakeDocument{pages: 3, failPage: 2}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	type report struct{ percent, page int }
	var got []report
	opts := cache.DefaultRenderOptions()
	opts.OnProgress = func(percent, page int) {
		got = append(got, report{percent, page})
	}

	_, err := c.Render(context.Background(), "doc", opts)
	require.NoError(t, err)
	assert.Equal(t, []report{{33, 1}, {100, 3}}, got)
}

func TestConverter_CancelledBetweenPages(t *testing.T) {
	doc := &fakeDocument{pages: 5}
	c := NewConverter(&fakeBackend{doc: doc}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	opts := cache.DefaultRenderOptions()
	opts.OnProgress = func(percent, page int) {
		if page == 2 {
			cancel()
		}
	}

	_, err := c.Render(ctx, "doc", opts)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1, 2}, doc.rendered)
	assert.True(t, doc.closed)
}

func TestConverter_WithCache_PartialBatchIsCached(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{doc: &fakeDocument{pages: 12, failPage: 7}}
	st, err := store.NewFileStoreFS(memfs.New())
	require.NoError(t, err)

	o, err := cache.New(ctx, NewConverter(backend, zap.NewNop()), st, cache.DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	defer o.Close()

	first, err := o.RenderWithCache(ctx, "catalog-42", cache.DefaultRenderOptions())
	require.NoError(t, err)
	assert.Len(t, first, 11)

	second, err := o.RenderWithCache(ctx, "catalog-42", cache.DefaultRenderOptions())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.opens)
}

func TestJpegQuality(t *testing.T) {
	assert.Equal(t, 80, jpegQuality(0.8))
	assert.Equal(t, 100, jpegQuality(1))
	assert.Equal(t, 1, jpegQuality(0))
	assert.Equal(t, 76, jpegQuality(0.756))
}
