package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/require"

	"flipview/internal/store"
)

func makePages(n int) []PageImage {
	pages := make([]PageImage, 0, n)
	for i := 1; i <= n; i++ {
		pages = append(pages, PageImage{
			PageNumber: i,
			ImageData:  []byte(fmt.Sprintf("jpeg-bytes-of-page-%d", i)),
			Width:      1240,
			Height:     1754,
		})
	}
	return pages
}

func newMemStore(t *testing.T) *store.FileStore {
	t.Helper()
	s, err := store.NewFileStoreFS(memfs.New())
	require.NoError(t, err)
	return s
}

// stepClock returns a clock that advances by step on every call.
func stepClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(step)
		return now
	}
}

type fakeRenderer struct {
	calls   atomic.Int32
	pages   int
	err     error
	release chan struct{} // when set, Render blocks until it is closed
}

func (f *fakeRenderer) Render(ctx context.Context, documentID string, opts RenderOptions) ([]PageImage, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return makePages(f.pages), nil
}

// blockingRenderer signals started and holds the render until release is
// closed or its ctx ends.
type blockingRenderer struct {
	calls   atomic.Int32
	pages   int
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingRenderer(pages int) *blockingRenderer {
	return &blockingRenderer{
		pages:   pages,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingRenderer) Render(ctx context.Context, documentID string, opts RenderOptions) ([]PageImage, error) {
	b.calls.Add(1)
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return makePages(b.pages), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
