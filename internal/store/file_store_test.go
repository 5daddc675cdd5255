package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	s, err := NewFileStoreFS(memfs.New())
	require.NoError(t, err)
	runStoreContract(t, s)
}

func TestFileStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, testEntry("disk-key", time.Now())))

	// A second store over the same directory sees the entry
	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "disk-key")
	require.NoError(t, err)
	assert.Equal(t, "disk-key", got.Key)
}

func TestFileStore_SkipsCorruptFiles(t *testing.T) {
	fs := memfs.New()
	s, err := NewFileStoreFS(fs)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, testEntry("good", time.Now())))
	require.NoError(t, util.WriteFile(fs, "entries/garbage.json", []byte("{not json"), 0644))

	metas, err := s.ScanByTimestamp(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "good", metas[0].Key)
}
