package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	s, err := New(ctx, Config{Type: "file", FileDir: t.TempDir()}, log)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = New(ctx, Config{Type: "disabled"}, log)
	require.NoError(t, err)
	assert.IsType(t, &NoopStore{}, s)

	_, err = New(ctx, Config{Type: "floppy"}, log)
	assert.ErrorContains(t, err, "unknown store type")
}
