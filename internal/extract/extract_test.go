package extract

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSupports(t *testing.T) {
	e := New()

	require.True(t, e.Supports("application/pdf"))
	require.True(t, e.Supports(".pdf"))
	require.True(t, e.Supports("text/plain"))
	require.False(t, e.Supports("image/png"))
	require.False(t, e.Supports(""))
}

func TestExtractText(t *testing.T) {
	e := New()
	data := []byte("  hello document world\nsecond line  ")

	segments, err := e.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), "text/plain")
	require.NoError(t, err)
	require.Len(t, segments, 1)
	require.Equal(t, 1, segments[0].Page)
	require.Equal(t, "hello document world\nsecond line", segments[0].Text)
}

func TestExtractEmptyText(t *testing.T) {
	e := New()
	data := []byte("   \n  ")

	_, err := e.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), "text/plain")
	require.Error(t, err)
}

func TestExtractUnsupportedType(t *testing.T) {
	e := New()
	data := []byte("irrelevant")

	_, err := e.Extract(context.Background(), bytes.NewReader(data), int64(len(data)), "image/png")
	require.Error(t, err)
}

func TestExtractCancelledContext(t *testing.T) {
	e := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := []byte("hello")
	_, err := e.Extract(ctx, bytes.NewReader(data), int64(len(data)), "text/plain")
	require.ErrorIs(t, err, context.Canceled)
}
