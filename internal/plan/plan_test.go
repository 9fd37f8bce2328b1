package plan

import (
	"errors"
	"testing"

	"github.com/luminachat/lumina/internal/apperr"
	"github.com/stretchr/testify/require"
)

func TestBySlug(t *testing.T) {
	require.Equal(t, "free", BySlug("free").Slug)
	require.Equal(t, "pro", BySlug("pro").Slug)
	require.Equal(t, "free", BySlug("").Slug, "empty slug falls back to free")
	require.Equal(t, "free", BySlug("enterprise").Slug, "unknown slug falls back to free")
}

func TestCheckPages(t *testing.T) {
	free := BySlug("free")

	tests := []struct {
		name     string
		segments int
		wantErr  bool
	}{
		{"well under limit", 3, false},
		{"exactly at limit", free.PagesPerPDF, false},
		{"one over limit", free.PagesPerPDF + 1, true},
		{"far over limit", 150, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPages(free, tt.segments)
			if tt.wantErr {
				require.True(t, errors.Is(err, apperr.ErrQuotaExceeded))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestCheckFileCount(t *testing.T) {
	free := BySlug("free")

	require.NoError(t, CheckFileCount(free, 0))
	require.NoError(t, CheckFileCount(free, free.Quota-1))
	require.True(t, errors.Is(CheckFileCount(free, free.Quota), apperr.ErrQuotaExceeded))
}
