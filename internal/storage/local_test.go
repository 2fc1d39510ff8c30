package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir(), "http://localhost:8080", []byte("test-secret"))
	require.NoError(t, err)
	return l
}

func TestLocalPutGetDelete(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	key := SlideKey("doc1", 1)
	require.NoError(t, l.Put(ctx, key, []byte("<svg/>"), "image/svg+xml"))

	data, err := l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("<svg/>"), data)

	// Overwrite is atomic and replaces the content.
	require.NoError(t, l.Put(ctx, key, []byte("<svg>v2</svg>"), "image/svg+xml"))
	data, err = l.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("<svg>v2</svg>"), data)

	require.NoError(t, l.Delete(ctx, key))
	_, err = l.Get(ctx, key)
	assert.True(t, errors.Is(err, ErrNotExist))

	// Deleting again is fine.
	assert.NoError(t, l.Delete(ctx, key))
}

func TestLocalRejectsTraversal(t *testing.T) {
	l := newTestLocal(t)
	ctx := context.Background()

	for _, key := range []string{"../escape", "a/../../b", "/rooted", "a//b", ""} {
		assert.Error(t, l.Put(ctx, key, []byte("x"), "text/plain"), key)
	}
}

func TestLocalSignedURL(t *testing.T) {
	l := newTestLocal(t)
	now := time.Now()
	l.now = func() time.Time { return now }

	key := ResultKey("doc1")
	signed, err := l.SignedURL(key, time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, "http://localhost:8080/v1/files/doc1/result.json?"), signed)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	expires := u.Query().Get("expires")
	sig := u.Query().Get("signature")

	assert.True(t, l.VerifySignature(key, expires, sig))
	assert.False(t, l.VerifySignature("other/key", expires, sig))
	assert.False(t, l.VerifySignature(key, expires, "deadbeef"))
	assert.False(t, l.VerifySignature(key, "garbage", sig))

	// Expired URLs stop verifying.
	l.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.False(t, l.VerifySignature(key, expires, sig))
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "doc/slides/3.svg", SlideKey("doc", 3))
	assert.Equal(t, "doc/slides/thumbnails/3.png", ThumbnailKey("doc", 3))
	assert.Equal(t, "doc/result.json", ResultKey("doc"))
	assert.Equal(t, "doc/source.pptx", SourceKey("doc"))
	assert.Equal(t, "sess/translations.json", TranslationsKey("sess"))
	assert.Equal(t, "sess/export/job1.pptx", ExportKey("sess", "job1"))
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		key string
		ok  bool
	}{
		{"doc/result.json", true},
		{"a/b/c/d.svg", true},
		{"", false},
		{"/abs", false},
		{"a/../b", false},
		{"a//b", false},
		{".", false},
	}
	for _, tt := range tests {
		err := ValidKey(tt.key)
		if tt.ok {
			assert.NoError(t, err, tt.key)
		} else {
			assert.Error(t, err, fmt.Sprintf("key %q", tt.key))
		}
	}
}
