package storage

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Local stores artifacts under a directory on the local filesystem. Writes
// go through a temp file and rename so readers never observe partial
// objects. Signed URLs are HMAC-authenticated paths served by the API's
// file endpoint.
type Local struct {
	root      string
	secret    []byte
	publicURL string
	now       func() time.Time
}

// NewLocal creates a filesystem gateway rooted at dir. publicURL is the
// externally visible base (scheme and host) used in signed URLs; secret
// signs them, and an empty secret gets a random one, invalidating URLs
// across restarts.
func NewLocal(dir, publicURL string, secret []byte) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate url secret: %w", err)
		}
	}
	return &Local{root: dir, secret: secret, publicURL: publicURL, now: time.Now}, nil
}

func (l *Local) path(key string) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

func (l *Local) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, key)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (l *Local) Delete(ctx context.Context, key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// SignedURL issues a URL of the form
// {publicURL}/v1/files/{key}?expires={unix}&signature={hex}.
func (l *Local) SignedURL(key string, ttl time.Duration) (string, error) {
	if err := ValidKey(key); err != nil {
		return "", err
	}
	expires := l.now().Add(ttl).Unix()
	sig := l.sign(key, expires)
	return fmt.Sprintf("%s/v1/files/%s?expires=%d&signature=%s", l.publicURL, key, expires, sig), nil
}

// VerifySignature checks a signed file request. It returns false for bad
// signatures and expired URLs alike.
func (l *Local) VerifySignature(key, expiresStr, signature string) bool {
	expires, err := strconv.ParseInt(expiresStr, 10, 64)
	if err != nil {
		return false
	}
	if l.now().Unix() > expires {
		return false
	}
	want := l.sign(key, expires)
	return hmac.Equal([]byte(want), []byte(signature))
}

func (l *Local) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, l.secret)
	fmt.Fprintf(mac, "%s|%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

func (l *Local) Ping(ctx context.Context) error {
	if _, err := os.Stat(l.root); err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	return nil
}
