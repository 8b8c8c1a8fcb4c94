package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docmind/pkg/domain"
)

const defaultPresignExpiry = 15 * time.Minute

// Artifact is an uploaded document file.
type Artifact struct {
	Key string
	URL string
}

// ArtifactStore derives collision-resistant keys for uploads and never
// overwrites an existing object.
type ArtifactStore struct {
	objects       ObjectStore
	now           func() time.Time
	presignExpiry time.Duration
}

// NewArtifactStore wraps an ObjectStore.
func NewArtifactStore(objects ObjectStore) *ArtifactStore {
	return &ArtifactStore{
		objects:       objects,
		now:           time.Now,
		presignExpiry: defaultPresignExpiry,
	}
}

// Store uploads data for ownerID. Every failure, a key collision included,
// wraps domain.ErrStore.
func (s *ArtifactStore) Store(ctx context.Context, ownerID, originalName string, data []byte, contentType string) (Artifact, error) {
	if strings.TrimSpace(ownerID) == "" {
		return Artifact{}, fmt.Errorf("%w: owner id required", domain.ErrValidation)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := BuildKey(ownerID, originalName, s.now())
	obj, err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, true)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return Artifact{Key: obj.Key, URL: obj.URL}, nil
}

// Remove deletes a stored artifact.
func (s *ArtifactStore) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := s.objects.Delete(ctx, key); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return nil
}

// DownloadURL returns a short-lived pre-signed URL for key.
func (s *ArtifactStore) DownloadURL(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("storage key missing")
	}
	u, err := s.objects.PresignGet(ctx, key, s.presignExpiry)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrStore, err)
	}
	return u, nil
}

// BuildKey returns documents/<owner>/<unix-nanos>-<name>.
func BuildKey(ownerID, originalName string, at time.Time) string {
	owner := sanitizeFilename(ownerID)
	if owner == "" {
		owner = "unknown"
	}
	name := sanitizeFilename(filepath.Base(strings.ReplaceAll(originalName, `\`, "/")))
	if name == "" || name == "." || name == "_" {
		name = "document"
	}
	return path.Join("documents", owner, fmt.Sprintf("%d-%s", at.UTC().UnixNano(), name))
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f && (r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '.' || r == '-' || r == '_') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if len(out) > 120 {
		out = out[len(out)-120:]
	}
	return out
}
