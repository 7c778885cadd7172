package evidence

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/metrics"
)

// ErrInvalidRef is returned for references that could not have been produced by Save.
var ErrInvalidRef = errors.New("invalid evidence ref")

var refPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.jpg$`)

// Store persists annotated evidence images. A ref returned by Save is opaque
// and resolvable for as long as the store's directory is kept.
type Store interface {
	Save(ctx context.Context, data []byte) (string, error)
	Exists(ref string) bool
	Load(ref string) ([]byte, error)
}

// FileStore writes one JPEG per alarm under Dir.
type FileStore struct {
	dir   string
	cache *lru.Cache[string, []byte]
}

// NewFileStore creates dir if needed. cacheSize <= 0 disables the read cache.
func NewFileStore(dir string, cacheSize int) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	s := &FileStore{dir: dir}
	if cacheSize > 0 {
		c, err := lru.New[string, []byte](cacheSize)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

func (s *FileStore) Dir() string { return s.dir }

// Save writes data to a fresh <uuid>.jpg via temp file and rename, so a ref
// never points at a partial file.
func (s *FileStore) Save(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", alarms.ErrEvidencePersistFailure, err)
	}
	ref := uuid.NewString() + ".jpg"

	tmp, err := os.CreateTemp(s.dir, ".evidence-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", alarms.ErrEvidencePersistFailure, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: %v", alarms.ErrEvidencePersistFailure, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("%w: %v", alarms.ErrEvidencePersistFailure, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", alarms.ErrEvidencePersistFailure, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, ref)); err != nil {
		cleanup()
		return "", fmt.Errorf("%w: %v", alarms.ErrEvidencePersistFailure, err)
	}
	return ref, nil
}

func (s *FileStore) Exists(ref string) bool {
	if !refPattern.MatchString(ref) {
		return false
	}
	_, err := os.Stat(filepath.Join(s.dir, ref))
	return err == nil
}

// Load returns the stored bytes. Missing files map to alarms.ErrNotFound.
func (s *FileStore) Load(ref string) ([]byte, error) {
	if !refPattern.MatchString(ref) {
		return nil, ErrInvalidRef
	}
	if s.cache != nil {
		if b, ok := s.cache.Get(ref); ok {
			metrics.EvidenceCacheTotal.WithLabelValues("hit").Inc()
			return b, nil
		}
		metrics.EvidenceCacheTotal.WithLabelValues("miss").Inc()
	}

	b, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, alarms.ErrNotFound
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.Add(ref, b)
	}
	return b, nil
}
