package files

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pocketbase/pocketbase/tools/filesystem"
	"golang.org/x/crypto/blake2b"
)

// maxBlobBytes bounds a single read so a lying Content-Length cannot exhaust memory.
const maxBlobBytes = 10<<20 + 1

var ErrTooLarge = errors.New("files: upload exceeds size limit")

// Store keeps uploaded registration files in a PocketBase filesystem.
// Every Save gets its own key, so removing one upload never touches another
// submission's blob even when the bytes match.
type Store struct {
	fs *filesystem.System
}

func NewStore(fs *filesystem.System) *Store {
	return &Store{fs: fs}
}

// NewLocalStore opens a store rooted at dir on local disk.
func NewLocalStore(dir string) (*Store, error) {
	fs, err := filesystem.NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("open local filesystem: %w", err)
	}
	return &Store{fs: fs}, nil
}

// Save writes the blob under dir and returns its key and size.
func (s *Store) Save(ctx context.Context, dir, originalName string, r io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBlobBytes))
	if err != nil {
		return "", 0, fmt.Errorf("read upload: %w", err)
	}
	if len(data) >= maxBlobBytes {
		return "", 0, ErrTooLarge
	}

	key := path.Join(dir, blobName(data, originalName))
	if err := s.fs.Upload(data, key); err != nil {
		return "", 0, fmt.Errorf("upload %s: %w", key, err)
	}
	return key, int64(len(data)), nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ok, err := s.fs.Exists(key)
	if err != nil {
		return fmt.Errorf("stat %s: %w", key, err)
	}
	if !ok {
		return nil
	}
	if err := s.fs.Delete(key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Exists(key string) (bool, error) {
	return s.fs.Exists(key)
}

func (s *Store) Close() error {
	return s.fs.Close()
}

func blobName(data []byte, originalName string) string {
	sum := blake2b.Sum256(data)
	name := hex.EncodeToString(sum[:8]) + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	ext := strings.ToLower(filepath.Ext(originalName))
	if ext != "" && len(ext) <= 10 && isSafeExt(ext[1:]) {
		name += ext
	}
	return name
}

func isSafeExt(ext string) bool {
	if ext == "" {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
