package avatar

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
)

// PublicPrefix is the URL prefix avatars are served under.
const PublicPrefix = "avatars"

type Store interface {
	// Save writes data under name and returns the relative URL of the stored file.
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LocalStore keeps avatars on disk in a directory served statically.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	name = filepath.Base(name)

	// write next to the destination and rename, so readers never see a partial file
	tmp, err := os.CreateTemp(s.dir, ".avatar-*")
	if err != nil {
		return "", fmt.Errorf("create temp avatar: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write avatar: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close avatar: %w", err)
	}

	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("chmod avatar: %w", err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("move avatar: %w", err)
	}

	return path.Join(PublicPrefix, name), nil
}
