package compile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore is where compiled agents are written and read back from.
type ArtifactStore interface {
	// Path is the file a compile of name for platform writes to
	Path(name, platform string) string
	// Fetch returns the artifact, or ErrArtifactNotFound
	Fetch(ctx context.Context, name, platform string) ([]byte, error)
}

// DirStore keeps artifacts in a single directory as <name>-<platform>.
type DirStore struct {
	Dir string
}

var _ ArtifactStore = &DirStore{}

func (s *DirStore) Path(name, platform string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s-%s", name, platform))
}

func (s *DirStore) Fetch(ctx context.Context, name, platform string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name, platform))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s-%s", ErrArtifactNotFound, name, platform)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s-%s: %w", name, platform, err)
	}

	return data, nil
}
