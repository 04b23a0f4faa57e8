package downloader

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// WorkDir is a temporary directory owned by a single download request
type WorkDir struct {
	path string
	once sync.Once
}

// NewWorkDir creates a fresh temporary directory under parent
// (os.TempDir() when parent is empty).
func NewWorkDir(parent string) (*WorkDir, error) {
	path, err := os.MkdirTemp(parent, "ytmeta-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return &WorkDir{path: path}, nil
}

// Path returns the directory path
func (w *WorkDir) Path() string { return w.path }

// Cleanup removes the directory and anything left in it. Safe to call more than once.
func (w *WorkDir) Cleanup() {
	w.once.Do(func() {
		if err := os.RemoveAll(w.path); err != nil {
			log.Printf("[download] warning: could not remove %s: %v", w.path, err)
		}
	})
}

// Artifact is a finished download moved to its stable location
type Artifact struct {
	// Path on disk, unique per request
	Path string
	// Name is the filename presented to the client
	Name string
	Size int64
}

// Remove deletes the artifact. A file that is already gone is not an error.
func (a *Artifact) Remove() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Relocate moves src into destDir so it outlives the request's WorkDir.
// The file on disk gets a unique prefix; Artifact.Name keeps the original basename.
func Relocate(src, destDir string) (*Artifact, error) {
	name := filepath.Base(src)
	dest := filepath.Join(destDir, uuid.NewString()+"-"+name)

	if err := os.Rename(src, dest); err != nil {
		// rename fails across filesystems (e.g. tmpfs /tmp to a disk-backed cwd)
		if cerr := copyFile(src, dest); cerr != nil {
			return nil, fmt.Errorf("failed to move %s: %w", name, cerr)
		}
		_ = os.Remove(src)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	return &Artifact{
		Path: dest,
		Name: name,
		Size: fi.Size(),
	}, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return err
	}
	return nil
}
