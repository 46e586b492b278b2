package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	ErrFileNotFound      = fmt.Errorf("filesystem: file not found")
	ErrDirectoryNotFound = fmt.Errorf("filesystem: directory not found")
	ErrInvalidPath       = fmt.Errorf("filesystem: invalid path")
)

// Root gives access to the regular files below a directory. Paths are
// slash separated and relative to the root; they may not leave it, neither
// through ".." nor through symbolic links.
type Root struct {
	dir  string
	root *os.Root
}

func NewRoot(dir string) (*Root, error) {
	if dir == "" {
		return nil, ErrInvalidPath
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, dir)
	}

	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, err
	}
	return &Root{dir: abs, root: root}, nil
}

// Dir returns the absolute path of the root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve cleans name and returns it relative to the root, or
// ErrInvalidPath when it would escape the root.
func (r *Root) Resolve(name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 || strings.Contains(name, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}

	cleaned := path.Clean("/" + name)
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
		}
	}

	rel := strings.TrimPrefix(cleaned, "/")
	if rel == "" {
		rel = "."
	}
	return rel, nil
}

// Open opens the regular file name for reading. The caller closes the file.
func (r *Root) Open(name string) (*os.File, os.FileInfo, error) {
	rel, err := r.Resolve(name)
	if err != nil {
		return nil, nil, err
	}

	f, err := r.root.Open(rel)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrInvalidPath, name, err)
	}

	info, err := f.Stat()
	if err != nil {
		closeFile(f)
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		closeFile(f)
		return nil, nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return f, info, nil
}

// WriteFile creates or truncates name and writes content to it, creating
// missing parent directories.
func (r *Root) WriteFile(name string, content []byte) error {
	rel, err := r.Resolve(name)
	if err != nil {
		return err
	}
	if rel == "." {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}

	if dir := path.Dir(rel); dir != "." {
		if err := r.mkdirAll(dir); err != nil {
			return err
		}
	}

	f, err := r.root.OpenFile(rel, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		closeFile(f)
		return err
	}
	return f.Close()
}

func (r *Root) mkdirAll(dir string) error {
	var current string
	for _, segment := range strings.Split(dir, "/") {
		current = path.Join(current, segment)
		if err := r.root.Mkdir(current, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

func (r *Root) Close() error {
	return r.root.Close()
}

func closeFile(f *os.File) {
	if err := f.Close(); err != nil {
		slog.Error("closing file error", "error", err)
	}
}
