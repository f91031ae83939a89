package capability

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
)

// ErrOutsideRoot is returned for paths that leave the FS root.
var ErrOutsideRoot = errors.New("path escapes the sandbox root")

// FS is a read-only view of one directory tree. Paths are slash separated
// and relative to the root; symlinks cannot leave it.
type FS struct {
	root *os.Root
	fsys fs.FS

	// MaxFileSize is the maximum number of bytes Read returns.
	MaxFileSize int64

	// ExcludeDirs are directory names hidden from listings and globs.
	ExcludeDirs []string
}

// OpenFS opens dir as the root of a read-only FS.
func OpenFS(dir string) (*FS, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open fs root: %w", err)
	}
	return &FS{
		root:        root,
		fsys:        root.FS(),
		MaxFileSize: 1024 * 1024,
		ExcludeDirs: []string{".git", "node_modules", "__pycache__", ".venv", "vendor"},
	}, nil
}

// Close releases the root directory handle.
func (f *FS) Close() error {
	return f.root.Close()
}

// resolvePath converts a user path into an fs.FS path inside the root.
func (f *FS) resolvePath(p string) (string, error) {
	// Absolute paths are taken as relative to the root.
	cleaned := path.Clean(strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		cleaned = "."
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || !fs.ValidPath(cleaned) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, p)
	}
	return cleaned, nil
}

// List returns the entries of the directory at p.
func (f *FS) List(p string) ([]map[string]any, error) {
	resolved, err := f.resolvePath(p)
	if err != nil {
		return nil, err
	}

	entries, err := fs.ReadDir(f.fsys, resolved)
	if err != nil {
		return nil, err
	}

	result := []map[string]any{}
	for _, entry := range entries {
		if entry.IsDir() && f.isExcludedDir(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		result = append(result, map[string]any{
			"name":  entry.Name(),
			"isDir": entry.IsDir(),
			"size":  info.Size(),
		})
	}
	return result, nil
}

// Read returns the contents of the file at p, cut at MaxFileSize.
func (f *FS) Read(p string) (string, error) {
	resolved, err := f.resolvePath(p)
	if err != nil {
		return "", err
	}

	file, err := f.fsys.Open(resolved)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s: %w", p, fs.ErrInvalid)
	}

	data, err := io.ReadAll(io.LimitReader(file, f.MaxFileSize))
	if err != nil {
		return "", err
	}
	if info.Size() > f.MaxFileSize {
		return string(data) + "\n... [truncated]", nil
	}
	return string(data), nil
}

// Glob returns root-relative paths matching pattern.
func (f *FS) Glob(pattern string) ([]string, error) {
	resolved, err := f.resolvePath(pattern)
	if err != nil {
		return nil, err
	}

	matches, err := fs.Glob(f.fsys, resolved)
	if err != nil {
		return nil, err
	}

	result := []string{}
	for _, match := range matches {
		if f.containsExcludedDir(match) {
			continue
		}
		result = append(result, match)
	}
	return result, nil
}

// Exists reports whether p names a file or directory.
func (f *FS) Exists(p string) bool {
	resolved, err := f.resolvePath(p)
	if err != nil {
		return false
	}
	_, err = fs.Stat(f.fsys, resolved)
	return err == nil
}

// Tree returns the directory tree at p down to maxDepth levels.
func (f *FS) Tree(p string, maxDepth int) ([]map[string]any, error) {
	resolved, err := f.resolvePath(p)
	if err != nil {
		return nil, err
	}
	return f.buildTree(resolved, 0, maxDepth)
}

func (f *FS) buildTree(dir string, depth, maxDepth int) ([]map[string]any, error) {
	if depth >= maxDepth {
		return nil, nil
	}

	entries, err := fs.ReadDir(f.fsys, dir)
	if err != nil {
		return nil, err
	}

	var result []map[string]any
	for _, entry := range entries {
		if entry.IsDir() && f.isExcludedDir(entry.Name()) {
			continue
		}
		node := map[string]any{
			"name":  entry.Name(),
			"isDir": entry.IsDir(),
		}
		if entry.IsDir() {
			children, err := f.buildTree(path.Join(dir, entry.Name()), depth+1, maxDepth)
			if err == nil && len(children) > 0 {
				node["children"] = children
			}
		}
		result = append(result, node)
	}
	return result, nil
}

func (f *FS) isExcludedDir(name string) bool {
	for _, excluded := range f.ExcludeDirs {
		if name == excluded {
			return true
		}
	}
	return false
}

func (f *FS) containsExcludedDir(p string) bool {
	for _, part := range strings.Split(p, "/") {
		if f.isExcludedDir(part) {
			return true
		}
	}
	return false
}
