package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chatmate/internal/common/fsutil"
)

// MinModelBytes is the smallest file CheckComplete accepts by default. Real
// GGUF weights are far larger; anything below this is a broken download.
const MinModelBytes = 1 << 20

// Model is one *.gguf file found on disk.
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Scanner lists models in a directory.
type Scanner interface {
	Scan(dir string) ([]Model, error)
}

// GGUFScanner finds *.gguf files (case-insensitive) directly inside a directory.
type GGUFScanner struct{}

func NewGGUFScanner() *GGUFScanner { return &GGUFScanner{} }

// Scan builds a registry from filenames. ID is the full filename; Name drops
// the extension; Path is absolute. Results are sorted by ID.
func (GGUFScanner) Scan(dir string) ([]Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []Model
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
			continue
		}
		m := Model{ID: name, Name: name[:len(name)-len(".gguf")], Path: filepath.Join(abs, name)}
		if info, err := e.Info(); err == nil {
			m.SizeBytes = info.Size()
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// LoadDir scans dir with the GGUF scanner.
func LoadDir(dir string) ([]Model, error) { return NewGGUFScanner().Scan(dir) }

// DefaultSearchDirs is the resolution order used when no explicit search
// dirs are configured: a models/ dir next to the executable, then modelsDir,
// then ./models for development checkouts.
func DefaultSearchDirs(modelsDir string) []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), "models"))
	}
	if modelsDir != "" {
		dirs = append(dirs, modelsDir)
	}
	return append(dirs, "models")
}

// NotFoundError lists every location Resolve tried.
type NotFoundError struct {
	Name     string
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("model %q not found; searched: %s", e.Name, strings.Join(e.Searched, ", "))
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Resolve returns the path of the first regular file matching name in dirs,
// trying <dir>/<name> and <dir>/<name>.gguf in order. A name that already
// points at an existing file (absolute, relative or ~) is returned as is.
func Resolve(name string, dirs []string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty model name")
	}
	if p, err := fsutil.ExpandHome(name); err == nil && strings.ContainsRune(name, filepath.Separator) && fsutil.IsRegularFile(p) {
		return p, nil
	}
	candidates := []string{name}
	if !strings.HasSuffix(strings.ToLower(name), ".gguf") {
		candidates = append(candidates, name+".gguf")
	}
	nf := &NotFoundError{Name: name}
	for _, d := range dirs {
		base, err := fsutil.ExpandHome(d)
		if err != nil || base == "" {
			continue
		}
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if fsutil.IsRegularFile(p) {
				return p, nil
			}
			nf.Searched = append(nf.Searched, p)
		}
	}
	return "", nf
}

// CheckComplete rejects files smaller than minBytes (MinModelBytes when <= 0).
func CheckComplete(path string, minBytes int64) error {
	if minBytes <= 0 {
		minBytes = MinModelBytes
	}
	n, err := fsutil.FileSize(path)
	if err != nil {
		return err
	}
	if n < minBytes {
		return fmt.Errorf("model file %s looks incomplete: %s, expected at least %s",
			path, fsutil.HumanBytes(n), fsutil.HumanBytes(minBytes))
	}
	return nil
}
