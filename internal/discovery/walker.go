// File: internal/discovery/walker.go
// Package discovery locates the source files a scan should analyze and
// detects which framework the target codebase is built on.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// SourceFile is one discovered file with its content already read.
type SourceFile struct {
	Path    string
	Content string
}

// Walker discovers analyzable files under a target root.
type Walker struct {
	logger      *zap.Logger
	extensions  []string
	excludeDirs map[string]bool
}

// NewWalker creates a walker selecting the given suffixes and skipping the
// given directory names at any depth.
func NewWalker(logger *zap.Logger, extensions, excludeDirs []string) *Walker {
	excluded := make(map[string]bool, len(excludeDirs))
	for _, d := range excludeDirs {
		excluded[d] = true
	}
	return &Walker{
		logger:      logger.Named("discovery"),
		extensions:  extensions,
		excludeDirs: excluded,
	}
}

// Result carries the discovered files plus skip statistics.
type Result struct {
	Files   []SourceFile
	Skipped int
}

// Discover walks the target tree and reads every matching file. A file that
// fails to read is logged and skipped; one bad file never aborts discovery.
// Files are returned in sorted path order for deterministic downstream
// processing.
func (w *Walker) Discover(target string) (*Result, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("failed to stat target %s: %w", target, err)
	}

	result := &Result{}

	if !info.IsDir() {
		content, readErr := os.ReadFile(target)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read target file %s: %w", target, readErr)
		}
		result.Files = append(result.Files, SourceFile{Path: target, Content: string(content)})
		return result, nil
	}

	walkErr := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(err))
			result.Skipped++
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != target && w.excludeDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		if !w.matches(d.Name()) {
			return nil
		}

		content, readErr := os.ReadFile(path)
		if readErr != nil {
			w.logger.Warn("Failed to read source file, skipping",
				zap.String("path", path), zap.Error(readErr))
			result.Skipped++
			return nil
		}

		result.Files = append(result.Files, SourceFile{Path: path, Content: string(content)})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to walk target %s: %w", target, walkErr)
	}

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Path < result.Files[j].Path })

	w.logger.Info("Discovery completed",
		zap.String("target", target),
		zap.Int("files", len(result.Files)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// matches tests the file name against the configured suffixes. Compound
// suffixes like ".blade.php" are honored before plain extensions.
func (w *Walker) matches(name string) bool {
	for _, ext := range w.extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
