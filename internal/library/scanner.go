// Package library walks a music directory and builds the track snapshot the
// session plays from.
package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dgraph-io/ristretto"

	"github.com/lazypower/autodj/internal/logger"
	"github.com/lazypower/autodj/internal/model"
)

// ErrNotDirectory is returned when the scan root is missing or not a directory.
var ErrNotDirectory = errors.New("music directory not found")

var supportedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
}

// Scanner finds supported audio files under a root. Metadata for a file is
// cached by path, size and modification time.
type Scanner struct {
	cache *ristretto.Cache
	log   logger.Logger
}

// NewScanner creates a Scanner with a metadata cache sized for cacheEntries files.
func NewScanner(cacheEntries int64) (*Scanner, error) {
	if cacheEntries <= 0 {
		cacheEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cacheEntries * 10,
		MaxCost:     cacheEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("metadata cache: %w", err)
	}
	return &Scanner{cache: cache, log: logger.Named("library")}, nil
}

// Close releases the metadata cache.
func (s *Scanner) Close() {
	s.cache.Close()
}

// Scan walks root and returns placeholder metadata for every supported file,
// ordered by path.
func (s *Scanner) Scan(ctx context.Context, root string) ([]model.TrackMetadata, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	s.log.Info(ctx, "scan started", logger.String("path", root))

	var files []string
	infos := make(map[string]fs.FileInfo)
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if !supportedExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Links count when they resolve to a regular file; dangling ones are skipped.
			target, err := os.Stat(path)
			if err != nil || !target.Mode().IsRegular() {
				return nil
			}
			fi = target
		}
		files = append(files, path)
		infos[path] = fi
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sortPaths(files)

	total := len(files)
	if total == 0 {
		s.log.Warn(ctx, "scan finished: no supported tracks found", logger.String("path", root))
		return []model.TrackMetadata{}, nil
	}

	step := max(1, total/10)
	tracks := make([]model.TrackMetadata, 0, total)
	for i, path := range files {
		tracks = append(tracks, s.metadata(path, infos[path]))
		n := i + 1
		if total <= 10 || n == total || n%step == 0 {
			s.log.Info(ctx, "scan progress",
				logger.Int("done", n),
				logger.Int("total", total),
				logger.Int("percent", n*100/total))
		}
	}

	s.log.Info(ctx, "scan finished", logger.Int("tracks", total), logger.String("path", root))
	return tracks, nil
}

// sortPaths orders paths component by component, so "a/x" sorts before
// "a b/x" even though ' ' < '/' as bytes.
func sortPaths(paths []string) {
	slices.SortFunc(paths, func(a, b string) int {
		return slices.Compare(
			strings.Split(a, string(filepath.Separator)),
			strings.Split(b, string(filepath.Separator)))
	})
}

func (s *Scanner) metadata(path string, fi fs.FileInfo) model.TrackMetadata {
	key := cacheKey(path, fi)
	if v, ok := s.cache.Get(key); ok {
		if t, ok := v.(model.TrackMetadata); ok {
			return t
		}
	}
	t := Placeholder(path)
	s.cache.Set(key, t, 1)
	return t
}

func cacheKey(path string, fi fs.FileInfo) string {
	return fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
}
