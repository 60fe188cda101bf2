package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// scan enumerates candidate files beneath root whose base name matches the
// glob, returning root-relative paths with their modification times.
// Symlinked directories are only followed when asked, to bound traversal.
func scan(root, glob string, followSymlinks bool) (map[string]time.Time, error) {
	found := make(map[string]time.Time)
	err := walk(root, root, glob, followSymlinks, found, 0)
	return found, err
}

// walk depth limit guards against symlink cycles when following links.
const maxWalkDepth = 32

func walk(root, dir, glob string, follow bool, found map[string]time.Time, depth int) error {
	if depth > maxWalkDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		// unreadable subdirectories are skipped, not fatal
		if dir == root {
			return err
		}
		return nil
	}
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, ierr := resolve(entry, path, follow)
		if ierr != nil {
			continue
		}
		if info.IsDir() {
			if err := walk(root, path, glob, follow, found, depth+1); err != nil {
				return err
			}
			continue
		}
		ok, merr := filepath.Match(glob, entry.Name())
		if merr != nil {
			return merr
		}
		if !ok {
			continue
		}
		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			continue
		}
		found[rel] = info.ModTime()
	}
	return nil
}

// resolve returns file info for an entry, following symlinks only when
// enabled. With following disabled a symlink is treated as its link
// target only if it points at a regular file.
func resolve(entry fs.DirEntry, path string, follow bool) (fs.FileInfo, error) {
	if entry.Type()&fs.ModeSymlink == 0 {
		return entry.Info()
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() && !follow {
		return nil, fs.ErrInvalid
	}
	return info, nil
}

func sortPaths(paths []string) {
	sort.Strings(paths)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
