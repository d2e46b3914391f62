package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
)

// Walk calls fn with the slash-separated relative path of every regular
// file under root that m does not ignore. Ignored directories are not
// entered. Unreadable entries below root are skipped; an unreadable root
// or a done ctx stops the walk with an error.
func Walk(ctx context.Context, root string, m *Matcher, fn func(rel string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if m.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && !m.Match(rel, false) {
			return fn(rel)
		}
		return nil
	})
}
