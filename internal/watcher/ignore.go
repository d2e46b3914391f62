package watcher

import (
	"path"
	"path/filepath"
	"strings"
)

// alwaysIgnored directory names are never watched.
var alwaysIgnored = []string{".git", ".recall"}

// Matcher decides which paths the watcher skips.
//
// A pattern matches when it matches the whole relative path, the base
// name, or any leading directory of the path (so "node_modules" skips
// everything below it). A trailing slash restricts a pattern to
// directories. Invalid patterns never match.
type Matcher struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	glob    string
	dirOnly bool
}

// NewMatcher compiles patterns. Empty entries and comments (#) are skipped.
func NewMatcher(patterns []string) *Matcher {
	m := &Matcher{}
	for _, name := range alwaysIgnored {
		m.patterns = append(m.patterns, ignorePattern{glob: name, dirOnly: true})
	}
	for _, p := range patterns {
		p = strings.TrimSpace(filepath.ToSlash(p))
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		ip := ignorePattern{glob: strings.TrimPrefix(p, "/")}
		if strings.HasSuffix(ip.glob, "/") {
			ip.glob = strings.TrimSuffix(ip.glob, "/")
			ip.dirOnly = true
		}
		// "dir/**" is treated as "dir" since everything below a matched
		// directory is skipped anyway.
		ip.glob = strings.TrimSuffix(ip.glob, "/**")
		if ip.glob == "" {
			continue
		}
		m.patterns = append(m.patterns, ip)
	}
	return m
}

// Match reports whether rel (relative to the root) is ignored.
func (m *Matcher) Match(rel string, isDir bool) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	parts := strings.Split(rel, "/")
	for _, p := range m.patterns {
		if p.matches(rel, isDir) {
			return true
		}
		// leading directories are always directories
		for i := 1; i < len(parts); i++ {
			if p.matches(strings.Join(parts[:i], "/"), true) {
				return true
			}
		}
	}
	return false
}

func (p ignorePattern) matches(rel string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}
	if ok, _ := path.Match(p.glob, rel); ok {
		return true
	}
	ok, _ := path.Match(p.glob, path.Base(rel))
	return ok
}
