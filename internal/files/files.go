// Package files resolves glob patterns and derives output names.
package files

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Glob returns the files under dir matching pattern, sorted. Patterns may use
// "**" to cross directory levels, e.g. "**/*t1*.nii.gz".
func Glob(dir, pattern string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), filepath.ToSlash(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(dir, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}

// Stem returns the base name of path up to its first dot, so
// "sub01_t1.nii.gz" gives "sub01_t1".
func Stem(path string) string {
	base := filepath.Base(path)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}
