package digest

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

// DependentFiles hashes the content of every file matched by patterns
// (doublestar glob syntax, resolved relative to root), per spec.md
// §4.2a's "dependent_files' content if present". A pattern matching
// nothing, or a matched path that can no longer be read, is skipped
// rather than faulted -- dependent_files is an informational hint, not a
// build input the scheduler enforces the presence of.
//
// Grounded on spec.md §4.2a's Command.input_digest description;
// github.com/bmatcuk/doublestar/v4 (pack: vsavkov-kilroy) is the only
// glob-matching library in the retrieval pack, used there to match rule
// file patterns against a working tree the same way.
func DependentFiles(root string, patterns []string) string {
	var paths []string
	for _, pat := range patterns {
		full := pat
		if root != "" && !filepath.IsAbs(pat) {
			full = filepath.Join(root, pat)
		}
		matches, err := doublestar.FilepathGlob(full)
		if err != nil {
			continue
		}
		paths = append(paths, matches...)
	}
	sort.Strings(paths)

	h := blake3.New()
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte{0})
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
