package report

import (
	"sort"
	"strings"
)

// PathTrimmer removes configured build-root prefixes from bundle file paths
// so that reports stored from different machines share file identities.
type PathTrimmer struct {
	prefixes []string // sorted longest first
}

// NewPathTrimmer builds a trimmer. Prefixes are normalized to end without a
// trailing slash; the longest matching prefix wins.
func NewPathTrimmer(prefixes []string) *PathTrimmer {
	normalized := make([]string, 0, len(prefixes))

	for _, p := range prefixes {
		p = strings.TrimRight(strings.TrimSpace(p), "/")
		if p != "" {
			normalized = append(normalized, p)
		}
	}

	sort.Slice(normalized, func(i, j int) bool {
		return len(normalized[i]) > len(normalized[j])
	})

	return &PathTrimmer{prefixes: normalized}
}

// Trim removes the longest configured prefix from the path. The result
// always keeps a leading slash so trimmed paths stay absolute-looking.
func (t *PathTrimmer) Trim(filePath string) string {
	if t == nil {
		return filePath
	}

	for _, prefix := range t.prefixes {
		if filePath == prefix {
			return "/"
		}

		if strings.HasPrefix(filePath, prefix+"/") {
			return filePath[len(prefix):]
		}
	}

	return filePath
}
