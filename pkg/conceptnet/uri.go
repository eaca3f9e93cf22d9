package conceptnet

import "strings"

const (
	// DefaultMinPieces is the minimum number of segments kept when expanding
	// node, relation and dataset URIs for the search document.
	DefaultMinPieces = 2
	// SourceMinPieces is used for provenance values and feature prefixes,
	// where the two-segment prefixes (e.g. /c/en, /s/contributor) would
	// match almost everything.
	SourceMinPieces = 3
)

// IsAbsoluteURL reports whether uri is a web address rather than a
// hierarchical ConceptNet path.
func IsAbsoluteURL(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// URIPrefixes returns every prefix of uri that has at least minPieces
// slash-delimited segments, ordered from least to most specific. The last
// element is always uri itself when it has enough segments.
//
//	URIPrefixes("/c/en/dog/n", 2) // ["/c/en", "/c/en/dog", "/c/en/dog/n"]
//
// Absolute web addresses and paths without a leading slash are not
// hierarchical and are returned as-is.
func URIPrefixes(uri string, minPieces int) []string {
	if IsAbsoluteURL(uri) || !strings.HasPrefix(uri, "/") {
		return []string{uri}
	}
	if minPieces < 1 {
		minPieces = 1
	}

	pieces := strings.Split(uri[1:], "/")
	if len(pieces) < minPieces {
		return nil
	}

	prefixes := make([]string, 0, len(pieces)-minPieces+1)
	var b strings.Builder
	b.Grow(len(uri) + 1)
	for i, piece := range pieces {
		b.WriteByte('/')
		b.WriteString(piece)
		if i+1 >= minPieces {
			prefixes = append(prefixes, b.String())
		}
	}
	return prefixes
}
