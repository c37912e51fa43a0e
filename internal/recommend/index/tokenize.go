package index

import "strings"

// Tokenize lower-cases text and splits it on whitespace. Corpus documents are
// built from titles, descriptions, and tags, so no stemming or stop-word
// removal is applied; tags must match term-for-term between documents and
// user preference vectors.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
