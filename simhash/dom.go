package simhash

import (
	"strings"

	"golang.org/x/net/html"
)

// FingerprintDOM fingerprints the tag structure of a document, ignoring
// text and attributes. Listing pages that render the same layout with
// different people share a fingerprint, so a broken page can be told apart
// from a new layout.
func FingerprintDOM(rawHTML string) uint64 {
	tags := extractTags(rawHTML)
	if shingles := makeShingles(tags, 3); len(shingles) > 0 {
		return Fingerprint(shingles)
	}
	return Fingerprint(tags)
}

// extractTags collects open tag names in document order.
func extractTags(rawHTML string) []string {
	z := html.NewTokenizer(strings.NewReader(rawHTML))
	var tags []string
	for {
		switch z.Next() {
		case html.ErrorToken:
			return tags
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := z.TagName()
			tags = append(tags, string(tn))
		}
	}
}

// makeShingles joins every run of n consecutive tokens.
func makeShingles(tokens []string, n int) []string {
	if len(tokens) < n {
		return nil
	}
	shingles := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		shingles = append(shingles, strings.Join(tokens[i:i+n], "_"))
	}
	return shingles
}
