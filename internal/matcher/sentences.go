// Package matcher counts sentences in submitted text and prices the usage
// against per-level quotas. Counting and pricing are pure functions; the
// worker pool in this package runs them off the request goroutine.
package matcher

import "strings"

// sentenceDelimiters maps a language name to the punctuation class used to
// split its text into sentences. Languages absent from the table fall back to
// defaultDelimiters. The table is the contract: counts must be reproducible
// byte-for-byte across deployments.
var sentenceDelimiters = map[string]string{
	"Japanese": "！？。…‥",
	"Korean":   ".?!…,",
	"English":  ".?!…,",
}

const defaultDelimiters = ".!?"

// CountSentences splits text on the language's punctuation class and returns
// the number of fragments that are non-empty after trimming whitespace.
func CountSentences(text, language string) int {
	delims, ok := sentenceDelimiters[language]
	if !ok {
		delims = defaultDelimiters
	}

	fragments := strings.FieldsFunc(text, func(r rune) bool {
		return strings.ContainsRune(delims, r)
	})

	count := 0
	for _, fragment := range fragments {
		if strings.TrimSpace(fragment) != "" {
			count++
		}
	}
	return count
}
