// Package ranking scores a user's past conversation turns against a new query,
// either lexically (BM25) or by embedding similarity.
package ranking

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
)

// wordPattern matches runs of letters, digits and underscores in any script.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

var stopWords = loadStopWords()

func loadStopWords() analysis.TokenMap {
	m := analysis.NewTokenMap()
	if err := m.LoadBytes(en.EnglishStopWords); err != nil {
		panic("ranking: load english stop words: " + err.Error())
	}
	return m
}

// Tokenize lower-cases text and splits it into word tokens, preserving order
// and duplicates. When removeStopwords is set, English function words and
// punctuation-only tokens are dropped.
func Tokenize(text string, removeStopwords bool) []string {
	matches := wordPattern.FindAllString(strings.ToLower(text), -1)
	if !removeStopwords {
		if matches == nil {
			return []string{}
		}
		return matches
	}
	out := make([]string, 0, len(matches))
	for _, tok := range matches {
		if stopWords[tok] || isPunctuation(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func isPunctuation(tok string) bool {
	for _, r := range tok {
		if !unicode.IsPunct(r) {
			return false
		}
	}
	return tok != ""
}
