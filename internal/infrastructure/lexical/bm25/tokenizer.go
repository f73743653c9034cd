package bm25

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenizer splits text into index terms. Index and query must share one.
type Tokenizer func(text string) []string

// WhitespaceTokenizer splits on Unicode white space and keeps case and
// punctuation. UnicodeTokenizer is the case-folding alternative.
func WhitespaceTokenizer(text string) []string {
	return strings.Fields(text)
}

// UnicodeTokenizer NFC-normalises text and keeps runs of letters and digits,
// so Hangul composed and decomposed forms produce the same terms.
func UnicodeTokenizer(text string) []string {
	if text == "" {
		return nil
	}
	text = norm.NFC.String(text)
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func TokenizerByName(name string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "whitespace":
		return WhitespaceTokenizer, nil
	case "unicode":
		return UnicodeTokenizer, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
