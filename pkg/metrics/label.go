package metrics

import (
	"strings"
	"unicode"
)

// abbreviations are short tokens that render fully upper-case in labels.
var abbreviations = map[string]string{
	"rag":  "RAG",
	"llm":  "LLM",
	"ai":   "AI",
	"api":  "API",
	"id":   "ID",
	"url":  "URL",
	"http": "HTTP",
	"json": "JSON",
}

// FormatFieldName converts a camelCase or snake_case key into a Title Case
// display label. Known abbreviations render upper-case, so
// "rag_relevancy_score" and "ragRelevancyScore" both become
// "RAG Relevancy Score". The conversion is deterministic and does not
// depend on the locale.
func FormatFieldName(key string) string {
	words := splitWords(key)
	if len(words) == 0 {
		return ""
	}

	parts := make([]string, 0, len(words))

	for _, word := range words {
		lower := strings.ToLower(word)

		if abbr, ok := abbreviations[lower]; ok {
			parts = append(parts, abbr)

			continue
		}

		parts = append(parts, strings.ToUpper(lower[:1])+lower[1:])
	}

	return strings.Join(parts, " ")
}

// splitWords breaks a key on underscores and lower-to-upper camelCase
// boundaries. Runs of consecutive upper-case letters stay one word, so
// "RAGScore" splits into "RAG" and "Score".
func splitWords(key string) []string {
	var (
		words   []string
		current strings.Builder
	)

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	runes := []rune(key)

	for i, r := range runes {
		if r == '_' || r == ' ' || r == '-' {
			flush()

			continue
		}

		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]

			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}

			// Boundary before an upper rune that follows a lower rune or
			// digit, or that starts a new word after an upper-case run
			// ("RAGScore" -> "RAG" + "Score").
			if unicode.IsLower(prev) || unicode.IsDigit(prev) ||
				(unicode.IsUpper(prev) && unicode.IsLower(next)) {
				flush()
			}
		}

		current.WriteRune(r)
	}

	flush()

	return words
}
