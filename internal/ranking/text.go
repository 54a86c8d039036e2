package ranking

import (
	"strings"

	"github.com/helixir/screening-workflow-service/internal/dedup"
	"github.com/helixir/screening-workflow-service/internal/domain"
)

// stopwords are skipped when tokenizing for features and keyterm suggestion.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "their": true, "this": true, "to": true,
	"was": true, "were": true, "which": true, "with": true, "we": true, "our": true,
	"these": true, "those": true, "than": true, "not": true, "but": true, "between": true,
}

// citationText joins the fields a citation is scored on.
func citationText(c *domain.Citation) string {
	if c == nil {
		return ""
	}
	parts := make([]string, 0, 2+len(c.Keywords))
	if c.Title != nil {
		parts = append(parts, *c.Title)
	}
	if c.Abstract != nil {
		parts = append(parts, *c.Abstract)
	}
	parts = append(parts, c.Keywords...)
	return strings.Join(parts, " ")
}

// tokens returns the normalized words of text, stopwords included.
func tokens(text string) []string {
	return strings.Fields(dedup.NormalizeText(text))
}

// contentTokens drops stopwords and single characters.
func contentTokens(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}
