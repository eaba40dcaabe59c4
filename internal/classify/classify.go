// Package classify maps item display names to product categories using an
// ordered keyword rule table.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/seastock/shrinkage-cli/internal/config"
	"github.com/seastock/shrinkage-cli/internal/model"
)

// rule is one compiled classification rule: any keyword matching selects the
// category.
type rule struct {
	keywords []string
	category model.Category
}

// Classifier classifies item names. It is immutable after construction and
// safe for concurrent use.
type Classifier struct {
	rules []rule
}

// New compiles an ordered rule table into a Classifier. Rules with an unknown
// category or no keywords are dropped. A nil or empty table yields a
// classifier that always returns the default category.
func New(table []config.KeywordRule) *Classifier {
	c := &Classifier{}
	for _, r := range table {
		cat := model.Category(r.Category)
		if !cat.Valid() || len(r.Keywords) == 0 {
			continue
		}
		kw := make([]string, 0, len(r.Keywords))
		for _, k := range r.Keywords {
			if n := normalize(k); n != "" {
				kw = append(kw, n)
			}
		}
		if len(kw) == 0 {
			continue
		}
		c.rules = append(c.rules, rule{keywords: kw, category: cat})
	}
	return c
}

// Classify returns the category for an item name. Evaluation is top to
// bottom, first match wins; no match (including the empty string) returns
// CategoryFresh. The function is pure: identical input always yields an
// identical category.
func (c *Classifier) Classify(name string) model.Category {
	n := normalize(name)
	for _, r := range c.rules {
		for _, kw := range r.keywords {
			if strings.Contains(n, kw) {
				return r.category
			}
		}
	}
	return model.CategoryFresh
}

// normalize lowercases and strips diacritics so sheet spellings like
// "Сёмга" and "Семга" compare equal.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}
