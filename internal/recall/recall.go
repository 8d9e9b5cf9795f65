// Package recall ranks recorded transcript entries against a query.
// The memory store adapters share it so they agree on what a match is.
package recall

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/aretw0/pergola/pkg/domain"
)

// SummaryChars bounds the content summary attached to a memory reference.
const SummaryChars = 200

// Entry is one recorded transcript line.
type Entry struct {
	Key  string `json:"key"`
	Role string `json:"role"`
	Text string `json:"text"`
}

// Tokenize splits text into lowercase letter/digit words.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Rank scores entries by TF-IDF over the given set and returns references to
// the best maxResults. Entries sharing no term with the query are dropped.
// Ties keep recording order.
func Rank(entries []Entry, query string, maxResults int) []domain.MemoryRef {
	terms := unique(Tokenize(query))
	if len(terms) == 0 || len(entries) == 0 {
		return nil
	}

	tfs := make([]map[string]float64, len(entries))
	df := make(map[string]int)
	for i, e := range entries {
		tokens := Tokenize(e.Text)
		counts := make(map[string]int)
		for _, tok := range tokens {
			counts[tok]++
		}
		tf := make(map[string]float64, len(counts))
		for term, n := range counts {
			tf[term] = float64(n) / float64(len(tokens))
			df[term]++
		}
		tfs[i] = tf
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i, tf := range tfs {
		var score float64
		for _, term := range terms {
			if f, ok := tf[term]; ok {
				score += f * math.Log(1+float64(len(entries))/float64(1+df[term]))
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if maxResults > 0 && len(hits) > maxResults {
		hits = hits[:maxResults]
	}

	refs := make([]domain.MemoryRef, 0, len(hits))
	for _, h := range hits {
		e := entries[h.idx]
		refs = append(refs, domain.MemoryRef{SourceKey: e.Key, ContentSummary: Summary(e.Role, e.Text)})
	}
	return refs
}

// Summary renders the reference text of an entry.
func Summary(role, text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > SummaryChars {
		text = string(r[:SummaryChars]) + "..."
	}
	if role == "" {
		return text
	}
	return role + ": " + text
}

func unique(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
