package recipes

import (
	"sort"
	"strings"
	"unicode"
)

// NormalizeIngredient canonicalizes a user-entered ingredient: lowercase,
// trimmed, punctuation stripped, whitespace collapsed, and a naive
// singular form so "Tomatoes, " and "tomato" hit the same index entry.
func NormalizeIngredient(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			b.WriteRune(' ')
		}
	}

	words := strings.Fields(b.String())
	for i, w := range words {
		words[i] = singular(w)
	}
	return strings.Join(words, " ")
}

// NormalizeIngredients canonicalizes and de-duplicates a list, dropping
// entries that normalize to nothing.
func NormalizeIngredients(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		n := NormalizeIngredient(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// singular applies naive English singularization. Good enough for
// ingredient names; anything fancier belongs server-side.
func singular(w string) string {
	switch {
	case len(w) > 3 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 3 && strings.HasSuffix(w, "oes"):
		return w[:len(w)-2]
	case len(w) > 2 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	default:
		return w
	}
}

// MatchScore returns the fraction of wanted ingredients present in the
// recipe's ingredient list, both sides normalized. Zero when nothing
// matches or the wanted list is empty.
func MatchScore(recipe Recipe, wanted []string) float64 {
	wanted = NormalizeIngredients(wanted)
	if len(wanted) == 0 {
		return 0
	}

	have := make(map[string]bool, len(recipe.Ingredients))
	for _, ing := range recipe.Ingredients {
		if n := NormalizeIngredient(ing); n != "" {
			have[n] = true
		}
	}

	matched := 0
	for _, w := range wanted {
		if have[w] {
			matched++
		}
	}
	return float64(matched) / float64(len(wanted))
}

// RankByIngredients orders recipes by descending match score, dropping
// non-matches. Ties break on title for a stable display order.
func RankByIngredients(list []Recipe, wanted []string) []Recipe {
	type scored struct {
		recipe Recipe
		score  float64
	}

	ranked := make([]scored, 0, len(list))
	for _, r := range list {
		if score := MatchScore(r, wanted); score > 0 {
			ranked = append(ranked, scored{recipe: r, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].recipe.Title < ranked[j].recipe.Title
	})

	out := make([]Recipe, len(ranked))
	for i, s := range ranked {
		out[i] = s.recipe
	}
	return out
}
