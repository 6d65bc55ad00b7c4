package reconcile

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// Score rates how similar two normalized names are, from 0 to 100.
// It is a weighted blend of whole-string, partial-substring and token-set
// similarity, so reordered words, extra words and small typos still score
// high. Only identical inputs score 100.
func Score(a, b string) int {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	lenRatio := float64(max(la, lb)) / float64(min(la, lb))

	best := ratio(a, b)

	if lenRatio < 1.5 {
		best = math.Max(best, tokenRatio(a, b)*0.95)
		return clampScore(best)
	}

	partialScale := 0.9
	if lenRatio >= 8 {
		partialScale = 0.6
	}
	best = math.Max(best, partialRatio(a, b)*partialScale)
	best = math.Max(best, partialTokenRatio(a, b)*0.95*partialScale)
	return clampScore(best)
}

// ratio is the indel similarity: 2*LCS / (len(a)+len(b)), scaled to 100
func ratio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	lcs := matchr.LongestCommonSubsequence(a, b)
	return 100 * float64(2*lcs) / float64(total)
}

// partialRatio slides the shorter string across the longer one and keeps the
// best window
func partialRatio(a, b string) float64 {
	short, long := []rune(a), []rune(b)
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) == 0 {
		return 0
	}

	s := string(short)
	best := 0.0
	for i := 0; i+len(short) <= len(long); i++ {
		r := ratio(s, string(long[i:i+len(short)]))
		if r > best {
			best = r
			if best == 100 {
				break
			}
		}
	}
	return best
}

func tokenRatio(a, b string) float64 {
	return math.Max(tokenSortRatio(a, b), tokenSetRatio(a, b))
}

func tokenSortRatio(a, b string) float64 {
	return ratio(sortTokens(a), sortTokens(b))
}

// tokenSetRatio compares the shared tokens against each side's leftovers.
// If one token set contains the other the result is 100.
func tokenSetRatio(a, b string) float64 {
	inter, onlyA, onlyB := splitTokens(a, b)
	if inter == "" {
		return ratio(onlyA, onlyB)
	}
	if onlyA == "" || onlyB == "" {
		return 100
	}

	withA := inter + " " + onlyA
	withB := inter + " " + onlyB
	return math.Max(ratio(inter, withA), math.Max(ratio(inter, withB), ratio(withA, withB)))
}

func partialTokenRatio(a, b string) float64 {
	inter, _, _ := splitTokens(a, b)
	if inter != "" {
		return 100
	}
	return partialRatio(sortTokens(a), sortTokens(b))
}

func sortTokens(s string) string {
	t := strings.Fields(s)
	sort.Strings(t)
	return strings.Join(t, " ")
}

// splitTokens returns the sorted intersection and the sorted differences of
// the token sets of a and b, each joined by single spaces
func splitTokens(a, b string) (inter, onlyA, onlyB string) {
	setA := tokenSet(a)
	setB := tokenSet(b)

	var common, restA, restB []string
	for t := range setA {
		if _, ok := setB[t]; ok {
			common = append(common, t)
		} else {
			restA = append(restA, t)
		}
	}
	for t := range setB {
		if _, ok := setA[t]; !ok {
			restB = append(restB, t)
		}
	}
	sort.Strings(common)
	sort.Strings(restA)
	sort.Strings(restB)
	return strings.Join(common, " "), strings.Join(restA, " "), strings.Join(restB, " ")
}

func tokenSet(s string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, t := range strings.Fields(s) {
		m[t] = struct{}{}
	}
	return m
}

// clampScore rounds to an integer and keeps non-identical inputs below 100
func clampScore(f float64) int {
	n := int(math.Round(f))
	if n >= 100 {
		return 99
	}
	if n < 0 {
		return 0
	}
	return n
}
