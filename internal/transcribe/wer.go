package transcribe

import (
	"strings"
	"unicode"
)

// ErrorRate is an edit-distance score of a hypothesis against a reference.
type ErrorRate struct {
	Rate          float64 // (S + I + D) / RefUnits; 0 is a perfect match
	Substitutions int
	Insertions    int
	Deletions     int
	RefUnits      int // words for WER, characters for CER
}

// WordErrorRate scores hypothesis words against reference words after
// removing control markup, lowercasing and dropping punctuation.
func WordErrorRate(reference, hypothesis string) ErrorRate {
	return align(normalizeWords(reference), normalizeWords(hypothesis))
}

// CharErrorRate scores characters of the normalized texts, ignoring spaces.
func CharErrorRate(reference, hypothesis string) ErrorRate {
	return align(normalizeRunes(reference), normalizeRunes(hypothesis))
}

// align computes a Levenshtein alignment and attributes its cost.
func align[T comparable](ref, hyp []T) ErrorRate {
	n, m := len(ref), len(hyp)
	if n == 0 {
		return ErrorRate{}
	}

	d := make([][]int, n+1)
	for i := range d {
		d[i] = make([]int, m+1)
		d[i][0] = i
	}
	for j := 1; j <= m; j++ {
		d[0][j] = j
	}
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if ref[i-1] == hyp[j-1] {
				d[i][j] = d[i-1][j-1]
				continue
			}
			d[i][j] = 1 + min(d[i-1][j-1], d[i-1][j], d[i][j-1])
		}
	}

	var r ErrorRate
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && ref[i-1] == hyp[j-1]:
			i, j = i-1, j-1
		case i > 0 && j > 0 && d[i][j] == d[i-1][j-1]+1:
			r.Substitutions++
			i, j = i-1, j-1
		case i > 0 && d[i][j] == d[i-1][j]+1:
			r.Deletions++
			i--
		default:
			r.Insertions++
			j--
		}
	}

	r.RefUnits = n
	r.Rate = float64(r.Substitutions+r.Insertions+r.Deletions) / float64(n)
	return r
}

func normalize(s string) string {
	s = strings.ToLower(CleanMarkup(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
}

func normalizeWords(s string) []string {
	return strings.Fields(normalize(s))
}

func normalizeRunes(s string) []rune {
	var out []rune
	for _, r := range normalize(s) {
		if !unicode.IsSpace(r) {
			out = append(out, r)
		}
	}
	return out
}
