package extract

import (
	"math"
	"strings"
)

// SimilarityMethod names a text similarity measure.
type SimilarityMethod string

const (
	SimilarityJaccard  SimilarityMethod = "jaccard"
	SimilarityOverlap  SimilarityMethod = "overlap"
	SimilarityWeighted SimilarityMethod = "weighted"
)

// Similarity scores two texts in [0, 1]. The weighted method needs a corpus
// to derive term weights; when corpus is nil the two texts themselves are
// used. Unknown methods fall back to jaccard.
func Similarity(text1, text2 string, method SimilarityMethod, corpus []string) float64 {
	switch method {
	case SimilarityOverlap:
		return overlapSimilarity(text1, text2)
	case SimilarityWeighted:
		if corpus == nil {
			corpus = []string{text1, text2}
		}
		return weightedSimilarity(text1, text2, corpus)
	default:
		return jaccardSimilarity(text1, text2)
	}
}

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

func tokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccardSimilarity(text1, text2 string) float64 {
	a, b := tokenSet(text1), tokenSet(text2)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func overlapSimilarity(text1, text2 string) float64 {
	a, b := tokenSet(text1), tokenSet(text2)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(inter) / float64(smaller)
}

// weightedSimilarity is a TF-IDF cosine over the corpus: rare terms count
// for more than common ones.
func weightedSimilarity(text1, text2 string, corpus []string) float64 {
	df := make(map[string]int)
	for _, doc := range corpus {
		for tok := range tokenSet(doc) {
			df[tok]++
		}
	}
	n := float64(len(corpus))
	idf := func(tok string) float64 {
		d := df[tok]
		if d == 0 {
			d = 1
		}
		return math.Log(n/float64(d)) + 1
	}

	tf := func(text string) map[string]float64 {
		counts := make(map[string]float64)
		for _, tok := range tokenize(text) {
			counts[tok]++
		}
		return counts
	}

	v1, v2 := tf(text1), tf(text2)
	if len(v1) == 0 || len(v2) == 0 {
		return 0
	}

	var dot, norm1, norm2 float64
	for tok, c := range v1 {
		w := c * idf(tok)
		norm1 += w * w
		if c2, ok := v2[tok]; ok {
			dot += w * c2 * idf(tok)
		}
	}
	for tok, c := range v2 {
		w := c * idf(tok)
		norm2 += w * w
	}
	if norm1 == 0 || norm2 == 0 {
		return 0
	}
	return dot / (math.Sqrt(norm1) * math.Sqrt(norm2))
}
