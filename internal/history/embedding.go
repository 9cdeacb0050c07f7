package history

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Dimensions is the width of the question_history.embedding column
const Dimensions = 128

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// stopWords carry no signal for matching business questions
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "what": true,
	"which": true, "me": true, "my": true, "of": true, "for": true, "by": true,
	"show": true, "to": true, "in": true, "and": true, "s": true,
}

// Embed maps a question onto a unit vector with the hashing trick. The same
// text always yields the same vector, so no model is needed to search
// history.
func Embed(text string) []float32 {
	vec := make([]float32, Dimensions)
	for _, token := range Tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		idx := sum % Dimensions
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	normalize(vec)
	return vec
}

// Tokenize lowercases text and drops stop words
func Tokenize(text string) []string {
	var tokens []string
	for _, t := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if !stopWords[t] {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Cosine returns the cosine similarity of two vectors of equal length. Zero
// vectors have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

func isZero(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
