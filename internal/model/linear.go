package model

import (
	"math"
	"strings"
	"unicode"
)

// Linear is a bag-of-ngrams linear model with a softmax output. It covers
// multinomial Naive Bayes (log-likelihood weights, raw counts) and logistic
// regression (fitted weights, l2-normalized counts).
type Linear struct {
	Vocabulary map[string]int `json:"vocabulary"`
	// Weights has one row per label and one column per vocabulary entry.
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
	// Ngram is the largest word n-gram length. Zero means unigrams.
	Ngram int `json:"ngram"`
	// Norm is "l2" or "none".
	Norm string `json:"norm"`
}

// Tokenize lowercases text and splits it into letter/digit runs.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ngrams returns all word n-grams of length 1..n.
func ngrams(tokens []string, n int) []string {
	if n < 1 {
		n = 1
	}
	out := make([]string, 0, len(tokens)*n)
	for size := 1; size <= n; size++ {
		for i := 0; i+size <= len(tokens); i++ {
			out = append(out, strings.Join(tokens[i:i+size], " "))
		}
	}
	return out
}

// features maps text to a sparse vector over the vocabulary.
func (m *Linear) features(text string) map[int]float64 {
	x := make(map[int]float64)
	for _, g := range ngrams(Tokenize(text), m.Ngram) {
		if idx, ok := m.Vocabulary[g]; ok {
			x[idx]++
		}
	}
	if m.Norm == "l2" {
		var sum float64
		for _, v := range x {
			sum += v * v
		}
		if sum > 0 {
			n := math.Sqrt(sum)
			for k := range x {
				x[k] /= n
			}
		}
	}
	return x
}

// Predict returns one probability per label, summing to 1.
func (m *Linear) Predict(text string) []float64 {
	x := m.features(text)
	logits := make([]float64, len(m.Weights))
	for c, row := range m.Weights {
		z := m.Bias[c]
		for idx, v := range x {
			z += row[idx] * v
		}
		logits[c] = z
	}
	return softmax(logits)
}

func softmax(z []float64) []float64 {
	if len(z) == 0 {
		return z
	}
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}
	var sum float64
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
