package model

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ErrInsufficientData is returned when a corpus cannot produce a model.
var ErrInsufficientData = errors.New("insufficient training data")

// Sample is one labeled training text.
type Sample struct {
	Text  string
	Label string
}

// TrainOptions configures TrainNaiveBayes.
type TrainOptions struct {
	// Ngram is the largest word n-gram. Default 2.
	Ngram int
	// Alpha is the additive smoothing constant. Default 1.
	Alpha float64
	// MinCount drops n-grams seen fewer times across the corpus. Default 1.
	MinCount int
	// HoldoutEvery evaluates on every n-th sample when the corpus has at
	// least 2n samples. Default 5.
	HoldoutEvery int
	Kind         string
}

func (o *TrainOptions) defaults() {
	if o.Ngram == 0 {
		o.Ngram = 2
	}
	if o.Alpha == 0 {
		o.Alpha = 1
	}
	if o.MinCount == 0 {
		o.MinCount = 1
	}
	if o.HoldoutEvery == 0 {
		o.HoldoutEvery = 5
	}
}

// TrainNaiveBayes fits a multinomial Naive Bayes model. Accuracy and macro-F1
// are measured on a deterministic holdout, then the final model is fitted on
// every sample.
func TrainNaiveBayes(samples []Sample, opts TrainOptions) (*Artifact, error) {
	opts.defaults()

	labels := labelSet(samples)
	if len(labels) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 distinct labels, got %d", ErrInsufficientData, len(labels))
	}

	var acc, f1 float64
	if len(samples) >= 2*opts.HoldoutEvery {
		var train, test []Sample
		for i, s := range samples {
			if i%opts.HoldoutEvery == opts.HoldoutEvery-1 {
				test = append(test, s)
			} else {
				train = append(train, s)
			}
		}
		if len(labelSet(train)) == len(labels) {
			m := fitNB(train, labels, opts)
			acc, f1 = evaluate(&Artifact{Model: m, Labels: labels}, test)
		}
	}

	a := &Artifact{
		Model:  fitNB(samples, labels, opts),
		Labels: labels,
		Metadata: Metadata{
			SavedAt:  time.Now().UTC(),
			Kind:     opts.Kind,
			Samples:  len(samples),
			Accuracy: acc,
			MacroF1:  f1,
		},
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func labelSet(samples []Sample) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range samples {
		if s.Label != "" && !seen[s.Label] {
			seen[s.Label] = true
			out = append(out, s.Label)
		}
	}
	sort.Strings(out)
	return out
}

func fitNB(samples []Sample, labels []string, opts TrainOptions) *Linear {
	labelIdx := make(map[string]int, len(labels))
	for i, l := range labels {
		labelIdx[l] = i
	}

	total := map[string]int{}
	perDoc := make([][]string, len(samples))
	for i, s := range samples {
		perDoc[i] = ngrams(Tokenize(s.Text), opts.Ngram)
		for _, g := range perDoc[i] {
			total[g]++
		}
	}

	terms := make([]string, 0, len(total))
	for g, n := range total {
		if n >= opts.MinCount {
			terms = append(terms, g)
		}
	}
	sort.Strings(terms)
	vocab := make(map[string]int, len(terms))
	for i, g := range terms {
		vocab[g] = i
	}

	counts := make([][]float64, len(labels))
	for i := range counts {
		counts[i] = make([]float64, len(terms))
	}
	docs := make([]float64, len(labels))
	classTotal := make([]float64, len(labels))
	for i, s := range samples {
		c, ok := labelIdx[s.Label]
		if !ok {
			continue
		}
		docs[c]++
		for _, g := range perDoc[i] {
			if idx, ok := vocab[g]; ok {
				counts[c][idx]++
				classTotal[c]++
			}
		}
	}

	var nDocs float64
	for _, d := range docs {
		nDocs += d
	}
	v := float64(len(terms))
	weights := make([][]float64, len(labels))
	bias := make([]float64, len(labels))
	for c := range labels {
		bias[c] = math.Log((docs[c] + 1) / (nDocs + float64(len(labels))))
		denom := classTotal[c] + opts.Alpha*v
		weights[c] = make([]float64, len(terms))
		for idx := range terms {
			weights[c][idx] = math.Log((counts[c][idx] + opts.Alpha) / denom)
		}
	}

	return &Linear{Vocabulary: vocab, Weights: weights, Bias: bias, Ngram: opts.Ngram, Norm: "none"}
}

// evaluate returns accuracy and macro-averaged F1 of a on test.
func evaluate(a *Artifact, test []Sample) (accuracy, macroF1 float64) {
	if len(test) == 0 {
		return 0, 0
	}
	tp := make(map[string]float64)
	fp := make(map[string]float64)
	fn := make(map[string]float64)
	var correct float64
	for _, s := range test {
		pred := a.Labels[argmax(a.Predict(s.Text))]
		if pred == s.Label {
			correct++
			tp[pred]++
		} else {
			fp[pred]++
			fn[s.Label]++
		}
	}

	var sum float64
	for _, l := range a.Labels {
		p, r := 0.0, 0.0
		if tp[l]+fp[l] > 0 {
			p = tp[l] / (tp[l] + fp[l])
		}
		if tp[l]+fn[l] > 0 {
			r = tp[l] / (tp[l] + fn[l])
		}
		if p+r > 0 {
			sum += 2 * p * r / (p + r)
		}
	}
	return correct / float64(len(test)), sum / float64(len(a.Labels))
}

// Argmax returns the index of the largest probability, preferring the first.
func Argmax(p []float64) int { return argmax(p) }

func argmax(p []float64) int {
	best := 0
	for i := 1; i < len(p); i++ {
		if p[i] > p[best] {
			best = i
		}
	}
	return best
}
