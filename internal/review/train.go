package review

import (
	"fmt"

	"github.com/fyrsmithlabs/kravscan/internal/model"
)

// Model kinds trained from the corpus.
const (
	KindClassifier = "classifier"
	KindValidator  = "validator"
)

// Validator labels. validator.Truthy accepts the positive one.
const (
	labelRequirement    = "1"
	labelNotRequirement = "0"
)

// Samples builds the training set for kind. The classifier learns the
// corpus disciplines; the validator learns corpus texts against negatives.
func Samples(kind string, corpus *Corpus, negatives *NegativeStore) ([]model.Sample, error) {
	switch kind {
	case KindClassifier:
		return corpus.Samples(), nil
	case KindValidator:
		out := make([]model.Sample, 0, corpus.Len()+negatives.Len())
		for _, e := range corpus.Entries() {
			out = append(out, model.Sample{Text: e.Text, Label: labelRequirement})
		}
		for _, l := range negatives.Lines() {
			out = append(out, model.Sample{Text: l, Label: labelNotRequirement})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown model kind %q", kind)
}

// TrainFiles loads the corpus and negative files and fits a kind artifact
// with the built-in Naive Bayes trainer.
func TrainFiles(kind, corpusPath, negativesPath string, opts model.TrainOptions) (*model.Artifact, error) {
	corpus, err := LoadCorpus(corpusPath)
	if err != nil {
		return nil, err
	}
	negatives, err := LoadNegatives(negativesPath)
	if err != nil {
		return nil, err
	}
	samples, err := Samples(kind, corpus, negatives)
	if err != nil {
		return nil, err
	}
	opts.Kind = kind
	return model.TrainNaiveBayes(samples, opts)
}
