package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/kravscan/internal/model"
	"github.com/fyrsmithlabs/kravscan/internal/monitor"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
	"github.com/fyrsmithlabs/kravscan/internal/review"
	"github.com/fyrsmithlabs/kravscan/internal/workflows"
)

var (
	reviewRetrain bool

	retrainCorrections string
	retrainKinds       []string
	retrainTimeout     time.Duration
	retrainNoWait      bool

	trainKind      string
	trainOut       string
	trainCorpus    string
	trainNegatives string
	trainOptions   model.TrainOptions
)

func init() {
	reviewCmd.Flags().BoolVar(&reviewRetrain, "retrain", false, "retrain and reload the models after merging")

	retrainCmd.Flags().StringVar(&retrainCorrections, "corrections", "", "corrections file to merge first (JSON, - for stdin)")
	retrainCmd.Flags().StringSliceVar(&retrainKinds, "kind", nil, "model to train: classifier or validator (default both)")
	retrainCmd.Flags().DurationVar(&retrainTimeout, "train-timeout", 0, "timeout for one trainer run")
	retrainCmd.Flags().BoolVar(&retrainNoWait, "no-wait", false, "print the workflow id and return")

	trainCmd.Flags().StringVar(&trainKind, "kind", review.KindClassifier, "model to train: classifier or validator")
	trainCmd.Flags().StringVar(&trainOut, "output", "", "artifact path (default: the configured model path)")
	trainCmd.Flags().StringVar(&trainCorpus, "corpus", "", "corpus file (default: review.corpus_path)")
	trainCmd.Flags().StringVar(&trainNegatives, "negatives", "", "negatives file (default: review.negatives_path)")
	trainCmd.Flags().IntVar(&trainOptions.Ngram, "ngram", 0, "largest word n-gram (default 2)")
	trainCmd.Flags().Float64Var(&trainOptions.Alpha, "alpha", 0, "additive smoothing (default 1)")
	trainCmd.Flags().IntVar(&trainOptions.MinCount, "min-count", 0, "drop n-grams seen fewer times (default 1)")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(retrainCmd)
	rootCmd.AddCommand(trainCmd)
}

// reviewCmd submits reviewer corrections to kravd
var reviewCmd = &cobra.Command{
	Use:   "review <file>",
	Short: "Merge reviewer corrections into the training corpus",
	Long: `Send reviewer corrections to kravd, which merges them into the corpus.

The file is either a JSON list of corrections or a reviewed
requirements.json; in the latter every requirement and uncertain candidate
becomes a correction carrying its status.

Examples:
  # Merge a reviewed result and retrain
  kravctl review ./anbud/requirements.json --retrain

  # Merge corrections from stdin
  cat corrections.json | kravctl review -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		corrections, err := readCorrections(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		res, err := apiClient().Review(cmd.Context(), corrections, reviewRetrain)
		var apiErr *monitor.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 422 {
			return fmt.Errorf("corrections rejected: %s", apiErr.Message)
		}
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), res)
		}
		if res.Merge != nil {
			printMerge(cmd.OutOrStdout(), res.Merge)
		}
		if res.Retrain != nil {
			printModels(cmd.OutOrStdout(), res.Retrain.Models)
			if !res.Retrain.OK() {
				return errors.New("retraining failed")
			}
		}
		return nil
	},
}

// retrainCmd starts the Temporal retrain workflow
var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Run the retrain workflow on Temporal",
	Long: `Start the retrain workflow: merge corrections (optional), train each model
and ask kravd to reload the installed artifacts.

Examples:
  # Retrain both models on the current corpus
  kravctl retrain

  # Merge corrections first and retrain only the classifier
  kravctl retrain --corrections reviewed.json --kind classifier`,
	Args: cobra.NoArgs,
	RunE: runRetrain,
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	input := workflows.RetrainInput{Kinds: retrainKinds, TrainTimeout: retrainTimeout}
	if retrainCorrections != "" {
		input.Corrections, err = readCorrections(retrainCorrections, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if err := review.Validate(input.Corrections); err != nil {
			return err
		}
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	ctx := cmd.Context()
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        fmt.Sprintf("retrain-%d", time.Now().UnixNano()),
		TaskQueue: cfg.Temporal.TaskQueue,
	}, workflows.RetrainWorkflowName, input)
	if err != nil {
		return fmt.Errorf("starting retrain workflow: %w", err)
	}
	if retrainNoWait {
		fmt.Fprintln(cmd.OutOrStdout(), run.GetID())
		return nil
	}

	var result workflows.RetrainResult
	if err := run.Get(ctx, &result); err != nil {
		return fmt.Errorf("retrain workflow %s: %w", run.GetID(), err)
	}
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), result)
	}
	if result.Merge != nil {
		printMerge(cmd.OutOrStdout(), result.Merge)
	}
	printModels(cmd.OutOrStdout(), result.Models)
	for _, e := range result.Errors {
		fmt.Fprintln(cmd.OutOrStdout(), errStyle.Render("✗ "+e))
	}
	if !result.OK() {
		return errors.New("retraining failed")
	}
	return nil
}

// trainCmd runs the built-in trainer locally
var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model from the corpus with the built-in trainer",
	Long: `Train a naive Bayes model from the corpus and negatives files and write
the artifact atomically. A running kravd picks it up through its watcher.

This is also the default trainer command used by the retrain workflow.

Examples:
  kravctl train --kind classifier
  kravctl train --kind validator --output /tmp/validator.json`,
	Args: cobra.NoArgs,
	RunE: runTrain,
}

func runTrain(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := trainOut
	if out == "" {
		switch trainKind {
		case review.KindClassifier:
			out = cfg.Model.ClassifierPath
		case review.KindValidator:
			out = cfg.Model.ValidatorPath
		default:
			return fmt.Errorf("unknown model kind %q", trainKind)
		}
	}

	corpus, negatives := trainCorpus, trainNegatives
	if corpus == "" {
		corpus = cfg.Review.CorpusPath
	}
	if negatives == "" {
		negatives = cfg.Review.NegativesPath
	}

	art, err := review.TrainFiles(trainKind, corpus, negatives, trainOptions)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := art.Save(out); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), art.Metadata)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d samples, %d labels, accuracy %s, macro F1 %.3f\n",
		trainKind, art.Metadata.Samples, len(art.Labels),
		monitor.FormatPercentage(art.Metadata.Accuracy), art.Metadata.MacroF1)
	fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render("written to "+out))
	return nil
}

// readCorrections loads corrections from path, or stdin for "-".
func readCorrections(path string, stdin io.Reader) ([]review.Correction, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading corrections: %w", err)
	}
	return parseCorrections(data)
}

// parseCorrections accepts a corrections list, {"corrections": [...]} or a
// reviewed pipeline result.
func parseCorrections(data []byte) ([]review.Correction, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("no corrections")
	}
	if data[0] == '[' {
		var list []review.Correction
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decoding corrections: %w", err)
		}
		return list, nil
	}

	var doc struct {
		Corrections []review.Correction `json:"corrections"`
		pipeline.Result
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding corrections: %w", err)
	}
	if len(doc.Corrections) > 0 {
		return doc.Corrections, nil
	}

	var out []review.Correction
	for _, list := range [][]pipeline.Candidate{doc.Candidates, doc.Uncertain} {
		for i := range list {
			c := &list[i]
			if c.Status == "" {
				continue
			}
			out = append(out, review.Correction{
				ID:            c.ID,
				Text:          c.Text,
				Discipline:    firstOr(c.Disciplines),
				LabelOverride: c.LabelOverride,
				Status:        c.Status,
				Note:          c.Note,
			})
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no corrections")
	}
	return out, nil
}

func firstOr(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

func printMerge(w io.Writer, s *review.MergeStats) {
	fmt.Fprintf(w, "Merged: %d upserted, %d unchanged, %d removed, %d negatives added, %d negatives removed\n",
		s.Upserted, s.Unchanged, s.RemovedPositive, s.AddedNegative, s.RemovedNegative)
	fmt.Fprintf(w, "Corpus: %d entries, %d negatives\n", s.CorpusSize, s.NegativeSize)
}

func printModels(w io.Writer, models []review.ModelReport) {
	for _, m := range models {
		if !m.OK {
			fmt.Fprintln(w, errStyle.Render(fmt.Sprintf("✗ %s: %s", m.Kind, m.Error)))
			continue
		}
		reloaded := "installed"
		if m.Reloaded {
			reloaded = "installed and reloaded"
		}
		fmt.Fprintf(w, "✓ %s %s: %d samples, accuracy %s, macro F1 %.3f\n",
			m.Kind, reloaded, m.Samples, monitor.FormatPercentage(m.Accuracy), m.MacroF1)
	}
}
