package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/kravscan/internal/jobs"
	"github.com/fyrsmithlabs/kravscan/internal/monitor"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
)

// scanFlags are shared by scan and submit.
type scanFlags struct {
	minScore  float64
	standards []string
	mode      string
	groups    []string
	focus     string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.minScore, "min-score", -1, "minimum score 0-100 (negative uses the configured default)")
	cmd.Flags().StringSliceVar(&f.standards, "standard", nil, "standard to cite, e.g. NS3420 (repeatable)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "dedup scope: per_file or global")
	cmd.Flags().StringSliceVar(&f.groups, "group", nil, "discipline group to score against (repeatable)")
	cmd.Flags().StringVar(&f.focus, "focus", "", "focus area (fokusområde)")
}

func (f *scanFlags) params(dir string) pipeline.Params {
	p := pipeline.Params{
		WorkDir:        dir,
		Standards:      f.standards,
		Mode:           f.mode,
		SelectedGroups: f.groups,
		Focus:          f.focus,
	}
	if f.minScore >= 0 {
		p.MinScore = pipeline.Score(f.minScore)
	}
	return p
}

var scanOpts scanFlags

func init() {
	scanOpts.register(scanCmd)
	rootCmd.AddCommand(scanCmd)
}

// scanCmd runs the pipeline locally
var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Extract requirements from a directory locally",
	Long: `Run the extraction pipeline in-process on every document in a directory.

Results are written to <dir>/requirements.json and summarized on stdout.

Examples:
  # Scan a tender folder
  kravctl scan ./anbud

  # Cite NS 3420 and keep only strong candidates
  kravctl scan ./anbud --standard NS3420 --min-score 70`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	asm, err := pipeline.Assemble(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer asm.Close()

	errOut := cmd.ErrOrStderr()
	progress := pipeline.NotifierFunc(func(_ context.Context, msg string, current, total int) {
		ratio := monitor.ProgressRatio(jobs.Progress{Current: current, Total: total})
		fmt.Fprintf(errOut, "\r%6s  %s\033[K", monitor.FormatPercentage(ratio), monitor.Truncate(msg, 60))
	})

	res, err := asm.Pipeline.Run(ctx, scanOpts.params(dir), progress)
	fmt.Fprintln(errOut)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// printResult writes a human summary of a batch result.
func printResult(w io.Writer, res *pipeline.Result) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%d requirements from %d documents", len(res.Candidates), res.Documents)))
	if len(res.Uncertain) > 0 {
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d uncertain candidates kept for review", len(res.Uncertain))))
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tDISCIPLINE\tSOURCE\tSUMMARY")
	for i := range res.Candidates {
		c := &res.Candidates[i]
		src := c.Source.Document
		if c.Source.Page > 0 {
			src = fmt.Sprintf("%s:%d", src, c.Source.Page)
		}
		disc := c.Discipline()
		if disc == "" {
			disc = "-"
		}
		fmt.Fprintf(tw, "%.0f\t%s\t%s\t%s\n", c.Score, disc, src, monitor.Truncate(c.Summary, 60))
	}
	_ = tw.Flush()

	for _, e := range res.Errors {
		fmt.Fprintln(w, errStyle.Render("✗ "+e))
	}
	if res.Artifact != "" {
		fmt.Fprintln(w, dimStyle.Render("written to "+res.Artifact))
	}
}

// joinOr renders an empty list as "-".
func joinOr(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
