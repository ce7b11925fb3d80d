package ctl

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

type evaluateOptions struct {
	policyFlags
	candidateFile string
	launchedFile  string
}

// EvaluateResult is the structured output of evaluate.
type EvaluateResult struct {
	Candidate string `json:"candidate" yaml:"candidate"`
	Launched  string `json:"launched,omitempty" yaml:"launched,omitempty"`
	Load      bool   `json:"load" yaml:"load"`
	Check     string `json:"check,omitempty" yaml:"check,omitempty"`
	Reason    string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func NewCmdEvaluate(streams IOStreams) *cobra.Command {
	o := &evaluateOptions{}
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Decide whether a candidate update should be loaded",
		Long: `Evaluate runs the loader policy on a candidate manifest against the launched one.
A rejected candidate is a normal outcome and exits with status 0.`,
		Example: `  otapolicyctl evaluate --candidate b.yaml --launched a.yaml --runtime-version 45.0 --filter channel=beta`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(streams)
		},
	}
	o.addFlags(cmd)
	cmd.Flags().StringVar(&o.candidateFile, "candidate", "", "Manifest file of the candidate update (required).")
	cmd.Flags().StringVar(&o.launchedFile, "launched", "", "Manifest file of the launched update (none when empty).")
	_ = cmd.MarkFlagRequired("candidate")
	return cmd
}

func (o *evaluateOptions) run(streams IOStreams) error {
	policy, err := o.policy()
	if err != nil {
		return err
	}

	candidate, err := readManifest(o.candidateFile)
	if err != nil {
		return err
	}
	var launched *selectionpolicy.UpdateRecord
	if o.launchedFile != "" {
		m, err := readManifest(o.launchedFile)
		if err != nil {
			return err
		}
		launched = m.ToRecord()
	}

	filters := selectionpolicy.MergeFilters(candidate.Filters, o.filterSet())
	d := policy.Evaluate(candidate.ToRecord(), launched, filters)

	res := newEvaluateResult(candidate, launched, d)
	if o.output != OutputTable {
		return printStructured(streams.Out, o.output, res)
	}

	table := uitable.New()
	table.MaxColWidth = 80
	table.Wrap = true
	table.AddRow("CANDIDATE", "LAUNCHED", "LOAD", "CHECK", "REASON")
	table.AddRow(res.Candidate, orNone(res.Launched), res.Load, orNone(res.Check), orNone(res.Reason))
	_, err = fmt.Fprintln(streams.Out, table)
	return err
}

func newEvaluateResult(candidate *manifest.Manifest, launched *selectionpolicy.UpdateRecord, d selectionpolicy.Decision) EvaluateResult {
	res := EvaluateResult{
		Candidate: candidate.ID,
		Load:      d.Load,
		Check:     string(d.Check),
	}
	if launched != nil {
		res.Launched = launched.ID
	}
	if d.Reason != nil {
		res.Reason = d.Reason.Error()
	}
	return res
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}
