package ctl

import (
	"fmt"
	"io"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

type launchOptions struct {
	policyFlags
	updatesFile string
}

func NewCmdLaunch(streams IOStreams) *cobra.Command {
	o := &launchOptions{}
	cmd := &cobra.Command{
		Use:     "launch",
		Short:   "Show which stored update the launcher policy would run",
		Example: `  otapolicyctl launch --updates stored.yaml --runtime-version 45.0`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(streams)
		},
	}
	o.addFlags(cmd)
	cmd.Flags().StringVar(&o.updatesFile, "updates", "", "Manifest list of the stored updates (required).")
	_ = cmd.MarkFlagRequired("updates")
	return cmd
}

func (o *launchOptions) run(streams IOStreams) error {
	policy, err := o.policy()
	if err != nil {
		return err
	}

	updates, err := readRecords(o.updatesFile)
	if err != nil {
		return err
	}

	chosen := policy.SelectUpdateToLaunch(updates, o.filterSet())

	var selected []*selectionpolicy.UpdateRecord
	if chosen != nil {
		selected = append(selected, chosen)
	}
	return printRecords(streams.Out, o.output, selected, "no update is launchable")
}

// printRecords prints records as a table, or as manifests for structured output.
func printRecords(out io.Writer, format string, records []*selectionpolicy.UpdateRecord, empty string) error {
	if format != OutputTable {
		ms := make([]*manifest.Manifest, 0, len(records))
		for _, r := range records {
			ms = append(ms, manifest.FromRecord(r))
		}
		return printStructured(out, format, ms)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(out, empty)
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("ID", "CREATED", "RUNTIME", "EMBEDDED")
	for _, r := range records {
		table.AddRow(r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.RuntimeVersion, r.IsEmbedded)
	}
	_, err := fmt.Fprintln(out, table)
	return err
}
