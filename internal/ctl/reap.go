package ctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

type reapOptions struct {
	policyFlags
	updatesFile string
	launchedID  string
}

func NewCmdReap(streams IOStreams) *cobra.Command {
	o := &reapOptions{}
	cmd := &cobra.Command{
		Use:     "reap",
		Short:   "Show which stored updates the reaper policy would delete",
		Example: `  otapolicyctl reap --updates stored.yaml --launched C --runtime-version 45.0`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(streams)
		},
	}
	o.addFlags(cmd)
	cmd.Flags().StringVar(&o.updatesFile, "updates", "", "Manifest list of the stored updates (required).")
	cmd.Flags().StringVar(&o.launchedID, "launched", "", "ID of the launched update, one of --updates (nothing is reaped when empty).")
	_ = cmd.MarkFlagRequired("updates")
	return cmd
}

func (o *reapOptions) run(streams IOStreams) error {
	policy, err := o.policy()
	if err != nil {
		return err
	}

	updates, err := readRecords(o.updatesFile)
	if err != nil {
		return err
	}

	var launched *selectionpolicy.UpdateRecord
	if o.launchedID != "" {
		for _, u := range updates {
			if u.ID == o.launchedID {
				launched = u
				break
			}
		}
		if launched == nil {
			return fmt.Errorf("launched update %q is not in %s", o.launchedID, o.updatesFile)
		}
	}

	doomed := policy.SelectUpdatesToDelete(updates, launched, o.filterSet())
	return printRecords(streams.Out, o.output, doomed, "nothing to delete")
}
