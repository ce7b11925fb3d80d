package app

import (
	cliflag "k8s.io/component-base/cli/flag"
)

// NamedFlagSetOptions is implemented by the options struct of every command.
// Flags are grouped into named sections for the help output.
type NamedFlagSetOptions interface {
	// Flags returns the sectioned flag sets bound to the options fields.
	Flags() cliflag.NamedFlagSets

	// Complete fills in fields derived from other fields after flags and config are loaded.
	Complete() error

	// Validate checks the completed options.
	Validate() error
}
