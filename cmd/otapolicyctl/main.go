package main

import (
	"os"

	"github.com/autopeer-io/otapolicy/internal/ctl"
	"github.com/autopeer-io/otapolicy/pkg/app"
)

const commandDesc = `otapolicyctl runs the update selection policies offline against manifest files.
It answers which candidate would be loaded, which stored update would be launched and which
stored updates would be deleted, without touching a device.`

func main() {
	streams := ctl.IOStreams{Out: os.Stdout}
	app.NewApp(
		"otapolicyctl",
		"Inspect update selection decisions",
		app.WithDescription(commandDesc),
		app.WithNoConfig(),
		app.WithCommands(ctl.NewCommands(streams)...),
	).Run()
}
