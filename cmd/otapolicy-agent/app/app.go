package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/autopeer-io/otapolicy/cmd/otapolicy-agent/app/options"
	"github.com/autopeer-io/otapolicy/pkg/app"
	"github.com/autopeer-io/otapolicy/pkg/log"
)

const (
	commandName = "otapolicy-agent"
	commandDesc = `The otapolicy agent runs on a device. It receives update announcements over MQTT,
decides with the configured selection policy whether each one should be loaded, downloads the
selected bundles from object storage and reports every decision back to the update server.`
)

func NewApp() *app.App {
	opts := options.NewAgentOptions()
	application := app.NewApp(
		commandName,
		"Launch an otapolicy update agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
	)
	return application
}

func run(opts *options.AgentOptions) app.RunFunc {
	return func() error {
		log.Init(opts.Log)

		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return agent.Run(ctx)
	}
}
