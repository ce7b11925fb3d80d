package updateagent

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	"github.com/autopeer-io/otapolicy/internal/updateagent/device"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

// Runner is a long-running component started by the agent.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type onlineRunner struct {
	Runner
}

// Online marks r as a runner that sends through the transport, so the agent starts it only
// once the transport is ready.
func Online(r Runner) Runner {
	return onlineRunner{r}
}

// Transport delivers module events to and from the update server.
type Transport interface {
	core.Sender
	Runner
	Register(event core.EventType, handler core.HandlerFunc) error

	// Ready is closed once sends can be delivered.
	Ready() <-chan struct{}
}

// Launcher picks the update to run when the agent starts.
type Launcher interface {
	LaunchOnStartup(ctx context.Context) (*selectionpolicy.UpdateRecord, error)
}

type Agent struct {
	device   device.Info
	hub      Transport
	modules  *core.Registry
	launcher Launcher
	runners  []Runner
	clock    clock.PassiveClock
}

func NewAgent(info device.Info, hub Transport, modules *core.Registry, launcher Launcher, clk clock.PassiveClock, runners ...Runner) *Agent {
	return &Agent{
		device:   info,
		hub:      hub,
		modules:  modules,
		launcher: launcher,
		runners:  runners,
		clock:    clk,
	}
}

// Run wires the modules into the hub and runs every component until ctx ends or one of them
// fails. The stored update is launched, and online runners are started, once the hub is ready.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting otapolicy-agent", "deviceID", a.device.ID, "runtimeVersion", a.device.RuntimeVersion)

	for _, m := range a.modules.Modules() {
		if err := m.Setup(ctx, a.hub); err != nil {
			return fmt.Errorf("module %s setup failed: %w", m.Name(), err)
		}

		for event, handler := range m.Routes() {
			if err := a.hub.Register(event, handler); err != nil {
				return fmt.Errorf("module %s register event %s failed: %w", m.Name(), event, err)
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(ctx)
	})

	var online []Runner
	for _, r := range a.runners {
		if _, ok := r.(onlineRunner); ok {
			online = append(online, r)
			continue
		}
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-a.hub.Ready():
		}

		launched, err := a.launcher.LaunchOnStartup(ctx)
		if err != nil {
			log.Error(err, "Startup launch selection failed")
		}
		a.registerIdentity(ctx, launched)

		for _, r := range online {
			g.Go(func() error {
				return r.Run(ctx)
			})
		}
		return nil
	})

	log.Info("All components starting...")
	err := g.Wait()
	log.Info("Agent shutting down...")
	return err
}

// registerIdentity announces the device on a ready transport.
// QoS 1 and retain make a single attempt sufficient.
func (a *Agent) registerIdentity(ctx context.Context, launched *selectionpolicy.UpdateRecord) {
	req := core.Registration{
		DeviceID:       a.device.ID,
		RuntimeVersion: a.device.RuntimeVersion,
		Timestamp:      a.clock.Now().UTC(),
	}
	if launched != nil {
		req.LaunchedID = launched.ID
	}

	if err := a.hub.SendJSON(ctx, core.EventRegister, req); err != nil {
		log.Error(err, "Failed to send registration request")
		return
	}

	log.Info("Sent registration request", "runtimeVersion", a.device.RuntimeVersion, "launched", req.LaunchedID)
}
