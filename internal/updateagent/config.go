package updateagent

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	"github.com/autopeer-io/otapolicy/internal/updateagent/device"
	"github.com/autopeer-io/otapolicy/internal/updateagent/hub"
	"github.com/autopeer-io/otapolicy/internal/updateagent/loader"
	"github.com/autopeer-io/otapolicy/internal/updateagent/server"
	"github.com/autopeer-io/otapolicy/internal/updateagent/storage"
	"github.com/autopeer-io/otapolicy/internal/updateagent/store"
	"github.com/autopeer-io/otapolicy/internal/updateagent/watcher"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/otapolicy/pkg/mqtt/topic"
	"github.com/autopeer-io/otapolicy/pkg/options"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

type Config struct {
	MqttOptions   *options.MqttOptions
	S3Options     *options.S3Options
	HttpOptions   *options.HttpOptions
	PolicyOptions *options.PolicyOptions
	StoreOptions  *options.StoreOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	info, err := device.NewDiscoverer().Discover()
	if err != nil {
		return nil, fmt.Errorf("FATAL: %w", err)
	}
	if cfg.PolicyOptions.RuntimeVersion != "" {
		info.RuntimeVersion = cfg.PolicyOptions.RuntimeVersion
	}

	policy, err := cfg.PolicyOptions.NewSelectionPolicy(info.RuntimeVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to build selection policy: %w", err)
	}

	clk := clock.RealClock{}

	st, err := store.Open(cfg.StoreOptions.DataDir, clk)
	if err != nil {
		return nil, err
	}

	provider, err := storage.NewMinIOProvider(cfg.S3Options)
	if err != nil {
		return nil, err
	}

	mqttClient, topicBuilder, err := cfg.initMqttClientAndTopicBuilder(info.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	h := hub.New(info.ID, mqttClient, topicBuilder)

	ld := loader.New(loader.Config{
		DeviceID:        info.ID,
		Filters:         selectionpolicy.FilterSet(cfg.PolicyOptions.Filters),
		ActivateOnLoad:  cfg.PolicyOptions.ActivateOnLoad,
		Reap:            cfg.StoreOptions.Reap,
		RequireChecksum: cfg.StoreOptions.RequireChecksum,
	}, policy, st, provider, clk)

	ready := func() error {
		if !h.IsConnected() {
			return errors.New("broker not connected")
		}
		return nil
	}

	runners := []Runner{
		RunnerFunc(server.NewServer(cfg.HttpOptions, st, ld, ready).Start),
		RunnerFunc(func(ctx context.Context) error {
			if err := provider.CheckBucket(ctx); err != nil {
				log.Warn("Bundle bucket is not reachable yet", "error", err)
			}
			return nil
		}),
	}
	if cfg.StoreOptions.EmbeddedDir != "" {
		runners = append(runners, Online(watcher.New(cfg.StoreOptions.EmbeddedDir, ld)))
	}

	return NewAgent(info, h, core.NewRegistry(ld), ld, clk, runners...), nil
}

func (cfg *Config) initMqttClientAndTopicBuilder(deviceID string) (mqtt.Client, *mqtttopic.TopicBuilder, error) {
	topicBuilder := mqtttopic.NewTopicBuilder(cfg.MqttOptions.TopicRoot)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("otapolicy-agent-%s", deviceID)
	}

	mqttConfig.WillTopic, mqttConfig.WillPayload = hub.OfflineWill(topicBuilder, deviceID)
	mqttConfig.WillQoS = mqtt.AtLeastOnce
	mqttConfig.WillRetain = true

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}

	return mqttClient, topicBuilder, nil
}
