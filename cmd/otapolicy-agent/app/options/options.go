package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/otapolicy/internal/updateagent"
	"github.com/autopeer-io/otapolicy/pkg/app"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/options"
)

type AgentOptions struct {
	MqttOptions   *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	S3Options     *options.S3Options     `json:"s3" mapstructure:"s3"`
	HttpOptions   *options.HttpOptions   `json:"http" mapstructure:"http"`
	PolicyOptions *options.PolicyOptions `json:"policy" mapstructure:"policy"`
	StoreOptions  *options.StoreOptions  `json:"store" mapstructure:"store"`
	Log           *log.Options           `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		MqttOptions:   options.NewMqttOptions(),
		S3Options:     options.NewS3Options(),
		HttpOptions:   options.NewHttpOptions(),
		PolicyOptions: options.NewPolicyOptions(),
		StoreOptions:  options.NewStoreOptions(),
		Log:           log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.PolicyOptions.AddFlags(fss.FlagSet("policy"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	if o.PolicyOptions.Filters == nil {
		o.PolicyOptions.Filters = map[string]string{}
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.PolicyOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*updateagent.Config, error) {
	return &updateagent.Config{
		MqttOptions:   o.MqttOptions,
		S3Options:     o.S3Options,
		HttpOptions:   o.HttpOptions,
		PolicyOptions: o.PolicyOptions,
		StoreOptions:  o.StoreOptions,
	}, nil
}
