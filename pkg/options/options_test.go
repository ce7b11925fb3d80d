package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{"127.0.0.1:8470", false},
		{":8470", false},
		{"[::1]:8470", false},
		{"127.0.0.1", true},
		{"127.0.0.1:99999", true},
		{"127.0.0.1:http", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := ValidateAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultsAreValid(t *testing.T) {
	for name, o := range map[string]IOptions{
		"http":   NewHttpOptions(),
		"mqtt":   NewMqttOptions(),
		"s3":     NewS3Options(),
		"policy": NewPolicyOptions(),
		"store":  NewStoreOptions(),
	} {
		assert.Empty(t, o.Validate(), name)
	}
}

func TestNilOptionsAreValid(t *testing.T) {
	var h *HttpOptions
	var p *PolicyOptions
	var s *StoreOptions
	assert.Empty(t, h.Validate())
	assert.Empty(t, p.Validate())
	assert.Empty(t, s.Validate())
}

func TestInvalidOptions(t *testing.T) {
	h := NewHttpOptions()
	h.Addr = "nowhere"
	h.Timeout = 0
	assert.Len(t, h.Validate(), 2)

	m := NewMqttOptions()
	m.Broker = "127.0.0.1:1883"
	m.KeepAlive = 0
	m.TopicRoot = ""
	assert.Len(t, m.Validate(), 3)

	s3 := NewS3Options()
	s3.Endpoint = ""
	s3.BucketName = ""
	s3.DownloadTimeout = -time.Second
	assert.Len(t, s3.Validate(), 3)

	p := NewPolicyOptions()
	p.Strategy = selectionpolicy.StrategyChannel
	p.ChannelKey = ""
	assert.Len(t, p.Validate(), 2, "channel strategy needs a channel and a key")

	p.Strategy = "oldest"
	p.ChannelKey = "channel"
	assert.Len(t, p.Validate(), 1)

	st := NewStoreOptions()
	st.DataDir = "relative/dir"
	st.EmbeddedDir = "embedded"
	assert.Len(t, st.Validate(), 2)
}

func TestMqttToClientConfig(t *testing.T) {
	o := NewMqttOptions()
	o.ClientID = "dev-1"
	o.KeepAlive = 30 * time.Second

	cfg := o.ToClientConfig()
	assert.Equal(t, "tcp://127.0.0.1:1883", cfg.BrokerURL)
	assert.Equal(t, "dev-1", cfg.ClientID)
	assert.Equal(t, uint16(30), cfg.KeepAlive)
	assert.Equal(t, uint32(3600), cfg.SessionExpiry)
	assert.False(t, cfg.CleanStart)
	assert.NoError(t, cfg.Validate())
}

func TestPolicyFlags(t *testing.T) {
	o := NewPolicyOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--policy.strategy=channel",
		"--policy.channel=beta",
		"--policy.filter=branch=main",
		"--policy.activate-on-load",
	}))

	assert.Equal(t, selectionpolicy.StrategyChannel, o.Strategy)
	assert.Equal(t, "beta", o.Channel)
	assert.Equal(t, map[string]string{"branch": "main"}, o.Filters)
	assert.True(t, o.ActivateOnLoad)
	assert.Empty(t, o.Validate())
}

func TestNewSelectionPolicy(t *testing.T) {
	o := NewPolicyOptions()

	p, err := o.NewSelectionPolicy("45.0")
	require.NoError(t, err)
	assert.Equal(t, "45.0", p.RuntimeVersion())

	o.RuntimeVersion = "46.0"
	p, err = o.NewSelectionPolicy("45.0")
	require.NoError(t, err)
	assert.Equal(t, "46.0", p.RuntimeVersion(), "configured runtime version wins over the discovered one")

	o.Strategy = "oldest"
	_, err = o.NewSelectionPolicy("45.0")
	assert.Error(t, err)
}
