package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicBuilder(t *testing.T) {
	b := NewTopicBuilder("ota/v1/")

	assert.Equal(t, "ota/v1", b.Root())
	assert.Equal(t, "ota/v1/update/announce/dev-1", b.Announce("dev-1"))
	assert.Equal(t, "ota/v1/update/announce/all", b.AnnounceBroadcast())
	assert.Equal(t, "ota/v1/update/status/dev-1", b.Status("dev-1"))
	assert.Equal(t, "ota/v1/update/status/+", b.StatusWildcard())
	assert.Equal(t, "ota/v1/register/dev-1", b.Register("dev-1"))
	assert.Equal(t, "ota/v1/online/dev-1", b.Online("dev-1"))
}

func TestDeviceID(t *testing.T) {
	b := NewTopicBuilder("ota/v1")

	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"ota/v1/update/status/dev-9", "dev-9", true},
		{"ota/v1/register/dev-2", "dev-2", true},
		{"other/update/status/dev-9", "", false},
		{"ota/v1/register/", "", false},
		{"ota/v1/register", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			got, ok := b.DeviceID(tt.topic)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
