package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	ID string `json:"id"`
}

func TestJSONAdapter(t *testing.T) {
	var got *ping
	h := JSONAdapter(func(_ context.Context, msg *ping) error {
		got = msg
		return nil
	})

	require.NoError(t, h(context.Background(), []byte(`{"id":"u-1","extra":true}`)))
	require.NotNil(t, got)
	assert.Equal(t, "u-1", got.ID)

	assert.Error(t, h(context.Background(), []byte(`{not json`)))
}

func TestJSONAdapterKeepsLargeIntegers(t *testing.T) {
	var got map[string]any
	h := JSONAdapter(func(_ context.Context, msg *map[string]any) error {
		got = *msg
		return nil
	})

	require.NoError(t, h(context.Background(), []byte(`{"build":9007199254740993}`)))
	assert.Equal(t, json.Number("9007199254740993"), got["build"])
}

func TestJSONAdapterPropagatesHandlerError(t *testing.T) {
	boom := errors.New("boom")
	h := JSONAdapter(func(context.Context, *ping) error { return boom })
	assert.ErrorIs(t, h(context.Background(), []byte(`{}`)), boom)
}

type namedModule string

func (m namedModule) Name() string                        { return string(m) }
func (m namedModule) Setup(context.Context, Sender) error { return nil }
func (m namedModule) Routes() map[EventType]HandlerFunc   { return nil }

func TestRegistryKeepsOrder(t *testing.T) {
	r := NewRegistry(namedModule("a"))
	r.Register(namedModule("b"))

	mods := r.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "a", mods[0].Name())
	assert.Equal(t, "b", mods[1].Name())
}
