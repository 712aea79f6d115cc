package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := NewBus()

	var got []string
	sub, err := bus.Subscribe("songs", func(collection string) error {
		got = append(got, collection)
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID())
	assert.Equal(t, "songs", sub.Collection())
	assert.True(t, sub.IsActive())

	require.NoError(t, bus.Publish("songs"))
	require.NoError(t, bus.Publish("gigs"), "unrelated collection is not delivered")

	assert.Equal(t, []string{"songs"}, got)
}

func TestBusWildcard(t *testing.T) {
	bus := NewBus()

	var got []string
	_, err := bus.Subscribe(AllCollections, func(collection string) error {
		got = append(got, collection)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish("songs"))
	require.NoError(t, bus.Publish("gig_keys"))

	assert.Equal(t, []string{"songs", "gig_keys"}, got)
}

func TestBusCancel(t *testing.T) {
	bus := NewBus()

	calls := 0
	sub, err := bus.Subscribe("songs", func(string) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish("songs"))
	require.NoError(t, sub.Cancel())
	assert.False(t, sub.IsActive())

	require.NoError(t, bus.Publish("songs"))
	assert.Equal(t, 1, calls)
}

func TestBusNilHandler(t *testing.T) {
	bus := NewBus()
	_, err := bus.Subscribe("songs", nil)
	assert.Error(t, err)
}

func TestBusJoinsHandlerErrors(t *testing.T) {
	bus := NewBus()

	boom := errors.New("boom")
	_, err := bus.Subscribe("songs", func(string) error { return boom })
	require.NoError(t, err)
	_, err = bus.Subscribe("songs", func(string) error { return nil })
	require.NoError(t, err)

	assert.ErrorIs(t, bus.Publish("songs"), boom)
}
