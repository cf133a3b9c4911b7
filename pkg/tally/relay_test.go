package tally

import (
	"context"
	"testing"

	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPollIDFromChannel(t *testing.T) {
	tests := []struct {
		name     string
		channel  string
		expected string
	}{
		{name: "valid channel", channel: "datepoll:p1:tally", expected: "p1"},
		{name: "round trip", channel: ChannelFor("abc-123"), expected: "abc-123"},
		{name: "wrong prefix", channel: "canopy:p1:tally", expected: ""},
		{name: "wrong suffix", channel: "datepoll:p1:prompted", expected: ""},
		{name: "too many parts", channel: "datepoll:p1:x:tally", expected: ""},
		{name: "empty", channel: "", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PollIDFromChannel(tt.channel))
		})
	}
}

func TestRelayDeliver(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	r := &recorder{}
	bus.Subscribe("p1", r)
	relay := NewRelay(nil, bus, zaptest.NewLogger(t))

	payload, err := json.Marshal(event("p1", 3))
	require.NoError(t, err)

	relay.deliver(context.Background(), ChannelFor("p1"), string(payload))
	relay.deliver(context.Background(), ChannelFor("p2"), string(payload))
	relay.deliver(context.Background(), ChannelFor("p1"), "not json")

	got := r.received()
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Tally[0].Yes)
}
