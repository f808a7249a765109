package correlator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderAndRequestSpacesAreSeparate(t *testing.T) {
	c := New()
	c.RegisterOrder(5, "AAPL")
	c.RegisterRequest(5, "MSFT", KindSubscription, ChannelQuote)

	assert.Equal(t, "AAPL", c.OrderSymbol(5))
	assert.Equal(t, "MSFT", c.RequestSymbol(5))

	e, ok := c.LookupRequest(5)
	require.True(t, ok)
	assert.Equal(t, KindSubscription, e.Kind)
	assert.Equal(t, ChannelQuote, e.Channel)
}

func TestUnknownIDsDoNotFail(t *testing.T) {
	c := New()
	assert.Equal(t, Unknown, c.OrderSymbol(42))
	assert.Equal(t, Unknown, c.RequestSymbol(42))

	_, ok := c.Unregister(42)
	assert.False(t, ok)
}

func TestUnregisterRemovesSubscription(t *testing.T) {
	c := New()
	c.RegisterRequest(10, "AAPL", KindSubscription, ChannelQuote)
	c.RegisterRequest(11, "AAPL", KindSubscription, ChannelTrade)
	c.RegisterRequest(12, "AAPL", KindHistorical, ChannelNone)

	assert.Len(t, c.Subscriptions(ChannelNone), 2)

	e, ok := c.Unregister(10)
	require.True(t, ok)
	assert.Equal(t, "AAPL", e.Symbol)
	assert.Equal(t, Unknown, c.RequestSymbol(10))

	subs := c.Subscriptions(ChannelQuote)
	assert.Empty(t, subs)
	subs = c.Subscriptions(ChannelTrade)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(11), subs[0].RequestID)
}

func TestActiveSubscriptionPrefersOldest(t *testing.T) {
	c := New()
	c.RegisterRequest(21, "AAPL", KindSubscription, ChannelQuote)
	c.RegisterRequest(20, "AAPL", KindSubscription, ChannelQuote)

	e, ok := c.ActiveSubscription("AAPL", ChannelQuote)
	require.True(t, ok)
	assert.Equal(t, int64(20), e.RequestID)

	_, ok = c.ActiveSubscription("AAPL", ChannelTrade)
	assert.False(t, ok)
}
