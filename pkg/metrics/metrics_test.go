package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Event("order_status")
	m.Event("order_status")
	m.OrderSubmitted(true)
	m.Wait("submit_order", "confirmed", 10*time.Millisecond)
	m.TransportError(202)
	m.TradeLogSize(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("order_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("bracket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.waitOutcomes.WithLabelValues("submit_order", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportErrors.WithLabelValues("202")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.tradeLogSize))
}

func TestSeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
