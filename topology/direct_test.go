package topology

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDirect(t *testing.T) {
	t.Run("defaults to the amq.topic exchange", func(t *testing.T) {
		topo, err := NewDirect("billing", true)
		require.NoError(t, err)

		addr := topo.AddressForPublish("orders.OrderPlaced")
		assert.Equal(t, DefaultExchange, addr.Exchange)
		assert.Equal(t, "orders.OrderPlaced", addr.RoutingKey)
	})

	t.Run("pre-declared amq exchanges are not redeclared", func(t *testing.T) {
		topo, err := NewDirect("billing", true)
		require.NoError(t, err)

		assert.Empty(t, topo.Declarations().Exchanges)
		require.Len(t, topo.Declarations().Queues, 1)
		assert.Equal(t, "billing", topo.Declarations().Queues[0].Name)
	})

	t.Run("custom exchange is declared", func(t *testing.T) {
		topo, err := NewDirect("billing", true, WithExchange("wirebus.events"))
		require.NoError(t, err)

		decl := topo.Declarations()
		require.Len(t, decl.Exchanges, 1)
		assert.Equal(t, "wirebus.events", decl.Exchanges[0].Name)
		assert.Equal(t, "topic", decl.Exchanges[0].Kind)
		assert.True(t, decl.Exchanges[0].Durable)
	})

	t.Run("empty exchange name fails", func(t *testing.T) {
		_, err := NewDirect("billing", true, WithExchange(""))
		assert.Error(t, err)
	})

	t.Run("nil routing key convention fails", func(t *testing.T) {
		_, err := NewDirect("billing", true, WithRoutingKeyConvention(nil))
		assert.Error(t, err)
	})

	t.Run("bindings subscribe the endpoint queue on the shared exchange", func(t *testing.T) {
		topo, err := NewDirect("billing", true,
			WithBindings("orders.OrderPlaced", "orders.OrderCancelled"),
		)
		require.NoError(t, err)

		decl := topo.Declarations()
		require.Len(t, decl.Bindings, 2)
		for _, b := range decl.Bindings {
			assert.Equal(t, DefaultExchange, b.SourceExchange)
			assert.Equal(t, "billing", b.TargetQueue)
		}
		assert.Equal(t, "orders.OrderCancelled", decl.Bindings[0].RoutingKey)
		assert.Equal(t, "orders.OrderPlaced", decl.Bindings[1].RoutingKey)
	})
}

func TestDirectAddresses(t *testing.T) {
	t.Run("send goes through the default exchange to the queue", func(t *testing.T) {
		topo, err := NewDirect("billing", true)
		require.NoError(t, err)

		addr := topo.AddressForSend("orders")
		assert.Equal(t, RoutingAddress{RoutingKey: "orders", Queue: "orders"}, addr)
		assert.Empty(t, addr.Exchange)
	})

	t.Run("custom routing key convention applies to publishes", func(t *testing.T) {
		topo, err := NewDirect("billing", true,
			WithRoutingKeyConvention(func(messageType string) string {
				return "events." + strings.ToLower(messageType)
			}),
		)
		require.NoError(t, err)

		addr := topo.AddressForPublish("OrderPlaced")
		assert.Equal(t, "events.orderplaced", addr.RoutingKey)
	})

	t.Run("publish addresses are stable across repeated calls", func(t *testing.T) {
		topo, err := NewDirect("billing", true)
		require.NoError(t, err)

		first := topo.AddressForPublish("orders.OrderPlaced")
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, topo.AddressForPublish("orders.OrderPlaced"))
		}
	})
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "orders.OrderPlaced", sanitizeName("orders.OrderPlaced"))
	assert.Equal(t, "a-b-c", sanitizeName("a b/c"))
	assert.Equal(t, "primary:orders_v1-x.y", sanitizeName("primary:orders_v1-x.y"))
	assert.Equal(t, "", sanitizeName(""))

	long := strings.Repeat("x", 300)
	assert.Len(t, sanitizeName(long), 255)
}
