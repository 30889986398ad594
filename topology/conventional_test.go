package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConventional(t *testing.T) {
	t.Run("declares endpoint queue, exchange, and binding", func(t *testing.T) {
		topo, err := NewConventional("billing", true)
		require.NoError(t, err)

		decl := topo.Declarations()
		require.Len(t, decl.Queues, 1)
		require.Len(t, decl.Exchanges, 1)
		require.Len(t, decl.Bindings, 1)

		assert.Equal(t, "billing", decl.Queues[0].Name)
		assert.True(t, decl.Queues[0].Durable)
		assert.Equal(t, "billing", decl.Exchanges[0].Name)
		assert.Equal(t, "fanout", decl.Exchanges[0].Kind)
		assert.Equal(t, "billing", decl.Bindings[0].SourceExchange)
		assert.Equal(t, "billing", decl.Bindings[0].TargetQueue)
	})

	t.Run("durability flag applies to every declared entity", func(t *testing.T) {
		topo, err := NewConventional("billing", false,
			WithSubscriptions("orders.OrderPlaced"),
			WithPublications("billing.InvoicePaid"),
		)
		require.NoError(t, err)

		decl := topo.Declarations()
		for _, ex := range decl.Exchanges {
			assert.False(t, ex.Durable, ex.Name)
		}
		for _, q := range decl.Queues {
			assert.False(t, q.Durable, q.Name)
		}
	})

	t.Run("subscriptions declare type exchanges bound to the endpoint exchange", func(t *testing.T) {
		topo, err := NewConventional("billing", true,
			WithSubscriptions("orders.OrderPlaced", "orders.OrderCancelled"),
		)
		require.NoError(t, err)

		decl := topo.Declarations()
		names := make([]string, 0, len(decl.Exchanges))
		for _, ex := range decl.Exchanges {
			names = append(names, ex.Name)
		}
		assert.Equal(t, []string{"billing", "orders.OrderCancelled", "orders.OrderPlaced"}, names)

		var toEndpoint []Binding
		for _, b := range decl.Bindings {
			if b.TargetExchange == "billing" {
				toEndpoint = append(toEndpoint, b)
			}
		}
		require.Len(t, toEndpoint, 2)
		assert.Equal(t, "orders.OrderCancelled", toEndpoint[0].SourceExchange)
		assert.Equal(t, "orders.OrderPlaced", toEndpoint[1].SourceExchange)
	})

	t.Run("publications declare type exchanges without bindings", func(t *testing.T) {
		topo, err := NewConventional("billing", true,
			WithPublications("billing.InvoicePaid"),
		)
		require.NoError(t, err)

		decl := topo.Declarations()
		require.Len(t, decl.Exchanges, 2)
		assert.Equal(t, "billing.InvoicePaid", decl.Exchanges[1].Name)
		assert.Len(t, decl.Bindings, 1)
	})

	t.Run("declarations are deterministic across calls and instances", func(t *testing.T) {
		build := func() Declarations {
			topo, err := NewConventional("billing", true,
				WithSubscriptions("b.Second", "a.First", "b.Second"),
				WithPublications("c.Third"),
				WithMaxPriority(5),
			)
			require.NoError(t, err)
			return topo.Declarations()
		}

		first := build()
		second := build()
		assert.Equal(t, first, second)

		topo, err := NewConventional("billing", true,
			WithSubscriptions("b.Second", "a.First", "b.Second"),
			WithPublications("c.Third"),
			WithMaxPriority(5),
		)
		require.NoError(t, err)
		assert.Equal(t, topo.Declarations(), topo.Declarations())
	})

	t.Run("max priority is applied to the endpoint queue", func(t *testing.T) {
		topo, err := NewConventional("billing", true, WithMaxPriority(9))
		require.NoError(t, err)

		args := topo.Declarations().Queues[0].Arguments
		require.NotNil(t, args)
		assert.Equal(t, 9, args["x-max-priority"])
	})

	t.Run("out-of-range priority fails at construction", func(t *testing.T) {
		_, err := NewConventional("billing", true, WithMaxPriority(10))
		assert.Error(t, err)

		_, err = NewConventional("billing", true, WithMaxPriority(-1))
		assert.Error(t, err)
	})

	t.Run("no priority argument unless configured", func(t *testing.T) {
		topo, err := NewConventional("billing", true)
		require.NoError(t, err)
		assert.Nil(t, topo.Declarations().Queues[0].Arguments)
	})

	t.Run("empty endpoint name fails", func(t *testing.T) {
		_, err := NewConventional("", true)
		assert.Error(t, err)
	})
}

func TestConventionalAddresses(t *testing.T) {
	topo, err := NewConventional("billing", true)
	require.NoError(t, err)

	t.Run("send targets the destination endpoint exchange", func(t *testing.T) {
		addr := topo.AddressForSend("orders")
		assert.Equal(t, RoutingAddress{Exchange: "orders", Queue: "orders"}, addr)
	})

	t.Run("publish targets the type exchange", func(t *testing.T) {
		addr := topo.AddressForPublish("orders.OrderPlaced")
		assert.Equal(t, RoutingAddress{Exchange: "orders.OrderPlaced"}, addr)
	})

	t.Run("addresses are stable across repeated calls", func(t *testing.T) {
		first := topo.AddressForSend("orders")
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, topo.AddressForSend("orders"))
		}
	})

	t.Run("names outside the broker alphabet are sanitized", func(t *testing.T) {
		addr := topo.AddressForPublish("orders/OrderPlaced#v2")
		assert.Equal(t, "orders-OrderPlaced-v2", addr.Exchange)
	})
}

func TestConventionalFactory(t *testing.T) {
	factory := ConventionalFactory("billing", WithMaxPriority(3))

	topo, err := factory(true)
	require.NoError(t, err)
	assert.Equal(t, "billing", topo.Declarations().Queues[0].Name)
	assert.True(t, topo.Declarations().Queues[0].Durable)

	topo, err = factory(false)
	require.NoError(t, err)
	assert.False(t, topo.Declarations().Queues[0].Durable)
}
