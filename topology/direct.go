package topology

import (
	"fmt"
	"strings"
)

// DefaultExchange is the pre-declared topic exchange the direct topology
// publishes to unless overridden.
const DefaultExchange = "amq.topic"

// RoutingKeyConvention computes the routing key for a published message type.
// The convention must keep distinct types from colliding on the shared
// exchange.
type RoutingKeyConvention func(messageType string) string

// DefaultRoutingKeyConvention uses the sanitized message type, so dotted type
// names form topic hierarchies.
func DefaultRoutingKeyConvention(messageType string) string {
	return sanitizeName(messageType)
}

// Direct routes every publish through one shared topic exchange instead of
// one exchange per message type. Sends bypass exchanges entirely and go
// through the broker's default exchange straight to the destination queue.
type Direct struct {
	endpoint   string
	durable    bool
	exchange   string
	routingKey RoutingKeyConvention
	decl       Declarations
}

type directConfig struct {
	exchange   string
	routingKey RoutingKeyConvention
	subscribed []string
}

// DirectOption configures the direct topology.
type DirectOption func(*directConfig)

// WithExchange overrides the shared exchange name.
func WithExchange(name string) DirectOption {
	return func(c *directConfig) {
		c.exchange = name
	}
}

// WithRoutingKeyConvention overrides how message types map to routing keys.
func WithRoutingKeyConvention(convention RoutingKeyConvention) DirectOption {
	return func(c *directConfig) {
		c.routingKey = convention
	}
}

// WithBindings subscribes the endpoint queue to the given message types on
// the shared exchange.
func WithBindings(messageTypes ...string) DirectOption {
	return func(c *directConfig) {
		c.subscribed = append(c.subscribed, messageTypes...)
	}
}

// NewDirect builds the direct topology for the named endpoint.
func NewDirect(endpoint string, durable bool, opts ...DirectOption) (*Direct, error) {
	name, err := validateEndpointName(endpoint)
	if err != nil {
		return nil, err
	}

	cfg := directConfig{exchange: DefaultExchange, routingKey: DefaultRoutingKeyConvention}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.exchange == "" {
		return nil, fmt.Errorf("topology: direct topology requires a shared exchange name")
	}
	if cfg.routingKey == nil {
		return nil, fmt.Errorf("topology: direct topology requires a routing key convention")
	}

	t := &Direct{
		endpoint:   name,
		durable:    durable,
		exchange:   cfg.exchange,
		routingKey: cfg.routingKey,
	}
	t.decl = t.buildDeclarations(cfg)
	return t, nil
}

// DirectFactory returns a Factory producing the direct topology for the named
// endpoint.
func DirectFactory(endpoint string, opts ...DirectOption) Factory {
	return func(durable bool) (RoutingTopology, error) {
		return NewDirect(endpoint, durable, opts...)
	}
}

// AddressForSend routes through the default exchange, which delivers straight
// to the queue named by the routing key.
func (t *Direct) AddressForSend(messageType string) RoutingAddress {
	dest := sanitizeName(messageType)
	return RoutingAddress{RoutingKey: dest, Queue: dest}
}

// AddressForPublish targets the shared exchange with the convention's routing
// key for the type.
func (t *Direct) AddressForPublish(messageType string) RoutingAddress {
	return RoutingAddress{Exchange: t.exchange, RoutingKey: t.routingKey(messageType)}
}

// Declarations returns the endpoint queue, its subscription bindings, and the
// shared exchange unless it is one of the broker's pre-declared amq.*
// exchanges.
func (t *Direct) Declarations() Declarations {
	return t.decl
}

func (t *Direct) buildDeclarations(cfg directConfig) Declarations {
	decl := Declarations{
		Queues: []QueueDeclaration{
			{Name: t.endpoint, Durable: t.durable},
		},
	}
	if !strings.HasPrefix(t.exchange, "amq.") {
		decl.Exchanges = append(decl.Exchanges, ExchangeDeclaration{
			Name: t.exchange, Kind: "topic", Durable: t.durable,
		})
	}
	for _, messageType := range sortedUnique(cfg.subscribed) {
		decl.Bindings = append(decl.Bindings, Binding{
			SourceExchange: t.exchange,
			TargetQueue:    t.endpoint,
			RoutingKey:     t.routingKey(messageType),
		})
	}
	return decl
}
