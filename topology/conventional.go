package topology

import "fmt"

// Conventional is the default routing strategy: every endpoint owns one queue
// bound to a same-named fanout exchange, and every message type gets its own
// fanout exchange. Subscribing binds the type exchange to the endpoint
// exchange, so publishes fan out to every subscribed endpoint.
type Conventional struct {
	endpoint string
	durable  bool
	decl     Declarations
}

type conventionalConfig struct {
	published      []string
	subscribed     []string
	maxPriority    int
	hasMaxPriority bool
}

// ConventionalOption configures the conventional topology.
type ConventionalOption func(*conventionalConfig)

// WithPublications declares the fanout exchanges for message types this
// endpoint publishes, so the first publish does not race topology creation.
func WithPublications(messageTypes ...string) ConventionalOption {
	return func(c *conventionalConfig) {
		c.published = append(c.published, messageTypes...)
	}
}

// WithSubscriptions binds the given message types' exchanges to the endpoint
// exchange, delivering matching publishes to the endpoint queue.
func WithSubscriptions(messageTypes ...string) ConventionalOption {
	return func(c *conventionalConfig) {
		c.subscribed = append(c.subscribed, messageTypes...)
	}
}

// WithMaxPriority applies a maximum priority (0-9) to every declared queue.
func WithMaxPriority(maxPriority int) ConventionalOption {
	return func(c *conventionalConfig) {
		c.maxPriority = maxPriority
		c.hasMaxPriority = true
	}
}

// NewConventional builds the conventional topology for the named endpoint.
// Out-of-range priorities fail here, before any broker connection exists.
func NewConventional(endpoint string, durable bool, opts ...ConventionalOption) (*Conventional, error) {
	name, err := validateEndpointName(endpoint)
	if err != nil {
		return nil, err
	}

	cfg := conventionalConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.hasMaxPriority && (cfg.maxPriority < 0 || cfg.maxPriority > 9) {
		return nil, fmt.Errorf("topology: max queue priority %d outside supported range 0-9", cfg.maxPriority)
	}

	t := &Conventional{endpoint: name, durable: durable}
	t.decl = t.buildDeclarations(cfg)
	return t, nil
}

// ConventionalFactory returns a Factory producing the conventional topology
// for the named endpoint.
func ConventionalFactory(endpoint string, opts ...ConventionalOption) Factory {
	return func(durable bool) (RoutingTopology, error) {
		return NewConventional(endpoint, durable, opts...)
	}
}

// AddressForSend targets the destination endpoint's own exchange, which is
// bound to its input queue.
func (t *Conventional) AddressForSend(messageType string) RoutingAddress {
	dest := sanitizeName(messageType)
	return RoutingAddress{Exchange: dest, Queue: dest}
}

// AddressForPublish targets the message type's fanout exchange.
func (t *Conventional) AddressForPublish(messageType string) RoutingAddress {
	return RoutingAddress{Exchange: exchangeNameForType(messageType)}
}

// Declarations returns the endpoint queue, the endpoint exchange with its
// binding, and one exchange per published or subscribed message type.
func (t *Conventional) Declarations() Declarations {
	return t.decl
}

func (t *Conventional) buildDeclarations(cfg conventionalConfig) Declarations {
	var queueArgs map[string]interface{}
	if cfg.hasMaxPriority {
		queueArgs = map[string]interface{}{"x-max-priority": cfg.maxPriority}
	}

	decl := Declarations{
		Exchanges: []ExchangeDeclaration{
			{Name: t.endpoint, Kind: "fanout", Durable: t.durable},
		},
		Queues: []QueueDeclaration{
			{Name: t.endpoint, Durable: t.durable, Arguments: queueArgs},
		},
		Bindings: []Binding{
			{SourceExchange: t.endpoint, TargetQueue: t.endpoint},
		},
	}

	subscribed := make(map[string]struct{})
	subscribedExchanges := make([]string, 0, len(cfg.subscribed))
	for _, messageType := range cfg.subscribed {
		exchange := exchangeNameForType(messageType)
		subscribed[exchange] = struct{}{}
		subscribedExchanges = append(subscribedExchanges, exchange)
	}

	publishedExchanges := make([]string, 0, len(cfg.published))
	for _, messageType := range cfg.published {
		publishedExchanges = append(publishedExchanges, exchangeNameForType(messageType))
	}

	for _, exchange := range sortedUnique(append(publishedExchanges, subscribedExchanges...)) {
		if exchange == t.endpoint {
			continue
		}
		decl.Exchanges = append(decl.Exchanges, ExchangeDeclaration{
			Name: exchange, Kind: "fanout", Durable: t.durable,
		})
		if _, ok := subscribed[exchange]; ok {
			decl.Bindings = append(decl.Bindings, Binding{
				SourceExchange: exchange, TargetExchange: t.endpoint,
			})
		}
	}
	return decl
}

// exchangeNameForType is the deterministic convention naming one fanout
// exchange per message type.
func exchangeNameForType(messageType string) string {
	return sanitizeName(messageType)
}
