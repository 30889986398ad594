package topology

import (
	"fmt"
	"sort"
	"strings"
)

// RoutingAddress names the broker entities a single dispatch targets. It is
// derived, never stored: the same message type and topology always produce
// the same address.
type RoutingAddress struct {
	// Exchange to publish to. Empty means the broker's default exchange,
	// which routes directly to the queue named by RoutingKey.
	Exchange string

	// RoutingKey selects bindings on the exchange.
	RoutingKey string

	// Queue is the destination queue when the address targets one directly.
	Queue string
}

// ExchangeDeclaration describes an exchange to create at startup.
type ExchangeDeclaration struct {
	Name       string
	Kind       string
	Durable    bool
	AutoDelete bool
	Arguments  map[string]interface{}
}

// QueueDeclaration describes a queue to create at startup.
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  map[string]interface{}
}

// Binding connects a source exchange to a queue or to another exchange.
// Exactly one of TargetQueue and TargetExchange is set.
type Binding struct {
	SourceExchange string
	TargetQueue    string
	TargetExchange string
	RoutingKey     string
}

// Declarations is the set of broker entities a topology creates once per
// process lifetime. Durability is fixed at topology construction and applies
// to every entity in the set.
type Declarations struct {
	Exchanges []ExchangeDeclaration
	Queues    []QueueDeclaration
	Bindings  []Binding
}

// RoutingTopology resolves addresses for outgoing messages and enumerates the
// declarations the endpoint applies at startup.
type RoutingTopology interface {
	// AddressForSend resolves the address for a point-to-point send to the
	// named logical destination.
	AddressForSend(messageType string) RoutingAddress

	// AddressForPublish resolves the address for a publish of the named
	// message type to all subscribers.
	AddressForPublish(messageType string) RoutingAddress

	// Declarations returns the entities to declare. Repeated calls return
	// identical declarations.
	Declarations() Declarations
}

// Factory builds a topology with the endpoint's durability setting. The
// factory is invoked once during endpoint construction.
type Factory func(durable bool) (RoutingTopology, error)

const maxNameLength = 255

// sanitizeName maps an arbitrary logical name onto the broker's entity name
// alphabet. Characters outside [A-Za-z0-9-_.:] become hyphens.
func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	s := b.String()
	if len(s) > maxNameLength {
		s = s[:maxNameLength]
	}
	return s
}

func validateEndpointName(endpoint string) (string, error) {
	name := sanitizeName(endpoint)
	if name == "" {
		return "", fmt.Errorf("topology: endpoint name %q is empty after sanitization", endpoint)
	}
	return name, nil
}

// sortedUnique returns a sorted copy of names with duplicates and empties
// removed, so declaration order is stable regardless of input order.
func sortedUnique(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
