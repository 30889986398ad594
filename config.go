package wirebus

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/wirebus/wirebus-go/contracts"
	"github.com/wirebus/wirebus-go/internal/rabbitmq"
	"github.com/wirebus/wirebus-go/metrics"
	"github.com/wirebus/wirebus-go/topology"
)

// endpointConfig holds everything an endpoint is built from. Conflicting
// settings fail at construction, never at first use.
type endpointConfig struct {
	logger             *slog.Logger
	recorder           metrics.Recorder
	topologyFactory    topology.Factory
	hasCustomTopology  bool
	idStrategy         contracts.MessageIDStrategy
	gracePeriod        time.Duration
	connectTimeout     time.Duration
	connectionName     string
	publisherConfirms  bool
	durableMessaging   bool
	prefetchMultiplier int
	prefetchCount      int
	hasPrefetchCount   bool
	concurrency        int
	clientCerts        []tls.Certificate
	insecureSkipVerify bool
	externalAuth       bool
	maxQueuePriority   int
	hasMaxPriority     bool
	publications       []string
	subscriptions      []string
}

func defaultConfig() endpointConfig {
	return endpointConfig{
		logger:             slog.Default(),
		recorder:           &metrics.NoopRecorder{},
		idStrategy:         contracts.DefaultMessageIDStrategy,
		publisherConfirms:  true,
		durableMessaging:   true,
		prefetchMultiplier: rabbitmq.DefaultPrefetchMultiplier,
		concurrency:        1,
	}
}

// Option configures an Endpoint
type Option func(*endpointConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *endpointConfig) {
		cfg.logger = logger
	}
}

// WithMetricsRecorder sets the metrics recorder for all components
func WithMetricsRecorder(recorder metrics.Recorder) Option {
	return func(cfg *endpointConfig) {
		cfg.recorder = recorder
	}
}

// WithTopologyFactory replaces the conventional routing topology. The factory
// runs once at endpoint construction.
func WithTopologyFactory(factory topology.Factory) Option {
	return func(cfg *endpointConfig) {
		cfg.topologyFactory = factory
		cfg.hasCustomTopology = true
	}
}

// WithMessageIDStrategy sets how incoming deliveries resolve their message id
func WithMessageIDStrategy(strategy contracts.MessageIDStrategy) Option {
	return func(cfg *endpointConfig) {
		cfg.idStrategy = strategy
	}
}

// WithCircuitBreakerGracePeriod sets how long connection recovery may keep
// failing before the endpoint faults. Zero keeps the 30 second default.
func WithCircuitBreakerGracePeriod(period time.Duration) Option {
	return func(cfg *endpointConfig) {
		cfg.gracePeriod = period
	}
}

// WithPublisherConfirms controls whether dispatches wait for the broker to
// confirm them. Confirms are on by default.
func WithPublisherConfirms(enabled bool) Option {
	return func(cfg *endpointConfig) {
		cfg.publisherConfirms = enabled
	}
}

// WithPrefetchMultiplier sets the factor applied to the concurrency limit to
// size the consumer prefetch window.
func WithPrefetchMultiplier(multiplier int) Option {
	return func(cfg *endpointConfig) {
		cfg.prefetchMultiplier = multiplier
	}
}

// WithPrefetchCount fixes the consumer prefetch window, overriding the
// multiplier.
func WithPrefetchCount(count int) Option {
	return func(cfg *endpointConfig) {
		cfg.prefetchCount = count
		cfg.hasPrefetchCount = true
	}
}

// WithConcurrency sets the maximum number of concurrent message handlers.
func WithConcurrency(limit int) Option {
	return func(cfg *endpointConfig) {
		cfg.concurrency = limit
	}
}

// WithClientCertificates enables mutual TLS with the given certificates.
func WithClientCertificates(certs ...tls.Certificate) Option {
	return func(cfg *endpointConfig) {
		cfg.clientCerts = append(cfg.clientCerts, certs...)
	}
}

// WithInsecureSkipVerify disables remote certificate validation. Never use
// this outside development setups.
func WithInsecureSkipVerify() Option {
	return func(cfg *endpointConfig) {
		cfg.insecureSkipVerify = true
	}
}

// WithExternalAuth authenticates with the EXTERNAL SASL mechanism instead of
// credentials in the connection string.
func WithExternalAuth() Option {
	return func(cfg *endpointConfig) {
		cfg.externalAuth = true
	}
}

// WithDurableMessaging controls whether topology entities and messages
// default to surviving a broker restart. Durable is the default.
func WithDurableMessaging(durable bool) Option {
	return func(cfg *endpointConfig) {
		cfg.durableMessaging = durable
	}
}

// WithMaxQueuePriority declares the endpoint queue with priority support
// (0-9). Requires the conventional topology.
func WithMaxQueuePriority(maxPriority int) Option {
	return func(cfg *endpointConfig) {
		cfg.maxQueuePriority = maxPriority
		cfg.hasMaxPriority = true
	}
}

// WithPublications declares the message types this endpoint publishes so
// their exchanges exist before the first publish.
func WithPublications(messageTypes ...string) Option {
	return func(cfg *endpointConfig) {
		cfg.publications = append(cfg.publications, messageTypes...)
	}
}

// WithSubscriptions subscribes the endpoint queue to the given message types.
func WithSubscriptions(messageTypes ...string) Option {
	return func(cfg *endpointConfig) {
		cfg.subscriptions = append(cfg.subscriptions, messageTypes...)
	}
}

// WithConnectionName overrides the connection name shown in the broker's
// connection listing. Defaults to the endpoint name.
func WithConnectionName(name string) Option {
	return func(cfg *endpointConfig) {
		cfg.connectionName = name
	}
}

// WithConnectTimeout bounds a single dial attempt. Zero keeps the 30 second
// default.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(cfg *endpointConfig) {
		cfg.connectTimeout = timeout
	}
}

func (cfg *endpointConfig) validate() error {
	authModes := 0
	if len(cfg.clientCerts) > 0 {
		authModes++
	}
	if cfg.insecureSkipVerify {
		authModes++
	}
	if cfg.externalAuth {
		authModes++
	}
	if authModes > 1 {
		return configConflict("client certificates, insecure skip verify, and external auth are mutually exclusive")
	}

	if cfg.hasMaxPriority && (cfg.maxQueuePriority < 0 || cfg.maxQueuePriority > 9) {
		return configConflict(fmt.Sprintf("max queue priority %d outside supported range 0-9", cfg.maxQueuePriority))
	}
	if cfg.hasCustomTopology && cfg.hasMaxPriority {
		return configConflict("max queue priority requires the conventional topology, not a custom topology factory")
	}
	if cfg.hasCustomTopology && (len(cfg.publications) > 0 || len(cfg.subscriptions) > 0) {
		return configConflict("publications and subscriptions belong to the topology factory when one is supplied")
	}

	if cfg.prefetchMultiplier < 1 {
		return configConflict(fmt.Sprintf("prefetch multiplier %d must be at least 1", cfg.prefetchMultiplier))
	}
	if cfg.hasPrefetchCount && (cfg.prefetchCount < 0 || cfg.prefetchCount > rabbitmq.MaxPrefetch) {
		return configConflict(fmt.Sprintf("prefetch count %d outside supported range 0-%d", cfg.prefetchCount, rabbitmq.MaxPrefetch))
	}
	if cfg.concurrency < 1 {
		return configConflict(fmt.Sprintf("concurrency %d must be at least 1", cfg.concurrency))
	}
	if cfg.gracePeriod < 0 {
		return configConflict("circuit breaker grace period cannot be negative")
	}
	if cfg.connectTimeout < 0 {
		return configConflict("connect timeout cannot be negative")
	}
	return nil
}

func configConflict(msg string) error {
	return fmt.Errorf("%w: %s", ErrConfigurationConflict, msg)
}
