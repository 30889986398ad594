// Copyright 2025 Wirebus Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wirebus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wirebus/wirebus-go/contracts"
	"github.com/wirebus/wirebus-go/health"
	"github.com/wirebus/wirebus-go/internal/rabbitmq"
	"github.com/wirebus/wirebus-go/internal/reliability"
	"github.com/wirebus/wirebus-go/metrics"
	"github.com/wirebus/wirebus-go/topology"
)

// MessageHandler processes one incoming delivery. Returning nil acknowledges
// the delivery and returning an error requeues it, unless the handler settled
// it already.
type MessageHandler func(ctx context.Context, delivery contracts.Delivery) error

// Endpoint is the main entry point: one named endpoint on one broker, with
// its input queue, routing topology, and connection lifecycle.
type Endpoint struct {
	name       string
	inputQueue string
	topo       topology.RoutingTopology
	cm         *rabbitmq.ConnectionManager
	dispatcher *rabbitmq.Dispatcher
	declarer   *rabbitmq.Declarer
	registry   *health.Registry
	logger     *slog.Logger
	cfg        endpointConfig
}

// NewEndpoint creates an endpoint on the given broker. Conflicting options
// fail here with ErrConfigurationConflict; nothing is dialed until Start.
func NewEndpoint(connectionString, endpointName string, options ...Option) (*Endpoint, error) {
	if endpointName == "" {
		return nil, configConflict("endpoint name must not be empty")
	}

	cfg := defaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	factory := cfg.topologyFactory
	if factory == nil {
		conventionalOpts := []topology.ConventionalOption{
			topology.WithPublications(cfg.publications...),
			topology.WithSubscriptions(cfg.subscriptions...),
		}
		if cfg.hasMaxPriority {
			conventionalOpts = append(conventionalOpts, topology.WithMaxPriority(cfg.maxQueuePriority))
		}
		factory = topology.ConventionalFactory(endpointName, conventionalOpts...)
	}

	topo, err := factory(cfg.durableMessaging)
	if err != nil {
		return nil, configConflict(err.Error())
	}
	inputQueue := topo.AddressForSend(endpointName).Queue
	if inputQueue == "" {
		return nil, configConflict("topology yields no input queue for the endpoint")
	}

	connectionName := cfg.connectionName
	if connectionName == "" {
		connectionName = endpointName
	}

	cm := rabbitmq.NewConnectionManager(
		rabbitmq.Config{
			URL:                       connectionString,
			ConnectionName:            connectionName,
			ClientCertificates:        cfg.clientCerts,
			InsecureSkipVerify:        cfg.insecureSkipVerify,
			ExternalAuth:              cfg.externalAuth,
			CircuitBreakerGracePeriod: cfg.gracePeriod,
			ConnectTimeout:            cfg.connectTimeout,
		},
		rabbitmq.WithConnectionLogger(cfg.logger),
		rabbitmq.WithBreakerListener(&breakerMetrics{recorder: cfg.recorder, logger: cfg.logger}),
	)
	cm.AddStateListener(&connectionMetrics{recorder: cfg.recorder})

	e := &Endpoint{
		name:       endpointName,
		inputQueue: inputQueue,
		topo:       topo,
		cm:         cm,
		dispatcher: rabbitmq.NewDispatcher(cm,
			rabbitmq.WithDispatcherLogger(cfg.logger),
			rabbitmq.WithDispatcherRecorder(cfg.recorder),
		),
		declarer: rabbitmq.NewDeclarer(cm, rabbitmq.WithDeclarerLogger(cfg.logger)),
		registry: health.NewRegistry(health.WithRegistryLogger(cfg.logger)),
		logger:   cfg.logger,
		cfg:      cfg,
	}

	e.registry.Register(health.NewConnectionChecker(cm))
	e.registry.Register(health.NewBreakerChecker(cm.Breaker()))
	e.registry.Register(health.NewQueueChecker(inputQueue, cm))

	return e, nil
}

// Start connects to the broker and declares the endpoint's topology. A
// declaration that conflicts with existing broker state fails with
// ErrConfigurationConflict and must not be retried.
func (e *Endpoint) Start(ctx context.Context) error {
	if err := e.cm.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	if err := e.declarer.Declare(ctx, e.topo.Declarations()); err != nil {
		return fmt.Errorf("failed to declare topology: %w", err)
	}
	e.logger.Info("endpoint started",
		"endpoint", e.name,
		"inputQueue", e.inputQueue)
	return nil
}

// Send dispatches a message to one named destination endpoint.
func (e *Endpoint) Send(ctx context.Context, destination string, msg *contracts.OutgoingMessage) error {
	addr := e.topo.AddressForSend(destination)
	return e.dispatcher.Dispatch(ctx, msg, addr, e.cfg.publisherConfirms)
}

// Publish dispatches an event to every endpoint subscribed to its message
// type.
func (e *Endpoint) Publish(ctx context.Context, messageType string, msg *contracts.OutgoingMessage) error {
	addr := e.topo.AddressForPublish(messageType)
	return e.dispatcher.Dispatch(ctx, msg, addr, e.cfg.publisherConfirms)
}

// Receive runs the receive pump on the endpoint's input queue until the
// context is canceled, the endpoint is closed, or the connection faults.
func (e *Endpoint) Receive(ctx context.Context, handler MessageHandler) error {
	opts := []rabbitmq.ConsumerOption{
		rabbitmq.WithPrefetchMultiplier(e.cfg.prefetchMultiplier),
		rabbitmq.WithConcurrency(e.cfg.concurrency),
		rabbitmq.WithMessageIDStrategy(e.cfg.idStrategy),
		rabbitmq.WithConsumerLogger(e.logger),
		rabbitmq.WithConsumerRecorder(e.cfg.recorder),
	}
	if e.cfg.hasPrefetchCount {
		opts = append(opts, rabbitmq.WithPrefetchCount(e.cfg.prefetchCount))
	}

	consumer := rabbitmq.NewConsumer(e.cm, e.inputQueue, opts...)
	return consumer.Run(ctx, func(ctx context.Context, delivery *rabbitmq.Delivery) error {
		return handler(ctx, delivery)
	})
}

// Topology returns the endpoint's routing topology.
func (e *Endpoint) Topology() topology.RoutingTopology {
	return e.topo
}

// InputQueue returns the name of the endpoint's input queue.
func (e *Endpoint) InputQueue() string {
	return e.inputQueue
}

// ConnectionState reports where the broker link is in its lifecycle.
func (e *Endpoint) ConnectionState() ConnectionState {
	return e.cm.State()
}

// Faulted returns a channel closed exactly once when the circuit breaker
// trips. Hosts select on it to begin orderly shutdown.
func (e *Endpoint) Faulted() <-chan struct{} {
	return e.cm.Faulted()
}

// CheckHealth runs all health checks and aggregates the results.
func (e *Endpoint) CheckHealth(ctx context.Context) health.Report {
	return e.registry.Check(ctx)
}

// Close shuts the endpoint down. Closing is not a fault: the Faulted signal
// never fires for it.
func (e *Endpoint) Close() error {
	return e.cm.Close()
}

// connectionMetrics forwards connection lifecycle changes to the metrics
// recorder.
type connectionMetrics struct {
	recorder metrics.Recorder
}

func (l *connectionMetrics) OnConnected() {
	l.recorder.RecordConnectionState("connected")
}

func (l *connectionMetrics) OnDisconnected(err error) {
	l.recorder.RecordConnectionState("disconnected")
}

func (l *connectionMetrics) OnRecovering(attempt int) {
	l.recorder.RecordConnectionState("recovering")
}

// breakerMetrics surfaces circuit breaker transitions in logs and metrics.
type breakerMetrics struct {
	recorder metrics.Recorder
	logger   *slog.Logger
}

func (l *breakerMetrics) OnStateChange(from, to reliability.State, reason string) {
	l.logger.Warn("circuit breaker state changed",
		"from", from.String(),
		"to", to.String(),
		"reason", reason)
	if to == reliability.StateTripped {
		l.recorder.RecordConnectionState("faulted")
		l.recorder.RecordError("connection", "circuit_tripped")
	}
}
