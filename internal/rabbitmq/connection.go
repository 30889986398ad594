package rabbitmq

import (
	"context"
	"crypto/tls"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wirebus/wirebus-go/internal/reliability"
)

// ConnectionState is the lifecycle state of the logical broker connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateRecovering
	// StateFaulted is terminal: the circuit breaker tripped and the endpoint
	// must shut down.
	StateFaulted
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRecovering:
		return "recovering"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnRecovering(attempt int)
}

// Config carries the dial settings fixed at manager construction. Exactly one
// authentication mode may be active; the conflict check happens in the
// endpoint configuration layer before a manager is built.
type Config struct {
	URL string

	// ConnectionName shows up in the broker's connection listing.
	ConnectionName string

	// ClientCertificates enables mutual TLS.
	ClientCertificates []tls.Certificate

	// InsecureSkipVerify disables remote certificate validation. Opt-in only.
	InsecureSkipVerify bool

	// ExternalAuth selects the EXTERNAL SASL mechanism instead of
	// credential-based authentication.
	ExternalAuth bool

	// CircuitBreakerGracePeriod bounds how long the manager keeps recovering
	// before it faults. Zero means 30 seconds.
	CircuitBreakerGracePeriod time.Duration

	// ConnectTimeout bounds a single dial attempt. Zero means 30 seconds.
	ConnectTimeout time.Duration
}

// ConnectionManager owns the process's one logical broker connection. It
// drives the Disconnected/Connecting/Connected/Recovering/Faulted state
// machine, lends channels to dispatchers and consumers, and feeds the circuit
// breaker that turns a sustained outage into an orderly shutdown.
type ConnectionManager struct {
	url            string
	amqpConfig     amqp.Config
	connectTimeout time.Duration
	reconnectDelay time.Duration
	logger         *slog.Logger
	breaker        *reliability.CircuitBreaker

	mu    sync.RWMutex
	state ConnectionState
	conn  *amqp.Connection
	epoch uint64

	pool     chan *Channel
	poolSize int

	faulted   chan struct{}
	faultOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once

	listeners        []ConnectionStateListener
	listenersMu      sync.RWMutex
	breakerListeners []reliability.StateChangeListener

	// dial is swapped by tests to simulate broker behavior.
	dial func() (*amqp.Connection, error)
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the initial delay between recovery attempts
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithChannelPoolSize caps how many idle channels are kept for reuse
func WithChannelPoolSize(size int) ConnectionOption {
	return func(cm *ConnectionManager) {
		if size > 0 {
			cm.poolSize = size
		}
	}
}

// WithBreakerListener forwards circuit breaker transitions
func WithBreakerListener(listener reliability.StateChangeListener) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.breakerListeners = append(cm.breakerListeners, listener)
	}
}

// NewConnectionManager creates a manager for the given broker settings. No
// connection is attempted until Connect or the first channel request.
func NewConnectionManager(cfg Config, options ...ConnectionOption) *ConnectionManager {
	grace := cfg.CircuitBreakerGracePeriod
	if grace == 0 {
		grace = 30 * time.Second
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	cm := &ConnectionManager{
		url:            cfg.URL,
		connectTimeout: timeout,
		reconnectDelay: time.Second,
		logger:         slog.Default(),
		poolSize:       10,
		faulted:        make(chan struct{}),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	breakerOpts := []reliability.CircuitBreakerOption{
		reliability.WithGracePeriod(grace),
		reliability.WithName("broker-link"),
	}
	for _, l := range cm.breakerListeners {
		breakerOpts = append(breakerOpts, reliability.WithStateChangeListener(l))
	}
	cm.breaker = reliability.NewCircuitBreaker(breakerOpts...)

	cm.pool = make(chan *Channel, cm.poolSize)
	cm.amqpConfig = buildAMQPConfig(cfg, timeout)
	cm.dial = func() (*amqp.Connection, error) {
		return amqp.DialConfig(cm.url, cm.amqpConfig)
	}

	return cm
}

func buildAMQPConfig(cfg Config, timeout time.Duration) amqp.Config {
	properties := amqp.NewConnectionProperties()
	if cfg.ConnectionName != "" {
		properties.SetClientConnectionName(cfg.ConnectionName)
	}

	amqpCfg := amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: properties,
		Dial:       amqp.DefaultDial(timeout),
	}

	if len(cfg.ClientCertificates) > 0 || cfg.InsecureSkipVerify {
		amqpCfg.TLSClientConfig = &tls.Config{
			Certificates:       cfg.ClientCertificates,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		}
	}
	if cfg.ExternalAuth {
		amqpCfg.SASL = []amqp.Authentication{&amqp.ExternalAuth{}}
	}
	return amqpCfg
}

// Connect establishes the initial connection. Recovery after a later link
// loss is automatic; a failed initial connect is the caller's to handle.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	select {
	case <-cm.done:
		return ErrManagerClosed
	default:
	}

	cm.mu.Lock()
	switch cm.state {
	case StateConnected:
		cm.mu.Unlock()
		return nil
	case StateFaulted:
		cm.mu.Unlock()
		return ErrCircuitTripped
	case StateConnecting, StateRecovering:
		// Another goroutine is already dialing.
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	conn, err := cm.dialWithContext(ctx)
	if err != nil {
		cm.mu.Lock()
		if cm.state == StateConnecting {
			cm.state = StateDisconnected
		}
		cm.mu.Unlock()
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	cm.adopt(conn)
	return nil
}

func (cm *ConnectionManager) dialWithContext(ctx context.Context) (*amqp.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.connectTimeout)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := cm.dial()
		if err != nil {
			errChan <- err
			return
		}
		select {
		case connChan <- conn:
		default:
			// The waiter gave up; do not leak the connection.
			_ = conn.Close()
		}
	}()

	select {
	case conn := <-connChan:
		return conn, nil
	case err := <-errChan:
		return nil, err
	case <-dialCtx.Done():
		return nil, ErrConnectionTimeout
	case <-cm.done:
		return nil, ErrManagerClosed
	}
}

// adopt installs a freshly dialed connection and moves to Connected.
func (cm *ConnectionManager) adopt(conn *amqp.Connection) {
	cm.mu.Lock()
	cm.conn = conn
	cm.state = StateConnected
	cm.epoch++
	epoch := cm.epoch
	notify := make(chan *amqp.Error, 1)
	conn.NotifyClose(notify)
	cm.mu.Unlock()

	cm.breaker.RecordSuccess()
	cm.logger.Info("connected to broker",
		"url", SanitizeURL(cm.url),
		"epoch", epoch)

	go cm.watchLink(notify, epoch)
	cm.notifyConnected()
}

// watchLink waits for the link to die and drives recovery.
func (cm *ConnectionManager) watchLink(notify chan *amqp.Error, epoch uint64) {
	select {
	case amqpErr := <-notify:
		select {
		case <-cm.done:
			return
		default:
		}
		cm.handleLinkLoss(amqpErr, epoch)
	case <-cm.done:
	}
}

func (cm *ConnectionManager) handleLinkLoss(amqpErr *amqp.Error, epoch uint64) {
	cm.mu.Lock()
	if cm.epoch != epoch || cm.state != StateConnected {
		cm.mu.Unlock()
		return
	}
	cm.state = StateRecovering
	cm.conn = nil
	cm.mu.Unlock()

	reason := "connection closed"
	var cause error = ErrConnectionLost
	if amqpErr != nil {
		reason = amqpErr.Error()
		cause = amqpErr
	}

	cm.logger.Error("connection lost, recovering",
		"error", reason,
		"gracePeriod", cm.breaker.GracePeriod())

	cm.drainPool()
	cm.notifyDisconnected(cause)
	if cm.breaker.RecordFailure(reason) {
		cm.fault(cause)
		return
	}
	cm.recover()
}

// recover redials until the link is back, the breaker trips, or the manager
// closes. The breaker, not the backoff schedule, decides when to give up.
func (cm *ConnectionManager) recover() {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cm.reconnectDelay
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		select {
		case <-cm.done:
			return backoff.Permanent(ErrManagerClosed)
		default:
		}

		attempt++
		cm.notifyRecovering(attempt)

		conn, err := cm.dial()
		if err != nil {
			cm.logger.Warn("reconnect attempt failed",
				"attempt", attempt,
				"error", err)
			if cm.breaker.RecordFailure(err.Error()) {
				cm.fault(err)
				return backoff.Permanent(ErrCircuitTripped)
			}
			return err
		}

		cm.adopt(conn)
		cm.logger.Info("reconnected to broker", "attempts", attempt)
		return nil
	}

	_ = backoff.Retry(operation, policy)
}

// fault moves the manager to its terminal state and signals shutdown exactly
// once.
func (cm *ConnectionManager) fault(cause error) {
	cm.mu.Lock()
	if cm.state == StateFaulted {
		cm.mu.Unlock()
		return
	}
	cm.state = StateFaulted
	cm.conn = nil
	cm.mu.Unlock()

	cm.drainPool()
	cm.faultOnce.Do(func() {
		cm.logger.Error("circuit breaker tripped, signaling shutdown",
			"cause", cause,
			"gracePeriod", cm.breaker.GracePeriod())
		close(cm.faulted)
	})
}

// Borrow lends a channel from the live connection. It never blocks: when the
// connection is not Connected the call fails immediately and, from
// Disconnected, kicks off a background connect so a later call can succeed.
func (cm *ConnectionManager) Borrow() (*Channel, error) {
	select {
	case <-cm.done:
		return nil, ErrManagerClosed
	default:
	}

	cm.mu.RLock()
	state := cm.state
	conn := cm.conn
	epoch := cm.epoch
	cm.mu.RUnlock()

	switch state {
	case StateFaulted:
		return nil, ErrCircuitTripped
	case StateDisconnected:
		go func() {
			if err := cm.Connect(context.Background()); err != nil {
				cm.logger.Warn("background connect failed", "error", err)
			}
		}()
		return nil, ErrNotConnected
	case StateConnecting, StateRecovering:
		return nil, ErrNotConnected
	}

	// Reuse an idle channel from the current connection generation.
	for {
		select {
		case ch := <-cm.pool:
			if ch.epoch == epoch {
				return ch, nil
			}
			ch.teardown()
		default:
			raw, err := conn.Channel()
			if err != nil {
				return nil, classifyBrokerError(err)
			}
			return newChannel(raw, epoch), nil
		}
	}
}

// Release returns a healthy channel to the pool or discards it. Discarding
// tears the channel down, which resolves its outstanding confirms as
// indeterminate.
func (cm *ConnectionManager) Release(ch *Channel, healthy bool) {
	if ch == nil {
		return
	}
	if !healthy {
		ch.teardown()
		return
	}

	cm.mu.RLock()
	current := cm.state == StateConnected && cm.epoch == ch.epoch
	cm.mu.RUnlock()
	if !current {
		ch.teardown()
		return
	}

	select {
	case cm.pool <- ch:
	default:
		ch.teardown()
	}
}

func (cm *ConnectionManager) drainPool() {
	for {
		select {
		case ch := <-cm.pool:
			ch.teardown()
		default:
			return
		}
	}
}

// State returns the current connection state.
func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// Epoch returns the current connection generation. It increments on every
// successful (re)connect, which is how stale channels and delivery tags are
// detected.
func (cm *ConnectionManager) Epoch() uint64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.epoch
}

// Faulted returns a channel closed exactly once when the circuit breaker
// trips. The endpoint host uses it to begin orderly shutdown.
func (cm *ConnectionManager) Faulted() <-chan struct{} {
	return cm.faulted
}

// Breaker exposes the circuit breaker for health reporting.
func (cm *ConnectionManager) Breaker() *reliability.CircuitBreaker {
	return cm.breaker
}

// Done returns a channel closed when the manager shuts down.
func (cm *ConnectionManager) Done() <-chan struct{} {
	return cm.done
}

// Close shuts the manager down. It is not a fault: no shutdown signal fires.
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		conn := cm.conn
		cm.conn = nil
		if cm.state != StateFaulted {
			cm.state = StateDisconnected
		}
		cm.mu.Unlock()

		cm.drainPool()
		if conn != nil {
			err = conn.Close()
		}
		cm.logger.Info("connection manager closed")
	})
	return err
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, listener)
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, listener := range cm.listeners {
		go listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, listener := range cm.listeners {
		go listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyRecovering(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()
	for _, listener := range cm.listeners {
		go listener.OnRecovering(attempt)
	}
}
