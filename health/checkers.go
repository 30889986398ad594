package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/wirebus/wirebus-go/internal/rabbitmq"
	"github.com/wirebus/wirebus-go/internal/reliability"
)

// queueDepthWarning marks the backlog at which a queue check degrades.
const queueDepthWarning = 10000

// ConnectionChecker reports the state of the broker link.
type ConnectionChecker struct {
	cm *rabbitmq.ConnectionManager
}

// NewConnectionChecker creates a checker over the connection manager.
func NewConnectionChecker(cm *rabbitmq.ConnectionManager) *ConnectionChecker {
	return &ConnectionChecker{cm: cm}
}

func (c *ConnectionChecker) Name() string {
	return "connection"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	state := c.cm.State()
	result.Details["state"] = state.String()
	result.Details["epoch"] = c.cm.Epoch()

	switch state {
	case rabbitmq.StateConnected:
		// Probe the live connection with a real channel round trip.
		ch, err := c.cm.Borrow()
		if err != nil {
			result.Status = StatusDegraded
			result.Message = "Connected but channel probe failed"
			result.Error = err.Error()
			break
		}
		c.cm.Release(ch, true)
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"

	case rabbitmq.StateConnecting, rabbitmq.StateRecovering:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Connection is %s", state)

	case rabbitmq.StateFaulted:
		result.Status = StatusUnhealthy
		result.Message = "Connection faulted, endpoint is shutting down"

	default:
		result.Status = StatusUnhealthy
		result.Message = "Not connected"
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// BreakerChecker reports how close the endpoint is to giving up on the
// broker.
type BreakerChecker struct {
	breaker *reliability.CircuitBreaker
}

// NewBreakerChecker creates a checker over the circuit breaker.
func NewBreakerChecker(breaker *reliability.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{breaker: breaker}
}

func (c *BreakerChecker) Name() string {
	return "circuit_breaker"
}

func (c *BreakerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	result.Details["grace_period"] = c.breaker.GracePeriod().String()
	result.Details["last_success"] = c.breaker.LastSuccess()

	switch c.breaker.State() {
	case reliability.StateClosed:
		result.Status = StatusHealthy
		result.Message = "Circuit breaker is closed"
	case reliability.StateArmed:
		result.Status = StatusDegraded
		result.Message = "Circuit breaker is armed, failures within the grace period"
	default:
		result.Status = StatusUnhealthy
		result.Message = "Circuit breaker tripped"
	}

	result.Duration = time.Since(start)
	return result
}

// QueueChecker checks that a queue exists and watches its backlog.
type QueueChecker struct {
	queueName string
	cm        *rabbitmq.ConnectionManager
}

// NewQueueChecker creates a checker for one queue.
func NewQueueChecker(queueName string, cm *rabbitmq.ConnectionManager) *QueueChecker {
	return &QueueChecker{queueName: queueName, cm: cm}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.queueName)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	ch, err := c.cm.Borrow()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to get channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	queue, err := ch.QueueInspect(c.queueName)
	if err != nil {
		// A failed passive inspect kills the channel.
		c.cm.Release(ch, false)
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Queue %s not accessible", c.queueName)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	c.cm.Release(ch, true)

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", c.queueName)
	result.Details["queue_name"] = queue.Name
	result.Details["message_count"] = queue.Messages
	result.Details["consumer_count"] = queue.Consumers

	if queue.Messages > queueDepthWarning {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has high message count", c.queueName)
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// MemoryChecker watches runtime memory and goroutine pressure.
type MemoryChecker struct{}

// NewMemoryChecker creates a memory checker.
func NewMemoryChecker() *MemoryChecker {
	return &MemoryChecker{}
}

func (c *MemoryChecker) Name() string {
	return "memory"
}

func (c *MemoryChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	usedMB := float64(m.Sys) / 1024 / 1024
	result.Details["memory_used_mb"] = usedMB
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = runtime.NumGoroutine()

	goroutines := runtime.NumGoroutine()
	switch {
	case goroutines > 1000:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > 500:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Memory usage is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker adapts a plain function into a checker.
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, map[string]interface{}, error)
}

// NewComponentChecker creates a checker for custom components.
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, map[string]interface{}, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	status, message, details, err := c.checker(ctx)

	result.Status = status
	result.Message = message
	if details != nil {
		result.Details = details
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)

	return result
}
