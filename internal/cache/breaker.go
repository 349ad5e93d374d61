package cache

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"verifyflow/pkg/logger"
)

// State 熔断器状态
type State int

const (
	StateClosed   State = iota // 正常
	StateOpen                  // 熔断中，直接失败
	StateHalfOpen              // 放少量请求试探
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen 熔断期间的调用直接返回该错误
var ErrBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreaker Redis 抖动时快速失败，读路径退回到存储
type CircuitBreaker struct {
	name             string
	maxFailures      int
	resetTimeout     time.Duration
	halfOpenMaxCalls int
	now              func() time.Time

	mu            sync.Mutex
	state         State
	failures      int
	lastFailTime  time.Time
	halfOpenCalls int
}

// NewCircuitBreaker 连续失败 maxFailures 次后熔断，resetTimeout 后进入半开
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		resetTimeout:     resetTimeout,
		halfOpenMaxCalls: 3,
		now:              time.Now,
		state:            StateClosed,
	}
}

// WithClock 替换时间源
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Call 执行带熔断保护的操作
func (cb *CircuitBreaker) Call(op func() error) error {
	if !cb.allow() {
		return ErrBreakerOpen
	}
	err := op()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailTime) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.halfOpenMaxCalls {
			return false
		}
		cb.halfOpenCalls++
		return true
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	cb.lastFailTime = cb.now()
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition 调用方需持有锁
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.halfOpenCalls = 0
	if to == StateClosed {
		cb.failures = 0
	}

	logger.Logger.Warn("Circuit breaker state changed",
		zap.String("breaker", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failures", cb.failures),
	)
}

// GetState 获取当前状态
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
