package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultAttempts     = 5
	DefaultInterval     = 200 * time.Millisecond
	DefaultSlowInterval = 2 * time.Second
)

var (
	ErrBootstrapFailed = errors.New("bootstrap failed")
	ErrAlreadyStarted  = errors.New("bootstrap already started")
)

type State uint8

const (
	Unbound State = iota
	AwaitingID
	Bound
	Failed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case AwaitingID:
		return "awaiting_id"
	case Bound:
		return "bound"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Bootstrap waits for an identity handed out by the authority. It moves
// Unbound -> AwaitingID on Run and then either AwaitingID -> Bound when
// Resolve is called, or AwaitingID -> Failed once every attempt went
// unanswered. Bound and Failed are final.
type Bootstrap[T any] struct {
	mu          sync.Mutex
	state       State
	attempts    int
	maxAttempts int
	interval    time.Duration
	value       T
	done        chan struct{}
}

func New[T any](maxAttempts int, interval time.Duration) *Bootstrap[T] {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Bootstrap[T]{
		state:       Unbound,
		maxAttempts: maxAttempts,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (b *Bootstrap[T]) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bootstrap[T]) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *Bootstrap[T]) Value() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.state == Bound
}

// Resolve delivers the awaited value. Only the first resolve while awaiting
// counts; late or duplicate answers report false.
func (b *Bootstrap[T]) Resolve(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != AwaitingID {
		return false
	}
	b.value = v
	b.state = Bound
	close(b.done)
	return true
}

// Run calls send, then waits one interval for Resolve, and repeats until the
// attempt budget is spent. A send error still uses up its attempt.
func (b *Bootstrap[T]) Run(ctx context.Context, send func() error) (T, error) {
	var zero T

	b.mu.Lock()
	if b.state != Unbound {
		b.mu.Unlock()
		return zero, fmt.Errorf("%w (state %s)", ErrAlreadyStarted, b.state)
	}
	b.state = AwaitingID
	b.mu.Unlock()

	var lastErr error
	for {
		b.mu.Lock()
		switch {
		case b.state == Bound:
			v := b.value
			b.mu.Unlock()
			return v, nil
		case b.attempts >= b.maxAttempts:
			b.state = Failed
			attempts := b.attempts
			b.mu.Unlock()
			if lastErr != nil {
				return zero, fmt.Errorf("%w after %d attempts: %w", ErrBootstrapFailed, attempts, lastErr)
			}
			return zero, fmt.Errorf("%w after %d attempts", ErrBootstrapFailed, attempts)
		}
		b.attempts += 1
		b.mu.Unlock()

		if err := send(); err != nil {
			lastErr = err
		}

		timer := time.NewTimer(b.interval)
		select {
		case <-b.done:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			b.mu.Lock()
			if b.state == AwaitingID {
				b.state = Failed
			}
			b.mu.Unlock()
			return zero, fmt.Errorf("%w: %w", ErrBootstrapFailed, ctx.Err())
		}
	}
}
