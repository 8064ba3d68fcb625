// internal/circuit/breaker.go
package circuit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// OpenError is returned when a call is rejected because the circuit is open.
type OpenError struct {
	Name string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// Breaker isolates calls to named external integrations. State lives in
// Redis so all workers share it; a breaker is keyed per integration name,
// not per tenant.
type Breaker struct {
	rdb              redis.Cmdable
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time
}

func NewBreaker(rdb redis.Cmdable, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &Breaker{
		rdb:              rdb,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

func stateKey(name string) string       { return "circuit:" + name + ":state" }
func failuresKey(name string) string    { return "circuit:" + name + ":failures" }
func lastFailureKey(name string) string { return "circuit:" + name + ":last_failure" }

// State returns the current state, lazily moving open circuits to
// half_open once the recovery timeout has elapsed. No background timer.
func (b *Breaker) State(ctx context.Context, name string) (State, error) {
	raw, err := b.rdb.Get(ctx, stateKey(name)).Result()
	if err == redis.Nil {
		return Closed, nil
	}
	if err != nil {
		return Closed, err
	}

	state := State(raw)
	if state == Open {
		lastRaw, err := b.rdb.Get(ctx, lastFailureKey(name)).Result()
		if err != nil && err != redis.Nil {
			return state, err
		}
		if lastRaw != "" {
			last, _ := strconv.ParseFloat(lastRaw, 64)
			elapsed := float64(b.now().UnixNano())/float64(time.Second) - last
			if elapsed >= b.recoveryTimeout.Seconds() {
				if err := b.setState(ctx, name, HalfOpen); err != nil {
					return state, err
				}
				return HalfOpen, nil
			}
		}
	}

	return state, nil
}

func (b *Breaker) setState(ctx context.Context, name string, state State) error {
	return b.rdb.Set(ctx, stateKey(name), string(state), 0).Err()
}

// RecordSuccess forces the circuit closed and resets the failure counter.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) error {
	if err := b.setState(ctx, name, Closed); err != nil {
		return err
	}
	return b.rdb.Del(ctx, failuresKey(name)).Err()
}

// RecordFailure increments the consecutive-failure counter and trips the
// circuit open once the threshold is reached. The counter expires with the
// recovery timeout so stale failures stop counting.
func (b *Breaker) RecordFailure(ctx context.Context, name string) error {
	key := failuresKey(name)
	count, err := b.rdb.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	b.rdb.Expire(ctx, key, b.recoveryTimeout)

	nowSec := float64(b.now().UnixNano()) / float64(time.Second)
	if err := b.rdb.Set(ctx, lastFailureKey(name), strconv.FormatFloat(nowSec, 'f', -1, 64), 0).Err(); err != nil {
		return err
	}

	if count >= int64(b.failureThreshold) {
		return b.setState(ctx, name, Open)
	}
	return nil
}

// reopen trips the circuit straight back open and restarts the recovery
// clock. Used when a half_open probe fails: the failure counter may have
// expired by then, so the threshold path cannot be relied on.
func (b *Breaker) reopen(ctx context.Context, name string) error {
	nowSec := float64(b.now().UnixNano()) / float64(time.Second)
	if err := b.rdb.Set(ctx, lastFailureKey(name), strconv.FormatFloat(nowSec, 'f', -1, 64), 0).Err(); err != nil {
		return err
	}
	return b.setState(ctx, name, Open)
}

// Call runs fn through the breaker. Open circuits reject immediately with
// *OpenError; fn errors are recorded and returned as-is. A failure during
// half_open reopens the circuit for another recovery period.
func (b *Breaker) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	state, err := b.State(ctx, name)
	if err != nil {
		// Redis being down must not stop dispatching; treat as closed.
		state = Closed
	}

	if state == Open {
		return &OpenError{Name: name}
	}

	if err := fn(ctx); err != nil {
		recErr := b.RecordFailure(ctx, name)
		if recErr == nil && state == HalfOpen {
			recErr = b.reopen(ctx, name)
		}
		if recErr != nil {
			return fmt.Errorf("%w (failure not recorded: %v)", err, recErr)
		}
		return err
	}

	return b.RecordSuccess(ctx, name)
}
