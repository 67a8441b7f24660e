package connection

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultReconnectInterval = 3 * time.Second
	DefaultSettleDelay       = 500 * time.Millisecond
	DefaultDialTimeout       = 10 * time.Second

	maxExponentialInterval = time.Minute
)

// BackoffMode selects the reconnect policy.
type BackoffMode string

const (
	BackoffConstant    BackoffMode = "constant"
	BackoffExponential BackoffMode = "exponential"
)

// NewBackOff builds a policy that never gives up. Constant mode waits
// interval before every retry; exponential mode starts at interval and
// grows with jitter up to a minute.
func NewBackOff(mode BackoffMode, interval time.Duration) backoff.BackOff {
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	if mode == BackoffExponential {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = interval
		b.MaxInterval = maxExponentialInterval
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
	return backoff.NewConstantBackOff(interval)
}
