// internal/dispatch/retry.go
package dispatch

import (
	"time"

	"github.com/unclebandit/outreach-backend/internal/model"
)

// BackoffDelay returns the wait before the next attempt. attemptCount is
// 1-based and the policy's delay list is consulted by index; once
// exhausted the last entry is reused.
func BackoffDelay(policy model.RetryPolicy, attemptCount int) time.Duration {
	delays := policy.DelaysMinutes
	if len(delays) == 0 {
		delays = model.DefaultRetryPolicy().DelaysMinutes
	}
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(delays)-1 {
		idx = len(delays) - 1
	}
	return time.Duration(delays[idx]) * time.Minute
}
