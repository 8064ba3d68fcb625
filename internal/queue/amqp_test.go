package queue

import (
	"testing"

	"github.com/streadway/amqp"
)

func TestDeliveryAttemptCountsFromHeader(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"first delivery has no header", nil, 1},
		{"empty table", amqp.Table{}, 1},
		{"int32 counter", amqp.Table{"x-retry-count": int32(1)}, 2},
		{"int64 counter", amqp.Table{"x-retry-count": int64(2)}, 3},
		{"unexpected type falls back to first", amqp.Table{"x-retry-count": "2"}, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := deliveryAttempt(tc.headers); got != tc.want {
				t.Errorf("deliveryAttempt(%v) = %d, want %d", tc.headers, got, tc.want)
			}
		})
	}
}

func TestDeliveryAttemptReachesCap(t *testing.T) {
	// A failing job is retried until the stamped counter puts the next
	// delivery at the cap. With maxDeliveryAttempts = 3 the third delivery
	// must not be requeued.
	headers := amqp.Table{}
	attempts := 0
	for {
		attempt := deliveryAttempt(headers)
		attempts++
		if attempt >= maxDeliveryAttempts {
			break
		}
		headers = amqp.Table{"x-retry-count": int32(attempt)}
	}
	if attempts != maxDeliveryAttempts {
		t.Errorf("job delivered %d times, want %d", attempts, maxDeliveryAttempts)
	}
}
