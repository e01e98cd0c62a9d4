package model

import (
	"context"
	"time"
)

// retryingClient wraps a transport with quota-aware exponential backoff:
// only a quotaError is retried, delay = base*2^attempt, up to
// retryAttempts retries after the first call (three 429s then a success
// yields a 2s/4s/8s schedule at the default base).
type retryingClient struct {
	t             transport
	base          time.Duration
	retryAttempts int
	sleep         func(ctx context.Context, d time.Duration)
}

// NewClient builds the retrying Model Client around a gRPC transport.
func NewClient(endpoint string, base time.Duration, retryAttempts int) (Client, error) {
	tr, err := newGRPCTransport(endpoint)
	if err != nil {
		return nil, err
	}
	return newRetryingClient(tr, base, retryAttempts), nil
}

func newRetryingClient(t transport, base time.Duration, retryAttempts int) *retryingClient {
	return &retryingClient{
		t:             t,
		base:          base,
		retryAttempts: retryAttempts,
		sleep:         ctxSleep,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Generate runs the attempt loop. On a non-quota error it returns
// immediately; usage collected on the failing attempt is preserved in the
// returned Response.
func (c *retryingClient) Generate(ctx context.Context, req Request) (Response, error) {
	req = applyBenchmarkOverrides(req)

	var resp Response
	var err error
	for attempt := 0; ; attempt++ {
		resp, err = c.t.generateOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsQuotaExceeded(err) {
			return resp, err
		}
		if attempt >= c.retryAttempts {
			return resp, err
		}
		delay := c.base << uint(attempt) // base * 2^attempt
		c.sleep(ctx, delay)
		if ctx.Err() != nil {
			return resp, ctx.Err()
		}
	}
}

func (c *retryingClient) Close() error {
	if closer, ok := c.t.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
