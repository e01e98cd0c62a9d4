package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naddot/tyrerec/pkg/types"
)

type fakeTransport struct {
	calls     int
	responses []Response
	errs      []error
}

func (f *fakeTransport) generateOnce(_ context.Context, _ Request) (Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return f.responses[i], f.errs[i]
	}
	return f.responses[len(f.responses)-1], nil
}

func noopSleep(_ context.Context, _ time.Duration) {}

func TestGenerateRetriesOnlyQuotaErrors(t *testing.T) {
	ft := &fakeTransport{
		responses: []Response{{}, {}, {Text: "ok", Usage: types.Usage{TotalTokens: 42}}},
		errs:      []error{&quotaError{err: errors.New("429")}, &quotaError{err: errors.New("429")}, nil},
	}
	c := newRetryingClient(ft, 2*time.Second, 3)
	c.sleep = noopSleep

	resp, err := c.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int64(42), resp.Usage.TotalTokens)
	assert.Equal(t, 3, ft.calls)
}

func TestGenerateDoesNotRetryNonQuotaErrors(t *testing.T) {
	ft := &fakeTransport{
		responses: []Response{{Usage: types.Usage{PromptTokens: 5}, ErrorType: ErrAPIError}},
		errs:      []error{errors.New("boom")},
	}
	c := newRetryingClient(ft, time.Millisecond, 3)
	c.sleep = noopSleep

	resp, err := c.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, 1, ft.calls)
	assert.Equal(t, int64(5), resp.Usage.PromptTokens)
}

func TestGenerateGivesUpAfterMaxRetries(t *testing.T) {
	quota := &quotaError{err: errors.New("429")}
	ft := &fakeTransport{
		responses: []Response{{}, {}, {}, {}},
		errs:      []error{quota, quota, quota, quota},
	}
	c := newRetryingClient(ft, time.Millisecond, 3)
	c.sleep = noopSleep

	_, err := c.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.Equal(t, 4, ft.calls) // 1 initial + 3 retries
}

func TestGenerateBacksOffExponentially(t *testing.T) {
	quota := &quotaError{err: errors.New("429")}
	ft := &fakeTransport{
		responses: []Response{{}, {}, {}, {Text: "done"}},
		errs:      []error{quota, quota, quota, nil},
	}
	c := newRetryingClient(ft, 2*time.Second, 3)
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) { delays = append(delays, d) }

	resp, err := c.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, delays)
}

func TestGenerateAppliesBenchmarkOverrides(t *testing.T) {
	var captured Request
	ft := &capturingTransport{fn: func(req Request) { captured = req }}
	c := newRetryingClient(ft, time.Millisecond, 0)
	c.sleep = noopSleep

	_, err := c.Generate(context.Background(), Request{Temperature: 0.7, TopP: 0.5, Benchmark: true})
	require.NoError(t, err)
	assert.Equal(t, float64(0), captured.Temperature)
	assert.Equal(t, float64(1), captured.TopP)
}

type capturingTransport struct {
	fn func(Request)
}

func (c *capturingTransport) generateOnce(_ context.Context, req Request) (Response, error) {
	c.fn(req)
	return Response{}, nil
}
