// Package model implements the generative-model client: a streaming call
// with quota-aware exponential backoff and usage capture even on partial
// failure. Only quota exhaustion (HTTP 429 / RESOURCE_EXHAUSTED) is
// retried; every other failure terminates the call with a typed error.
package model

import (
	"context"
	"errors"

	"github.com/naddot/tyrerec/pkg/types"
)

// ErrorType classifies a terminal (non-retryable) Model Client failure.
type ErrorType string

const (
	ErrNone          ErrorType = ""
	ErrAPIError      ErrorType = "APIError"
	ErrStreamError   ErrorType = "StreamError"
	ErrGenerationErr ErrorType = "GenerationError"
)

// ToolSettings carries the retrieval/grounding and safety configuration
// forwarded to the model on every request.
type ToolSettings struct {
	RetrievalDatastoreID string
	SafetyCategories     map[string]string
}

// Request is one Generate call's input.
type Request struct {
	Prompt      string
	Model       string
	Location    string
	Temperature float64
	TopP        float64
	Tools       ToolSettings
	Benchmark   bool // true forces Temperature=0, TopP=1
}

// Response is one Generate call's output. Usage is populated even when
// ErrorType is set, reflecting tokens consumed before the failure.
type Response struct {
	Text      string
	Usage     types.Usage
	ErrorType ErrorType
}

// Client is the Go-side interface for calling the generative model.
type Client interface {
	// Generate performs a full streaming call (including the internal
	// 429 retry loop) and returns the assembled response. Generate does
	// not itself enforce a deadline; callers own ctx cancellation.
	Generate(ctx context.Context, req Request) (Response, error)

	Close() error
}

// transport performs exactly one streaming attempt with no retry logic.
// Separated from Client so the retry wrapper is independently testable
// against a fake transport.
type transport interface {
	generateOnce(ctx context.Context, req Request) (Response, error)
}

// quotaError marks an error as the only retryable class: HTTP 429 /
// RESOURCE_EXHAUSTED.
type quotaError struct{ err error }

func (e *quotaError) Error() string { return e.err.Error() }
func (e *quotaError) Unwrap() error { return e.err }

// IsQuotaExceeded reports whether err (or any error it wraps) is the
// retryable quota-exhaustion class.
func IsQuotaExceeded(err error) bool {
	var q *quotaError
	return errors.As(err, &q)
}

// applyBenchmarkOverrides pins benchmark-mode generation parameters:
// temperature=0, top_p=1, regardless of configured values.
func applyBenchmarkOverrides(req Request) Request {
	if req.Benchmark {
		req.Temperature = 0
		req.TopP = 1
	}
	return req
}
