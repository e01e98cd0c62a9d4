package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naddot/tyrerec/pkg/model"
	"github.com/naddot/tyrerec/pkg/types"
)

type fakeStore struct {
	rows []types.CandidateRow
}

func (f fakeStore) Fetch(ctx context.Context, size, vehicle string) []types.CandidateRow {
	return f.rows
}

type scriptedModel struct {
	responses []model.Response
	errs      []error
	calls     int
}

func (s *scriptedModel) Generate(ctx context.Context, req model.Request) (model.Response, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.responses[i], err
}

func (s *scriptedModel) Close() error { return nil }

func sampleCandidates() []types.CandidateRow {
	return []types.CandidateRow{
		{ProductID: "1234567", Vehicle: "Civic", Size: "205/55R16"},
		{ProductID: "2234567", Vehicle: "Civic", Size: "205/55R16"},
		{ProductID: "3234567", Vehicle: "Civic", Size: "205/55R16"},
		{ProductID: "4234567", Vehicle: "Civic", Size: "205/55R16"},
	}
}

func goodResponseText() string {
	return "Civic 205/55R16 1234567 2234567 3234567 4234567"
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	w := New(fakeStore{}, &scriptedModel{responses: []model.Response{{}}}, Config{})
	cam := types.CAM{Vehicle: "", Size: "205/55R16"}
	rec := w.Process(context.Background(), cam, types.RunParams{}, nil)
	assert.False(t, rec.Success)
	assert.Equal(t, types.ErrInvalidInput, rec.ErrorCode)
}

func TestProcessRejectsNanLiterals(t *testing.T) {
	w := New(fakeStore{}, &scriptedModel{responses: []model.Response{{}}}, Config{})
	cam := types.CAM{Vehicle: "nan", Size: "205/55R16"}
	rec := w.Process(context.Background(), cam, types.RunParams{}, nil)
	assert.Equal(t, types.ErrInvalidInput, rec.ErrorCode)
}

func TestProcessNoCandidatesReturnsNoResults(t *testing.T) {
	w := New(fakeStore{}, &scriptedModel{responses: []model.Response{{}}}, Config{})
	cam := types.CAM{Vehicle: "Civic", Size: "205/55R16"}
	rec := w.Process(context.Background(), cam, types.RunParams{}, Prefetch{})
	assert.False(t, rec.Success)
	assert.Equal(t, types.ErrNoResults, rec.ErrorCode)
	for _, s := range rec.Slots() {
		assert.Equal(t, "-", s)
	}
}

func TestProcessSucceedsOnFirstAttempt(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Text: goodResponseText(), Usage: types.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
	}}
	w := New(fakeStore{}, m, Config{})
	cam := types.CAM{Vehicle: "Civic", Size: "205/55R16"}
	prefetch := Prefetch{"205/55r16": sampleCandidates()}

	rec := w.Process(context.Background(), cam, types.RunParams{}, prefetch)
	require.True(t, rec.Success)
	assert.Equal(t, 1, m.calls)
	assert.Equal(t, int64(15), rec.Usage.TotalTokens)
}

func TestProcessRetriesOnceOnFormatFailureAndSumsUsage(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Text: "garbage", Usage: types.Usage{PromptTokens: 10, CompletionTokens: 1, TotalTokens: 11}},
		{Text: goodResponseText(), Usage: types.Usage{PromptTokens: 12, CompletionTokens: 2, TotalTokens: 14}},
	}}
	w := New(fakeStore{}, m, Config{})
	cam := types.CAM{Vehicle: "Civic", Size: "205/55R16"}
	prefetch := Prefetch{"205/55r16": sampleCandidates()}

	rec := w.Process(context.Background(), cam, types.RunParams{}, prefetch)
	require.True(t, rec.Success)
	assert.Equal(t, 2, m.calls)
	assert.Equal(t, int64(25), rec.Usage.TotalTokens)
}

func TestProcessClassifiesUpstreamErrorAfterBothAttemptsFail(t *testing.T) {
	m := &scriptedModel{
		responses: []model.Response{{}, {}},
		errs:      []error{model.ErrAPI, model.ErrAPI},
	}
	w := New(fakeStore{}, m, Config{})
	cam := types.CAM{Vehicle: "Civic", Size: "205/55R16"}
	prefetch := Prefetch{"205/55r16": sampleCandidates()}

	rec := w.Process(context.Background(), cam, types.RunParams{}, prefetch)
	assert.False(t, rec.Success)
	assert.Equal(t, types.ErrUpstream, rec.ErrorCode)
	assert.Equal(t, 2, m.calls)
}

func TestProcessClassifiesFormatErrorWhenNoErrorButBackfillIncomplete(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{
		{Text: "garbage"},
		{Text: "still garbage"},
	}}
	w := New(fakeStore{}, m, Config{})
	cam := types.CAM{Vehicle: "Civic", Size: "205/55R16"}
	prefetch := Prefetch{"205/55r16": sampleCandidates()}

	rec := w.Process(context.Background(), cam, types.RunParams{}, prefetch)
	assert.False(t, rec.Success)
	assert.Equal(t, types.ErrFormat, rec.ErrorCode)
}

func TestProcessFallsBackToStoreWhenPrefetchEmpty(t *testing.T) {
	m := &scriptedModel{responses: []model.Response{{Text: goodResponseText()}}}
	store := fakeStore{rows: sampleCandidates()}
	w := New(store, m, Config{})
	cam := types.CAM{Vehicle: "Civic", Size: "205/55R16"}

	rec := w.Process(context.Background(), cam, types.RunParams{}, Prefetch{})
	require.True(t, rec.Success)
}

func TestClassifyUsesSecondAttemptError(t *testing.T) {
	code := classify(errors.New("boom"), context.DeadlineExceeded)
	assert.Equal(t, types.ErrTimeout, code)
}
