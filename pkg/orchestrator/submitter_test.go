package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naddot/tyrerec/pkg/auth"
	"github.com/naddot/tyrerec/pkg/types"
)

func TestHTTPSubmitterPostsRequestAndDecodesResult(t *testing.T) {
	var gotAuth, gotRetryHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRetryHeader = r.Header.Get(RetryPassHeader)

		var req wireRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "r1", req.RunID)
		require.Len(t, req.CAMs, 1)
		assert.Equal(t, "Civic", req.CAMs[0].Vehicle)
		assert.Equal(t, "winter", req.Params.Season)

		resp := wireResponse{
			RunID: req.RunID,
			Results: []wireRecommendation{{
				Vehicle: req.CAMs[0].Vehicle,
				Size:    req.CAMs[0].Size,
				HB1:     "1234567", HB2: "2234567", HB3: "3234567", HB4: "4234567",
				Success: true,
			}},
			Usage: wireUsage{PromptTokenCount: 10, CandidatesTokenCount: 5, TotalTokenCount: 15},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL, nil)
	res, err := s.Submit(context.Background(), auth.Credentials{IDToken: "tok-123"}, BatchRequest{
		RunID:  "r1",
		CAMs:   []types.CAM{{Vehicle: "Civic", Size: "205/55R16"}},
		Params: types.RunParams{Season: "winter"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "1", gotRetryHeader)
	require.Len(t, res.Results, 1)
	assert.True(t, res.Results[0].Success)
	assert.Equal(t, "1234567", res.Results[0].HB1)
	assert.Equal(t, int64(15), res.Usage.TotalTokens)
}

func TestHTTPSubmitterSurfacesUnauthorizedAsSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewHTTPSubmitter(srv.URL, nil)
	_, err := s.Submit(context.Background(), auth.Credentials{}, BatchRequest{RunID: "r1"})
	require.ErrorIs(t, err, ErrUnauthorized)
}
