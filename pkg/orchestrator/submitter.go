package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/naddot/tyrerec/pkg/auth"
	"github.com/naddot/tyrerec/pkg/types"
)

// RetryPassHeader marks a batch request as the global retry pass of an
// already-running batch. The receiving handler runs such a request through
// the primary pass only, so a retry call never starts a retry pass of its
// own and the recursion bottoms out after one level.
const RetryPassHeader = "X-Retry-Pass"

// BatchRequest is one retry-pass call to the model-facing batch endpoint.
type BatchRequest struct {
	RunID  string
	CAMs   []types.CAM
	Params types.RunParams
}

// BatchResult is the decoded response: recommendations in the same order
// as BatchRequest.CAMs, plus the call's aggregate token usage.
type BatchResult struct {
	Results []types.Recommendation
	Usage   types.Usage
}

// ErrUnauthorized signals the batch call was rejected for lacking valid
// credentials; callers should refresh via the Auth Broker and retry once.
var ErrUnauthorized = errors.New("batch call unauthorized")

func isAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// Submitter performs one retry-pass batch call: the global retry pass
// re-enters the same batch endpoint the primary pass's HTTP handler
// serves, rather than invoking the per-CAM worker directly a second time.
type Submitter interface {
	Submit(ctx context.Context, creds auth.Credentials, req BatchRequest) (BatchResult, error)
}

// Wire shapes of the batch endpoint, mirroring pkg/api's request/response
// DTOs. Duplicated here rather than imported because pkg/api depends on
// this package; the JSON tags are the shared contract.
type wireCAM struct {
	Vehicle string `json:"Vehicle"`
	Size    string `json:"Size"`
}

type wireParams struct {
	GoldilocksZonePct    int     `json:"goldilocks_zone_pct,omitempty"`
	PriceFluctuationUp   float64 `json:"price_fluctuation_upper,omitempty"`
	PriceFluctuationDown float64 `json:"price_fluctuation_lower,omitempty"`
	BrandEnhancer        string  `json:"brand_enhancer,omitempty"`
	ModelEnhancer        string  `json:"model_enhancer,omitempty"`
	Season               string  `json:"season,omitempty"`
	Pod                  string  `json:"pod,omitempty"`
	Segment              string  `json:"segment,omitempty"`
	DisableSearch        bool    `json:"disable_search,omitempty"`
}

type wireRequest struct {
	RunID  string     `json:"run_id"`
	CAMs   []wireCAM  `json:"cams"`
	Params wireParams `json:"params"`
}

type wireRecommendation struct {
	Vehicle string `json:"Vehicle"`
	Size    string `json:"Size"`

	HB1 string `json:"HB1"`
	HB2 string `json:"HB2"`
	HB3 string `json:"HB3"`
	HB4 string `json:"HB4"`

	SKUs [16]string `json:"SKUs"`

	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
}

type wireUsage struct {
	PromptTokenCount     int64 `json:"prompt_token_count"`
	CandidatesTokenCount int64 `json:"candidates_token_count"`
	TotalTokenCount      int64 `json:"total_token_count"`
}

type wireResponse struct {
	RunID   string               `json:"run_id"`
	Results []wireRecommendation `json:"results"`
	Usage   wireUsage            `json:"usage"`
}

func toWireRequest(req BatchRequest) wireRequest {
	cams := make([]wireCAM, len(req.CAMs))
	for i, c := range req.CAMs {
		cams[i] = wireCAM{Vehicle: c.Vehicle, Size: c.Size}
	}
	return wireRequest{
		RunID: req.RunID,
		CAMs:  cams,
		Params: wireParams{
			GoldilocksZonePct:    req.Params.GoldilocksZonePct,
			PriceFluctuationUp:   req.Params.PriceFluctuationUp,
			PriceFluctuationDown: req.Params.PriceFluctuationDown,
			BrandEnhancer:        req.Params.BrandEnhancer,
			ModelEnhancer:        req.Params.ModelEnhancer,
			Season:               req.Params.Season,
			Pod:                  req.Params.Pod,
			Segment:              req.Params.Segment,
			DisableSearch:        req.Params.DisableSearch,
		},
	}
}

func fromWireResponse(resp wireResponse) BatchResult {
	results := make([]types.Recommendation, len(resp.Results))
	for i, r := range resp.Results {
		rec := types.Recommendation{
			Vehicle:   r.Vehicle,
			Size:      r.Size,
			HB1:       r.HB1,
			HB2:       r.HB2,
			HB3:       r.HB3,
			HB4:       r.HB4,
			SKUs:      r.SKUs,
			Success:   r.Success,
			ErrorCode: types.ErrorCode(r.ErrorCode),
		}
		results[i] = rec
	}
	return BatchResult{
		Results: results,
		Usage: types.Usage{
			PromptTokens:     resp.Usage.PromptTokenCount,
			CompletionTokens: resp.Usage.CandidatesTokenCount,
			TotalTokens:      resp.Usage.TotalTokenCount,
		},
	}
}

// HTTPSubmitter calls back into this service's own batch endpoint over
// HTTP, carrying the OIDC identity token and session cookie jar the auth
// broker produced.
type HTTPSubmitter struct {
	BatchURL string
	Client   *http.Client
}

// NewHTTPSubmitter builds a Submitter targeting batchURL. If client is
// nil, a fresh http.Client is used (a jar is still attached per call from
// the supplied Credentials).
func NewHTTPSubmitter(batchURL string, client *http.Client) *HTTPSubmitter {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSubmitter{BatchURL: batchURL, Client: client}
}

// Submit posts req as JSON to BatchURL, attaching the bearer token and
// cookie jar from creds and marking the request as a retry pass. A 401
// response is surfaced as ErrUnauthorized so the orchestrator can refresh
// credentials and retry once.
func (s *HTTPSubmitter) Submit(ctx context.Context, creds auth.Credentials, req BatchRequest) (BatchResult, error) {
	body, err := json.Marshal(toWireRequest(req))
	if err != nil {
		return BatchResult{}, fmt.Errorf("encoding retry batch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BatchURL, bytes.NewReader(body))
	if err != nil {
		return BatchResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(RetryPassHeader, "1")
	if creds.IDToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.IDToken)
	}

	client := s.Client
	if creds.Jar != nil {
		clientCopy := *s.Client
		clientCopy.Jar = creds.Jar
		client = &clientCopy
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return BatchResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return BatchResult{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return BatchResult{}, fmt.Errorf("retry batch call returned %d", resp.StatusCode)
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return BatchResult{}, fmt.Errorf("decoding retry batch response: %w", err)
	}
	return fromWireResponse(out), nil
}
