package api

// BatchRecommendation is one entry of a BatchResponse's results list.
type BatchRecommendation struct {
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

// UsageResponse mirrors the model-call usage metadata shape:
// prompt/candidates/total token counts.
type UsageResponse struct {
	PromptTokenCount     int64 `json:"prompt_token_count"`
	CandidatesTokenCount int64 `json:"candidates_token_count"`
	TotalTokenCount      int64 `json:"total_token_count"`
}

// BatchResponse is POST /api/recommendations/batch's response body.
type BatchResponse struct {
	RunID   string                `json:"run_id"`
	Results []BatchRecommendation `json:"results"`
	Usage   UsageResponse         `json:"usage"`
}
