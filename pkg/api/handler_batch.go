package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/naddot/tyrerec/pkg/orchestrator"
	"github.com/naddot/tyrerec/pkg/types"
)

// maxCAMsPerBatch mirrors the orchestrator's batch size cap; this is the
// request-shape check that happens before the orchestrator is ever
// invoked.
const maxCAMsPerBatch = 500

// SubmitBatch handles POST /api/recommendations/batch.
// It always responds 200 with a fully populated results array once the
// request shape is valid; per-CAM failure is carried in each result's
// success/error_code fields, never as an HTTP error status.
func (s *Server) SubmitBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.RunID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "run_id is required"})
		return
	}
	if len(req.CAMs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cams is required"})
		return
	}
	if len(req.CAMs) > maxCAMsPerBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cams exceeds maximum batch size"})
		return
	}

	cams := make([]types.CAM, len(req.CAMs))
	for i, c := range req.CAMs {
		cams[i] = types.CAM{Vehicle: c.Vehicle, Size: c.Size}
	}
	params := toRunParams(req.Params)

	run := s.orchestrator.Run
	retryPass := c.GetHeader(orchestrator.RetryPassHeader) != ""
	if retryPass {
		run = s.orchestrator.RunOnce
	}
	result, err := run(c.Request.Context(), req.RunID, cams, params)
	if err != nil {
		if errors.Is(err, orchestrator.ErrBatchTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cams exceeds maximum batch size"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.artifacts != nil && !retryPass {
		go func() {
			if err := s.artifacts.Flush(result.RunID, result.Results, result.Usage); err != nil {
				slog.Error("artifact flush failed", "run_id", result.RunID, "error", err)
			}
		}()
	}

	c.JSON(http.StatusOK, toBatchResponse(result))
}

func toRunParams(p BatchParams) types.RunParams {
	return types.RunParams{
		GoldilocksZonePct:    p.GoldilocksZonePct,
		PriceFluctuationUp:   p.PriceFluctuationUp,
		PriceFluctuationDown: p.PriceFluctuationDown,
		BrandEnhancer:        p.BrandEnhancer,
		ModelEnhancer:        p.ModelEnhancer,
		Season:               p.Season,
		Pod:                  p.Pod,
		Segment:              p.Segment,
		DisableSearch:        p.DisableSearch,
	}
}

func toBatchResponse(result orchestrator.Result) BatchResponse {
	results := make([]BatchRecommendation, len(result.Results))
	for i, r := range result.Results {
		results[i] = BatchRecommendation{
			Vehicle:   r.Vehicle,
			Size:      r.Size,
			HB1:       r.HB1,
			HB2:       r.HB2,
			HB3:       r.HB3,
			HB4:       r.HB4,
			SKUs:      r.SKUs,
			Success:   r.Success,
			ErrorCode: string(r.ErrorCode),
		}
	}
	return BatchResponse{
		RunID:   result.RunID,
		Results: results,
		Usage: UsageResponse{
			PromptTokenCount:     result.Usage.PromptTokens,
			CandidatesTokenCount: result.Usage.CompletionTokens,
			TotalTokenCount:      result.Usage.TotalTokens,
		},
	}
}
