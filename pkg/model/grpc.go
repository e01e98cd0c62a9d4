package model

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// generateMethod is the fully-qualified streaming RPC this transport
// calls. The model sidecar is expected to implement this single
// server-streaming method.
const generateMethod = "/tyrerec.model.v1.ModelService/Generate"

// grpcTransport streams a Generate call against the model sidecar.
//
// Request/response framing uses structpb.Struct as the wire message: the
// sidecar's chunk schema is loosely typed (text/usage/error chunks with
// optional fields), and Struct lets both sides evolve fields without a
// regenerated message package.
type grpcTransport struct {
	conn *grpc.ClientConn
}

func newGRPCTransport(addr string) (*grpcTransport, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create model client for %s: %w", addr, err)
	}
	return &grpcTransport{conn: conn}, nil
}

func (t *grpcTransport) Close() error {
	return t.conn.Close()
}

// generateOnce performs a single streaming attempt: it sends one request
// message and reads chunks until the stream closes, assembling the final
// text from "text" chunks and usage from the terminal "usage" chunk. No
// retry happens here; that is retryingClient's job.
func (t *grpcTransport) generateOnce(ctx context.Context, req Request) (Response, error) {
	stream, err := t.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Generate", ServerStreams: true}, generateMethod)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrAPI, err)
	}

	reqMsg, err := requestToStruct(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	if err := stream.SendMsg(reqMsg); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	if err := stream.CloseSend(); err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrAPI, err)
	}

	var out Response
	for {
		chunk := &structpb.Struct{}
		err := stream.RecvMsg(chunk)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%w: %v", ErrStream, err)
		}

		switch chunkKind(chunk) {
		case "text":
			out.Text += stringField(chunk, "content")
		case "usage":
			out.Usage.PromptTokens = int64(numberField(chunk, "prompt_tokens"))
			out.Usage.CompletionTokens = int64(numberField(chunk, "completion_tokens"))
			out.Usage.TotalTokens = int64(numberField(chunk, "total_tokens"))
		case "error":
			code := stringField(chunk, "code")
			message := stringField(chunk, "message")
			retryable := boolField(chunk, "retryable")
			if retryable || code == "429" || code == "RESOURCE_EXHAUSTED" {
				return out, &quotaError{err: fmt.Errorf("model quota exceeded: %s", message)}
			}
			out.ErrorType = ErrGenerationErr
			return out, fmt.Errorf("%w: %s", ErrGeneration, message)
		}
	}
}

// Sentinel transport-failure classes, matched via errors.Is at the
// per-CAM worker's single error-classification boundary.
var (
	ErrAPI        = fmt.Errorf("model api error")
	ErrStream     = fmt.Errorf("model stream error")
	ErrGeneration = fmt.Errorf("model generation error")
)

func requestToStruct(req Request) (*structpb.Struct, error) {
	m := map[string]any{
		"prompt":      req.Prompt,
		"model":       req.Model,
		"location":    req.Location,
		"temperature": req.Temperature,
		"top_p":       req.TopP,
	}
	if req.Tools.RetrievalDatastoreID != "" {
		m["retrieval_datastore_id"] = req.Tools.RetrievalDatastoreID
	}
	if len(req.Tools.SafetyCategories) > 0 {
		cats := make(map[string]any, len(req.Tools.SafetyCategories))
		for k, v := range req.Tools.SafetyCategories {
			cats[k] = v
		}
		m["safety_categories"] = cats
	}
	return structpb.NewStruct(m)
}

func chunkKind(s *structpb.Struct) string { return stringField(s, "type") }

func stringField(s *structpb.Struct, key string) string {
	if s == nil || s.Fields == nil {
		return ""
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func numberField(s *structpb.Struct, key string) float64 {
	if s == nil || s.Fields == nil {
		return 0
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetNumberValue()
	}
	return 0
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil || s.Fields == nil {
		return false
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetBoolValue()
	}
	return false
}
