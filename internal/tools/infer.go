package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
)

// DefaultWait is how long a submission waits for its result when the caller
// does not say.
const DefaultWait = 30

type InferInput struct {
	Service    string         `json:"service"`
	Input      map[string]any `json:"input"`
	Wait       *float64       `json:"wait,omitempty"`
	Prediction string         `json:"prediction,omitempty"`
	Variant    string         `json:"variant,omitempty"`
	Webhook    string         `json:"webhook,omitempty"`
}

// waitSeconds applies the default and clamps to what the API accepts.
func (in InferInput) waitSeconds() int {
	if in.Wait == nil {
		return DefaultWait
	}
	w := int(*in.Wait)
	if w < 0 {
		return 0
	}
	if w > edgecloud.MaxWait {
		return edgecloud.MaxWait
	}
	return w
}

func (h *Handler) infer(ctx context.Context, args json.RawMessage) (string, error) {
	var input InferInput
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}
	api, err := h.client()
	if err != nil {
		return "", err
	}

	wait := input.waitSeconds()
	req, err := api.CreateInferRequest(ctx, input.Service, edgecloud.CreateInferRequestParams{
		Input:      input.Input,
		Wait:       &wait,
		Prediction: input.Prediction,
		Variant:    input.Variant,
		Webhook:    input.Webhook,
	})
	if err != nil {
		return "", err
	}

	h.log.Debug().
		Str("service", input.Service).
		Str("request_id", req.ID).
		Str("state", string(req.State)).
		Int("wait", wait).
		Msg("infer request submitted")

	switch req.State {
	case edgecloud.StateSuccess:
		return formatInferSuccess(req), nil
	case edgecloud.StateError:
		return formatInferFailure(req), nil
	default:
		return formatInferPending(req), nil
	}
}

func formatInferSuccess(req *edgecloud.InferRequest) string {
	var sb strings.Builder
	sb.WriteString("Inference completed successfully!\n\n")
	fmt.Fprintf(&sb, "Request ID: %s\n\n", req.ID)
	writeOutput(&sb, req)
	writeCost(&sb, req)
	return sb.String()
}

func formatInferFailure(req *edgecloud.InferRequest) string {
	var sb strings.Builder
	sb.WriteString("Inference failed.\n\n")
	fmt.Fprintf(&sb, "Request ID: %s\n", req.ID)
	fmt.Fprintf(&sb, "Error: %s\n", failureMessage(req))
	return sb.String()
}

func formatInferPending(req *edgecloud.InferRequest) string {
	var sb strings.Builder
	sb.WriteString("Inference request is still processing.\n\n")
	fmt.Fprintf(&sb, "Request ID: %s\n", req.ID)
	fmt.Fprintf(&sb, "Current State: %s\n\n", req.State)
	sb.WriteString("To check the status later, use:\n")
	fmt.Fprintf(&sb, "get_request_status(request_id=%q)\n", req.ID)
	return sb.String()
}
