package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
)

type GetRequestStatusInput struct {
	RequestID string `json:"request_id"`
}

func (h *Handler) getRequestStatus(ctx context.Context, args json.RawMessage) (string, error) {
	var input GetRequestStatusInput
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}
	api, err := h.client()
	if err != nil {
		return "", err
	}

	req, err := api.GetInferRequest(ctx, input.RequestID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Request ID: %s\n", req.ID)
	fmt.Fprintf(&sb, "State: %s\n", req.State)
	fmt.Fprintf(&sb, "Created: %s\n", req.CreateTime)
	fmt.Fprintf(&sb, "Updated: %s\n\n", req.UpdateTime)

	switch req.State {
	case edgecloud.StateSuccess:
		writeOutput(&sb, req)
		writeCost(&sb, req)
	case edgecloud.StateError:
		fmt.Fprintf(&sb, "**Error:** %s\n", failureMessage(req))
	case edgecloud.StatePending, edgecloud.StateProcessing:
		fmt.Fprintf(&sb, "The request is still %s. Check again in a few seconds.\n", req.State)
	}
	return sb.String(), nil
}
