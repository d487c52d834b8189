package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

type GetUploadURLInput struct {
	Service    string `json:"service"`
	InputField string `json:"input_field"`
}

func (h *Handler) getUploadURL(ctx context.Context, args json.RawMessage) (string, error) {
	var input GetUploadURLInput
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}
	api, err := h.client()
	if err != nil {
		return "", err
	}

	res, err := api.GetPresignedURLs(ctx, input.Service, []string{input.InputField})
	if err != nil {
		return "", err
	}

	target, ok := res.URLs[input.InputField]
	if !ok || target.UploadURL == "" {
		return fmt.Sprintf("Error: Could not get upload URL for field %q. "+
			"Make sure the field name is correct for the %s service.", input.InputField, input.Service), nil
	}

	var sb strings.Builder
	sb.WriteString("**Upload URL Generated**\n\n")
	sb.WriteString("Upload your file using a PUT request to:\n")
	fmt.Fprintf(&sb, "`%s`\n\n", target.UploadURL)
	sb.WriteString("After uploading, use this filename in your infer() call:\n")
	fmt.Fprintf(&sb, "`%s`\n\n", target.Filename)
	sb.WriteString("**Example cURL command:**\n")
	sb.WriteString("```bash\n")
	fmt.Fprintf(&sb, "curl -X PUT -T your-file.wav %q\n", target.UploadURL)
	sb.WriteString("```\n\n")
	sb.WriteString("**Then run inference:**\n")
	sb.WriteString("```\n")
	sb.WriteString("infer(\n")
	fmt.Fprintf(&sb, "  service=%q,\n", input.Service)
	fmt.Fprintf(&sb, "  input={%q: %q}\n", input.InputField, target.Filename)
	sb.WriteString(")\n")
	sb.WriteString("```\n")
	return sb.String(), nil
}
