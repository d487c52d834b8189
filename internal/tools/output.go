package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
)

const unknownError = "Unknown error"

// writeOutput renders a finished request's output. Known shapes (text, url,
// urls) get a dedicated block; anything else is dumped as indented JSON.
func writeOutput(sb *strings.Builder, req *edgecloud.InferRequest) {
	if !req.HasOutput() {
		return
	}
	fields, ok := req.OutputFields()
	if !ok {
		fmt.Fprintf(sb, "**Output:**\n```json\n%s\n```\n", prettyRaw(req.Output))
		return
	}

	if text, ok := fields["text"].(string); ok {
		fmt.Fprintf(sb, "**Result:**\n%s\n", text)
		return
	}
	if u, ok := fields["url"].(string); ok {
		fmt.Fprintf(sb, "**Generated Image URL:**\n%s\n", u)
		return
	}
	if urls, ok := fields["urls"].([]any); ok {
		sb.WriteString("**Generated Image URLs:**\n")
		for _, u := range urls {
			fmt.Fprintf(sb, "- %s\n", scalarString(u))
		}
		return
	}
	fmt.Fprintf(sb, "**Output:**\n```json\n%s\n```\n", prettyRaw(req.Output))
}

func writeCost(sb *strings.Builder, req *edgecloud.InferRequest) {
	if req.Cost == nil {
		return
	}
	fmt.Fprintf(sb, "\nCost: %s credits", formatNumber(req.Cost.Total()))
}

// failureMessage picks the request error, then output.error, then a fallback.
func failureMessage(req *edgecloud.InferRequest) string {
	if req.Error != "" {
		return req.Error
	}
	if fields, ok := req.OutputFields(); ok {
		if s, ok := fields["error"].(string); ok && s != "" {
			return s
		}
	}
	return unknownError
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return formatNumber(x)
	case json.Number:
		return x.String()
	case nil:
		return "null"
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// prettyJSON indents v with two spaces and leaves HTML characters unescaped.
func prettyJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// prettyRaw indents a raw payload keeping its key order.
func prettyRaw(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
