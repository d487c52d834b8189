package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
	"github.com/golovatskygroup/edgecloud-mcp/internal/testutil"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "test-key"

func newTestHandler(t *testing.T) (*Handler, *testutil.FakeAPI) {
	t.Helper()
	f := testutil.NewFakeAPI(t, testKey)
	cl, err := edgecloud.New(edgecloud.Config{APIKey: testKey, BaseURL: f.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return NewHandler(cl, nil, zerolog.Nop()), f
}

func call(t *testing.T, h *Handler, name string, args any) (string, bool) {
	t.Helper()
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		require.NoError(t, err)
		raw = b
	}
	res, err := h.Handle(context.Background(), name, raw)
	require.NoError(t, err)
	require.NotNil(t, res)
	return resultText(res), res.IsError
}

func TestBuiltinToolsSchemasCompile(t *testing.T) {
	h := NewHandler(nil, nil, zerolog.Nop())

	schemas, err := h.compiledSchemas()
	require.NoError(t, err)

	var names []string
	for _, tool := range h.BuiltinTools() {
		names = append(names, tool.Name)
		raw, ok := tool.InputSchema.(json.RawMessage)
		require.True(t, ok, tool.Name)
		assert.Contains(t, schemas, tool.Name)

		var schema map[string]any
		require.NoError(t, json.Unmarshal(raw, &schema))
		assert.Equal(t, "object", schema["type"], tool.Name)
		assert.NotEmpty(t, tool.Description, tool.Name)
	}
	assert.Equal(t, []string{"list_services", "infer", "get_request_status", "get_upload_url", "describe_service"}, names)
}

func TestHandleUnknownTool(t *testing.T) {
	h, _ := newTestHandler(t)
	text, isErr := call(t, h, "delete_everything", map[string]any{})
	assert.True(t, isErr)
	assert.Equal(t, "Error: Unknown tool: delete_everything", text)
}

func TestHandleInvalidInput(t *testing.T) {
	h, f := newTestHandler(t)

	cases := []struct {
		name string
		tool string
		args any
	}{
		{"missing input", "infer", map[string]any{"service": "whisper"}},
		{"wait above range", "infer", map[string]any{"service": "whisper", "input": map[string]any{}, "wait": 90}},
		{"wait below range", "infer", map[string]any{"service": "whisper", "input": map[string]any{}, "wait": -1}},
		{"input not object", "infer", map[string]any{"service": "whisper", "input": "hello"}},
		{"missing request id", "get_request_status", nil},
		{"field wrong type", "get_upload_url", map[string]any{"service": "whisper", "input_field": 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, isErr := call(t, h, tc.tool, tc.args)
			assert.True(t, isErr)
			assert.True(t, strings.HasPrefix(text, "Error: Invalid input: "), text)
		})
	}
	assert.Empty(t, f.Requests(), "invalid calls must not reach the API")
}

func TestHandleMalformedJSON(t *testing.T) {
	h, _ := newTestHandler(t)
	res, err := h.Handle(context.Background(), "list_services", json.RawMessage(`{"category":`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.True(t, strings.HasPrefix(resultText(res), "Error: Invalid input: "))
}

func TestHandleWithoutClient(t *testing.T) {
	h := NewHandler(nil, nil, zerolog.Nop())
	text, isErr := call(t, h, "list_services", nil)
	assert.True(t, isErr)
	assert.Equal(t, "Error: API client is not configured", text)
}

func TestHandleAPIErrorBecomesErrorResult(t *testing.T) {
	h, f := newTestHandler(t)
	f.FailPath("/service/list", http.StatusInternalServerError, `{"message":"boom"}`)

	text, isErr := call(t, h, "list_services", nil)
	assert.True(t, isErr)
	assert.Equal(t, "Error: API Error (500): boom", text)
}

func TestSetAPIReplacesClient(t *testing.T) {
	h, _ := newTestHandler(t)
	other := testutil.NewFakeAPI(t, "other-key")
	other.AddService(testutil.ServiceFixture("whisper", "Whisper", "public", "", nil))

	cl, err := edgecloud.New(edgecloud.Config{APIKey: "other-key", BaseURL: other.URL})
	require.NoError(t, err)
	h.SetAPI(cl)

	text, isErr := call(t, h, "list_services", nil)
	assert.False(t, isErr)
	assert.Contains(t, text, "Found 1 available services")
	assert.Len(t, other.Requests(), 1)

	h.SetAPI(nil)
	_, isErr = call(t, h, "list_services", nil)
	assert.True(t, isErr)
}

func TestSchemaCheckReportsLocation(t *testing.T) {
	h := NewHandler(nil, nil, zerolog.Nop())
	schemas, err := h.compiledSchemas()
	require.NoError(t, err)

	err = schemas.check("infer", json.RawMessage(`{"service":"x","input":{},"wait":61}`))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "/wait: "), err.Error())

	err = schemas.check("get_upload_url", json.RawMessage(`{"service":"x"}`))
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "/: "), err.Error())

	assert.NoError(t, schemas.check("infer", json.RawMessage(`{"service":"x","input":{"a":1},"wait":0}`)))
	assert.Error(t, schemas.check("nope", json.RawMessage(`{}`)))
}

func TestCompileToolSchemasRejectsNonRawSchema(t *testing.T) {
	_, err := compileToolSchemas([]mcp.Tool{{Name: "odd", InputSchema: map[string]any{"type": "object"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool odd")
}
