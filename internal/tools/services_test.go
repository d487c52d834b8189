package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
	"github.com/golovatskygroup/edgecloud-mcp/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addCatalog(f *testutil.FakeAPI) {
	f.AddService(testutil.ServiceFixture("flux-1-schnell", "FLUX.1 schnell", "public", "Generate images", map[string]any{
		"prompt": map[string]any{"type": "string", "required": true},
		"steps":  map[string]any{"type": "integer", "default": 4},
	}))
	f.AddService(testutil.ServiceFixture("whisper", "Whisper", "public", "Transcribe audio", map[string]any{
		"audio_filename": map[string]any{"type": "string", "required": true},
	}, "large-v3", "turbo"))
	f.AddService(testutil.ServiceFixture("sdxl-turbo", "SDXL Turbo", "public", "", nil, "only"))
	f.AddService(testutil.ServiceFixture("llama-3-1-8b-internal", "Llama internal", "internal", "hidden", nil))
}

func TestListServicesGroupsPublicServices(t *testing.T) {
	h, f := newTestHandler(t)
	addCatalog(f)

	text, isErr := call(t, h, "list_services", nil)
	require.False(t, isErr, text)

	want := "Found 3 available services:\n\n" +
		"## IMAGE\n\n" +
		"### FLUX.1 schnell (flux-1-schnell)\n" +
		"Generate images\n" +
		"Example input: {\n  \"prompt\": \"Your prompt here\",\n  \"steps\": 4\n}\n\n" +
		"### SDXL Turbo (sdxl-turbo)\n" +
		"No description available\n" +
		"Example input: {}\n\n" +
		"## AUDIO\n\n" +
		"### Whisper (whisper)\n" +
		"Transcribe audio\n" +
		"Variants: large-v3, turbo\n" +
		"Example input: {\n  \"audio_filename\": \"https://example.com/file\"\n}\n\n"
	assert.Equal(t, want, text)
	assert.NotContains(t, text, "internal")
}

func TestListServicesCategoryFilter(t *testing.T) {
	h, f := newTestHandler(t)
	addCatalog(f)

	text, isErr := call(t, h, "list_services", map[string]any{"category": "AUDIO"})
	require.False(t, isErr)
	assert.True(t, strings.HasPrefix(text, "Found 1 available services:\n\n## AUDIO\n\n"), text)
	assert.NotContains(t, text, "IMAGE")

	text, isErr = call(t, h, "list_services", map[string]any{"category": "video"})
	require.False(t, isErr)
	assert.Equal(t, "Found 0 available services:\n\n", text)

	text, _ = call(t, h, "list_services", map[string]any{"category": "text"})
	assert.Equal(t, "Found 0 available services:\n\n", text, "internal text services stay hidden")
}

// slowCatalog holds ListServices open until release is closed or the
// context passed to it is done.
type slowCatalog struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (s *slowCatalog) ListServices(ctx context.Context) ([]edgecloud.Service, error) {
	if s.calls.Add(1) == 1 {
		close(s.entered)
	}
	select {
	case <-s.release:
		return []edgecloud.Service{{Alias: "whisper", Name: "Whisper", State: edgecloud.ServiceStatePublic}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *slowCatalog) GetService(context.Context, string) (*edgecloud.Service, error) {
	return nil, errors.New("unexpected call")
}

func (s *slowCatalog) CreateInferRequest(context.Context, string, edgecloud.CreateInferRequestParams) (*edgecloud.InferRequest, error) {
	return nil, errors.New("unexpected call")
}

func (s *slowCatalog) GetInferRequest(context.Context, string) (*edgecloud.InferRequest, error) {
	return nil, errors.New("unexpected call")
}

func (s *slowCatalog) GetPresignedURLs(context.Context, string, []string) (*edgecloud.PresignedURLResponse, error) {
	return nil, errors.New("unexpected call")
}

func TestSharedCatalogFetchOutlivesCanceledCaller(t *testing.T) {
	api := &slowCatalog{entered: make(chan struct{}), release: make(chan struct{})}
	h := NewHandler(api, nil, zerolog.Nop())

	type outcome struct {
		text  string
		isErr bool
	}
	run := func(ctx context.Context, out chan<- outcome) {
		res, err := h.Handle(ctx, "list_services", nil)
		if err != nil || res == nil {
			out <- outcome{text: fmt.Sprint(err), isErr: true}
			return
		}
		out <- outcome{text: resultText(res), isErr: res.IsError}
	}
	wait := func(ch <-chan outcome) outcome {
		t.Helper()
		select {
		case o := <-ch:
			return o
		case <-time.After(5 * time.Second):
			t.Fatal("tool call did not return")
			return outcome{}
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	doneA := make(chan outcome, 1)
	doneB := make(chan outcome, 1)

	go run(ctxA, doneA)
	<-api.entered
	go run(context.Background(), doneB)
	time.Sleep(20 * time.Millisecond)
	cancelA()

	a := wait(doneA)
	assert.True(t, a.isErr)
	assert.Equal(t, "Error: context canceled", a.text)

	close(api.release)
	b := wait(doneB)
	require.False(t, b.isErr, b.text)
	assert.Contains(t, b.text, "Found 1 available services")
	assert.Contains(t, b.text, "### Whisper (whisper)")
}

func TestNotFoundSuggestionsUseCurrentCatalog(t *testing.T) {
	h, f := newTestHandler(t)

	text, isErr := call(t, h, "describe_service", map[string]any{"service": "whispr"})
	require.False(t, isErr, text)
	assert.NotContains(t, text, "Did you mean")

	addCatalog(f)
	text, _ = call(t, h, "describe_service", map[string]any{"service": "whispr"})
	assert.Contains(t, text, "Did you mean:\n- whisper\n")

	f.FailPath("/service/list", http.StatusBadGateway, "down")
	text, isErr = call(t, h, "describe_service", map[string]any{"service": "whispr"})
	assert.False(t, isErr)
	assert.Contains(t, text, `Service "whispr" not found.`)
	assert.NotContains(t, text, "Did you mean", "earlier catalogs are not reused")
}

func TestExampleValue(t *testing.T) {
	cases := []struct {
		name string
		spec edgecloud.VarSpec
		want any
	}{
		{"prompt", edgecloud.VarSpec{Type: "string"}, "Your prompt here"},
		{"prompt", edgecloud.VarSpec{Type: "string", Default: "a cat"}, "Your prompt here"},
		{"image_url", edgecloud.VarSpec{Type: "string", Default: "x"}, "https://example.com/file"},
		{"audio_filename", edgecloud.VarSpec{Type: "string"}, "https://example.com/file"},
		{"language", edgecloud.VarSpec{Type: "string", Default: "en"}, "en"},
		{"language", edgecloud.VarSpec{Type: "string", Default: ""}, "string value"},
		{"language", edgecloud.VarSpec{Type: "string"}, "string value"},
		{"steps", edgecloud.VarSpec{Type: "number", Default: float64(7)}, float64(7)},
		{"steps", edgecloud.VarSpec{Type: "integer"}, 1},
		{"steps", edgecloud.VarSpec{Type: "integer", Default: float64(0)}, 1},
		{"stream", edgecloud.VarSpec{Type: "boolean"}, false},
		{"stream", edgecloud.VarSpec{Type: "boolean", Default: true}, true},
		{"stop", edgecloud.VarSpec{Type: "array"}, []any{}},
		{"stop", edgecloud.VarSpec{Type: "array", Default: []any{"\n"}}, []any{"\n"}},
		{"options", edgecloud.VarSpec{Type: "object"}, nil},
		{"options", edgecloud.VarSpec{Type: "object", Default: map[string]any{"k": "v"}}, map[string]any{"k": "v"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, exampleValue(tc.name, tc.spec), "%s %+v", tc.name, tc.spec)
	}
}

func TestInputExampleWithoutDefaultPrediction(t *testing.T) {
	svc := edgecloud.Service{Alias: "x", DefaultPrediction: "missing"}
	assert.Equal(t, map[string]any{}, inputExample(svc))
	assert.Equal(t, noDescription, description(svc))
	assert.Nil(t, variants(svc))
}

func TestDescribeService(t *testing.T) {
	h, f := newTestHandler(t)
	svc := testutil.ServiceFixture("whisper", "Whisper", "public", "Transcribe audio", map[string]any{
		"audio_filename": map[string]any{"type": "string", "required": true, "description": "uploaded file"},
		"language":       map[string]any{"type": "string", "default": "en"},
	}, "large-v3", "turbo")
	svc["predictions"].(map[string]any)["translate"] = map[string]any{"instructions": "Translate to English"}
	f.AddService(svc)

	text, isErr := call(t, h, "describe_service", map[string]any{"service": "whisper"})
	require.False(t, isErr, text)

	assert.True(t, strings.HasPrefix(text, "## Whisper (whisper)\n\nState: public\nCategory: audio\nDefault prediction: default\n"), text)
	assert.Contains(t, text, "### Prediction: default\nTranscribe audio\nCost: 1 credits\nVariants: large-v3, turbo\n")
	assert.Contains(t, text, "- audio_filename (string, required): uploaded file\n")
	assert.Contains(t, text, "- language (string) [default: en]\n")
	assert.Contains(t, text, "Outputs:\n- text (string)\n")
	assert.Contains(t, text, "### Prediction: translate\nTranslate to English\n")
	assert.Less(t, strings.Index(text, "Prediction: default"), strings.Index(text, "Prediction: translate"))
	assert.Contains(t, text, "\"language\": \"en\"")
}

func TestDescribeServiceNotFoundSuggests(t *testing.T) {
	h, f := newTestHandler(t)
	addCatalog(f)

	text, isErr := call(t, h, "describe_service", map[string]any{"service": "whispr"})
	assert.False(t, isErr, "not found is a soft failure")
	assert.Contains(t, text, `Service "whispr" not found.`)
	assert.Contains(t, text, "Did you mean:\n- whisper\n")
	assert.Contains(t, text, "Use list_services")
	assert.NotContains(t, text, "llama-3-1-8b-internal")
}
