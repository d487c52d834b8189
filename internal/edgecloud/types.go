package edgecloud

import (
	"bytes"
	"encoding/json"
)

// ServiceState is the visibility of a service in the catalog.
type ServiceState string

const (
	ServiceStatePublic   ServiceState = "public"
	ServiceStateInternal ServiceState = "internal"
)

// Service is a remotely hosted model exposed under an alias.
type Service struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	Alias             string                     `json:"alias"`
	State             ServiceState               `json:"state"`
	TemplateID        string                     `json:"template_id,omitempty"`
	WorkloadType      string                     `json:"workload_type,omitempty"`
	Predictions       map[string]Prediction      `json:"predictions"`
	DefaultPrediction string                     `json:"default_prediction"`
	MinVRAM           float64                    `json:"min_vram,omitempty"`
	MinRAM            float64                    `json:"min_ram,omitempty"`
	Executions        int64                      `json:"executions,omitempty"`
	Rank              int                        `json:"rank,omitempty"`
	VariantTemplates  map[string]VariantTemplate `json:"variant_templates,omitempty"`
	CreateTime        string                     `json:"create_time,omitempty"`
	UpdateTime        string                     `json:"update_time,omitempty"`
}

// Default returns the service's default prediction, if it is declared.
func (s Service) Default() (Prediction, bool) {
	if s.Predictions == nil {
		return Prediction{}, false
	}
	p, ok := s.Predictions[s.DefaultPrediction]
	return p, ok
}

// Prediction is one invocation mode of a service.
type Prediction struct {
	Rank              int      `json:"rank,omitempty"`
	FuncType          string   `json:"func_type,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	Cost              float64  `json:"cost,omitempty"`
	CostDivisor       float64  `json:"cost_divisor,omitempty"`
	InputVars         VarSpecs `json:"input_vars,omitempty"`
	OutputVars        VarSpecs `json:"output_vars,omitempty"`
	ExternalPriceTier string   `json:"external_price_tier,omitempty"`
	Variants          []string `json:"variants,omitempty"`
}

// VarSpec describes one input or output variable of a prediction.
type VarSpec struct {
	Name        string `json:"name,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
}

// VarSpecs maps variable name to its spec.
//
// The API serves these as an object keyed by name, but older payloads use a
// list of {name, ...} entries; both decode into the same map.
type VarSpecs map[string]VarSpec

func (v *VarSpecs) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = nil
		return nil
	}
	if b[0] == '[' {
		var list []VarSpec
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		out := make(VarSpecs, len(list))
		for _, s := range list {
			if s.Name == "" {
				continue
			}
			out[s.Name] = s
		}
		*v = out
		return nil
	}
	var m map[string]VarSpec
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	for name, s := range m {
		if s.Name == "" {
			s.Name = name
			m[name] = s
		}
	}
	*v = m
	return nil
}

type VariantTemplate struct {
	TemplateID string  `json:"template_id"`
	MinVRAM    float64 `json:"min_vram,omitempty"`
	MinRAM     float64 `json:"min_ram,omitempty"`
}

// State is the lifecycle state of an infer request. Transitions happen remotely.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// Terminal reports whether no further transitions are expected.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateError
}

// Cost is the credit breakdown of a finished request.
type Cost struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

func (c Cost) Total() float64 { return c.Input + c.Output }

// InferRequest is a snapshot of one submitted inference job.
//
// Input and Output stay as raw JSON: their shape depends on the service.
type InferRequest struct {
	ID         string          `json:"id"`
	ServiceID  string          `json:"service_id,omitempty"`
	ProjectID  string          `json:"project_id,omitempty"`
	State      State           `json:"state"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	Prediction string          `json:"prediction,omitempty"`
	Variant    string          `json:"variant,omitempty"`
	Cost       *Cost           `json:"cost,omitempty"`
	CreateTime string          `json:"create_time,omitempty"`
	UpdateTime string          `json:"update_time,omitempty"`
}

// HasOutput reports whether the request carries a non-null output payload.
func (r InferRequest) HasOutput() bool {
	b := bytes.TrimSpace(r.Output)
	return len(b) > 0 && !bytes.Equal(b, []byte("null"))
}

// OutputFields decodes the output as a JSON object with numbers kept as
// json.Number. It returns false when the output is absent or not an object.
func (r InferRequest) OutputFields() (map[string]any, bool) {
	if !r.HasOutput() {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(r.Output))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// CreateInferRequestParams carries a submission. Wait and Prediction go in the
// query string; the rest goes in the body. Zero values are not sent.
type CreateInferRequestParams struct {
	Input      map[string]any
	Wait       *int
	Prediction string
	Variant    string
	Webhook    string
}

// UploadTarget is a single-use presigned upload destination.
type UploadTarget struct {
	UploadURL string `json:"upload_url"`
	Filename  string `json:"filename"`
}

// PresignedURLResponse maps input field name to its upload target.
type PresignedURLResponse struct {
	URLs map[string]UploadTarget `json:"urls"`
}

// Pagination is returned alongside the service list.
type Pagination struct {
	Page   int `json:"page"`
	Number int `json:"number"`
	Total  int `json:"total"`
}

type envelope[T any] struct {
	Body   T   `json:"body"`
	Status any `json:"status,omitempty"`
}

type serviceListBody struct {
	Services   []Service   `json:"services"`
	Pagination *Pagination `json:"pagination,omitempty"`
}

type inferRequestBody struct {
	InferRequests []InferRequest `json:"infer_requests"`
}
