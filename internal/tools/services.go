package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golovatskygroup/edgecloud-mcp/internal/edgecloud"
	"github.com/golovatskygroup/edgecloud-mcp/internal/registry"
)

const noDescription = "No description available"

type ListServicesInput struct {
	Category string `json:"category,omitempty"`
}

type DescribeServiceInput struct {
	Service string `json:"service"`
}

// serviceSummary is one catalog entry as shown to the caller.
type serviceSummary struct {
	Alias        string
	Name         string
	Description  string
	Category     string
	InputExample map[string]any
	Variants     []string
}

// catalogTimeout bounds a shared catalog fetch, which no single caller can cancel.
const catalogTimeout = 2 * time.Minute

// publicServices fetches the catalog and keeps public services. Concurrent
// callers share one upstream request; each caller still returns as soon as
// its own context is done.
func (h *Handler) publicServices(ctx context.Context) ([]edgecloud.Service, error) {
	api, err := h.client()
	if err != nil {
		return nil, err
	}
	ch := h.catalog.DoChan("services", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogTimeout)
		defer cancel()
		all, err := api.ListServices(fctx)
		if err != nil {
			return nil, err
		}
		public := make([]edgecloud.Service, 0, len(all))
		for _, s := range all {
			if s.State == edgecloud.ServiceStatePublic {
				public = append(public, s)
			}
		}
		return public, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.([]edgecloud.Service), nil
	}
}

func (h *Handler) listServices(ctx context.Context, args json.RawMessage) (string, error) {
	var input ListServicesInput
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}

	services, err := h.publicServices(ctx)
	if err != nil {
		return "", err
	}

	filter := strings.ToLower(input.Category)
	var summaries []serviceSummary
	for _, s := range services {
		cat := h.registry.Categorize(s.Alias)
		if filter != "" && cat != filter {
			continue
		}
		summaries = append(summaries, serviceSummary{
			Alias:        s.Alias,
			Name:         s.Name,
			Description:  description(s),
			Category:     cat,
			InputExample: inputExample(s),
			Variants:     variants(s),
		})
	}

	// Categories appear in the order their first service does.
	var order []string
	byCategory := map[string][]serviceSummary{}
	for _, s := range summaries {
		if _, ok := byCategory[s.Category]; !ok {
			order = append(order, s.Category)
		}
		byCategory[s.Category] = append(byCategory[s.Category], s)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d available services:\n\n", len(summaries))
	for _, cat := range order {
		fmt.Fprintf(&sb, "## %s\n\n", strings.ToUpper(cat))
		for _, s := range byCategory[cat] {
			fmt.Fprintf(&sb, "### %s (%s)\n", s.Name, s.Alias)
			fmt.Fprintf(&sb, "%s\n", s.Description)
			if s.Variants != nil {
				fmt.Fprintf(&sb, "Variants: %s\n", strings.Join(s.Variants, ", "))
			}
			fmt.Fprintf(&sb, "Example input: %s\n\n", prettyJSON(s.InputExample))
		}
	}
	return sb.String(), nil
}

func (h *Handler) describeService(ctx context.Context, args json.RawMessage) (string, error) {
	var input DescribeServiceInput
	if err := decodeArgs(args, &input); err != nil {
		return "", err
	}
	api, err := h.client()
	if err != nil {
		return "", err
	}

	svc, err := api.GetService(ctx, input.Service)
	if errors.Is(err, edgecloud.ErrNotFound) {
		return h.serviceNotFound(ctx, input.Service), nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s (%s)\n\n", svc.Name, svc.Alias)
	fmt.Fprintf(&sb, "State: %s\n", svc.State)
	fmt.Fprintf(&sb, "Category: %s\n", h.registry.Categorize(svc.Alias))
	if svc.DefaultPrediction != "" {
		fmt.Fprintf(&sb, "Default prediction: %s\n", svc.DefaultPrediction)
	}

	for _, name := range predictionNames(*svc) {
		p := svc.Predictions[name]
		fmt.Fprintf(&sb, "\n### Prediction: %s\n", name)
		if p.Instructions != "" {
			fmt.Fprintf(&sb, "%s\n", p.Instructions)
		} else {
			fmt.Fprintf(&sb, "%s\n", noDescription)
		}
		if p.Cost > 0 {
			fmt.Fprintf(&sb, "Cost: %s credits\n", formatNumber(p.Cost))
		}
		if len(p.Variants) > 0 {
			fmt.Fprintf(&sb, "Variants: %s\n", strings.Join(p.Variants, ", "))
		}
		writeVars(&sb, "Inputs", p.InputVars)
		writeVars(&sb, "Outputs", p.OutputVars)
	}

	fmt.Fprintf(&sb, "\nExample input: %s\n", prettyJSON(inputExample(*svc)))
	return sb.String(), nil
}

// serviceNotFound is a soft failure: the caller gets text with the closest
// public aliases instead of an error. Suggestions come from a fresh catalog
// fetch; when that fails the text simply has none.
func (h *Handler) serviceNotFound(ctx context.Context, alias string) string {
	var sugg []string
	if services, err := h.publicServices(ctx); err != nil {
		h.log.Debug().Err(err).Msg("catalog fetch for suggestions failed")
	} else {
		entries := make([]registry.Entry, 0, len(services))
		for _, s := range services {
			entries = append(entries, registry.Entry{
				Alias:       s.Alias,
				Name:        s.Name,
				Description: description(s),
			})
		}
		sugg = h.registry.Index(entries).Suggest(alias, 5)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Service %q not found.\n", alias)
	if len(sugg) > 0 {
		sb.WriteString("\nDid you mean:\n")
		for _, s := range sugg {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	sb.WriteString("\nUse list_services to see available services.\n")
	return sb.String()
}

func writeVars(sb *strings.Builder, title string, vars edgecloud.VarSpecs) {
	if len(vars) == 0 {
		return
	}
	fmt.Fprintf(sb, "%s:\n", title)
	names := make([]string, 0, len(vars))
	for n := range vars {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := vars[n]
		attrs := []string{v.Type}
		if v.Required {
			attrs = append(attrs, "required")
		}
		fmt.Fprintf(sb, "- %s (%s)", n, strings.Join(attrs, ", "))
		if v.Description != "" {
			fmt.Fprintf(sb, ": %s", v.Description)
		}
		if v.Default != nil {
			fmt.Fprintf(sb, " [default: %s]", scalarString(v.Default))
		}
		sb.WriteString("\n")
	}
}

// predictionNames lists the default prediction first, then the rest by name.
func predictionNames(s edgecloud.Service) []string {
	names := make([]string, 0, len(s.Predictions))
	for n := range s.Predictions {
		if n != s.DefaultPrediction {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	if _, ok := s.Predictions[s.DefaultPrediction]; ok {
		names = append([]string{s.DefaultPrediction}, names...)
	}
	return names
}

func description(s edgecloud.Service) string {
	if p, ok := s.Default(); ok && p.Instructions != "" {
		return p.Instructions
	}
	return noDescription
}

// variants is non-nil only when the default prediction offers a real choice.
func variants(s edgecloud.Service) []string {
	p, ok := s.Default()
	if !ok || len(p.Variants) <= 1 {
		return nil
	}
	return p.Variants
}

// inputExample builds a placeholder input object from the default prediction.
func inputExample(s edgecloud.Service) map[string]any {
	example := map[string]any{}
	p, ok := s.Default()
	if !ok {
		return example
	}
	for name, v := range p.InputVars {
		example[name] = exampleValue(name, v)
	}
	return example
}

func exampleValue(name string, v edgecloud.VarSpec) any {
	switch v.Type {
	case "string":
		switch {
		case strings.Contains(name, "url") || strings.Contains(name, "filename"):
			return "https://example.com/file"
		case name == "prompt":
			return "Your prompt here"
		}
		return orDefault(v.Default, "string value")
	case "number", "integer":
		return orDefault(v.Default, 1)
	case "boolean":
		return orDefault(v.Default, false)
	case "array":
		return orDefault(v.Default, []any{})
	default:
		return orDefault(v.Default, nil)
	}
}

// orDefault returns def unless d is set. Zero, empty string and false count
// as unset.
func orDefault(d, def any) any {
	switch x := d.(type) {
	case nil:
		return def
	case bool:
		if !x {
			return def
		}
	case string:
		if x == "" {
			return def
		}
	case float64:
		if x == 0 {
			return def
		}
	}
	return d
}
