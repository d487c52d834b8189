package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// toolSchemas maps a tool name to its compiled input schema.
type toolSchemas map[string]*jsonschema.Schema

// compileToolSchemas compiles every tool's input schema in one compiler.
// Each schema is registered as "<tool>.json".
func compileToolSchemas(defs []mcp.Tool) (toolSchemas, error) {
	c := jsonschema.NewCompiler()
	for _, d := range defs {
		raw, ok := d.InputSchema.(json.RawMessage)
		if !ok {
			return nil, fmt.Errorf("tool %s: input schema is %T, want raw JSON", d.Name, d.InputSchema)
		}
		if err := c.AddResource(d.Name+".json", bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("tool %s: %w", d.Name, err)
		}
	}

	out := make(toolSchemas, len(defs))
	for _, d := range defs {
		s, err := c.Compile(d.Name + ".json")
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", d.Name, err)
		}
		out[d.Name] = s
	}
	return out, nil
}

// check validates raw arguments for the named tool. A failure is reported as
// "<instance location>: <message>" of the deepest first cause.
func (ts toolSchemas) check(name string, args json.RawMessage) error {
	s, ok := ts[name]
	if !ok {
		return fmt.Errorf("no schema for %s", name)
	}

	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	err := s.Validate(v)
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	if ve.Message == "" {
		return fmt.Errorf("%s: %s", loc, ve.Error())
	}
	return fmt.Errorf("%s: %s", loc, ve.Message)
}
