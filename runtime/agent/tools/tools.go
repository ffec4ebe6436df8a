// Package tools defines the minimal tool-definition and execution contract
// the reasoning loop dispatches ToolCall actions against.
//
// The prior generation of this package derived ToolSpec from a DSL/codegen
// pipeline (ServerData, Confirmation, Paging metadata) that this runtime
// does not carry forward. This package keeps only Ident — the donor
// codebase's handle type for addressing a tool — and replaces the rest
// with a flat {name, description, parameters} shape, validated against its
// JSON Schema with santhosh-tekuri/jsonschema.
package tools

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Definition describes a tool the model may call: its name, a
// natural-language description used in prompting, and a JSON Schema
// constraining its arguments.
type Definition struct {
	Name        Ident
	Description string
	// Parameters is the tool's argument JSON Schema, as a decoded
	// map[string]any (the shape jsonschema.Compile accepts via
	// jsonschema.UnmarshalJSON / AddResource).
	Parameters map[string]any
}

// Executor dispatches a validated tool call and returns its observation.
// Implementations should classify failures using toolerrors.ToolError so
// the loop can distinguish transient from fatal tool failures.
type Executor interface {
	// Execute runs the named tool with already-validated arguments and
	// returns its observation content.
	Execute(ctx context.Context, name Ident, arguments map[string]any) (string, error)
}

// ExecutorFunc adapts a function to an Executor.
type ExecutorFunc func(ctx context.Context, name Ident, arguments map[string]any) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, name Ident, arguments map[string]any) (string, error) {
	return f(ctx, name, arguments)
}

// Registry holds tool Definitions and their compiled schemas, and validates
// proposed arguments before dispatch.
type Registry struct {
	defs    map[Ident]Definition
	schemas map[Ident]*jsonschema.Schema
}

// NewRegistry compiles every definition's Parameters schema up front so a
// malformed schema is rejected at registration time, not at call time.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:    make(map[Ident]Definition, len(defs)),
		schemas: make(map[Ident]*jsonschema.Schema, len(defs)),
	}
	for _, d := range defs {
		compiler := jsonschema.NewCompiler()
		resourceURL := "mem://tools/" + string(d.Name) + ".json"
		if err := compiler.AddResource(resourceURL, d.Parameters); err != nil {
			return nil, fmt.Errorf("tools: add schema resource for %q: %w", d.Name, err)
		}
		schema, err := compiler.Compile(resourceURL)
		if err != nil {
			return nil, fmt.Errorf("tools: compile schema for %q: %w", d.Name, err)
		}
		r.defs[d.Name] = d
		r.schemas[d.Name] = schema
	}
	return r, nil
}

// Lookup returns the Definition for name, if registered.
func (r *Registry) Lookup(name Ident) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// Definitions returns all registered definitions, for inclusion in a Reason
// phase's inference request.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// Validate checks arguments against name's compiled schema. An unregistered
// tool name is always a validation error.
func (r *Registry) Validate(name Ident, arguments map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("tools: unknown tool %q", name)
	}
	if err := schema.Validate(arguments); err != nil {
		return fmt.Errorf("tools: arguments for %q: %w", name, err)
	}
	return nil
}
