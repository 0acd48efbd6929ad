// Package tool defines the Tool contract the agent run loop consumes
// (spec.md §6): name, description, a JSON Schema for arguments, and an
// Execute function. Schema validation is grounded on the teacher's
// validatePayloadJSONAgainstSchema helper (registry/service.go), backed
// by the same santhosh-tekuri/jsonschema/v6 compiler.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Reynold-degenracy/EverMindAgent/internal/contentmodel"
)

// Tool is one callable the agent run loop may invoke in response to a
// model tool call.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema document describing accepted args.
	Parameters json.RawMessage
	Execute    func(ctx context.Context, args json.RawMessage, toolContext any) contentmodel.ToolResult
}

// NameEmaReply is the distinguished reply tool special-cased by the run
// loop (spec.md §4.3): its successful result is parsed as the agent's
// user-visible reply and published as emaReplyReceived instead of being
// retained verbatim in the stored tool message.
const NameEmaReply = "ema_reply"

// ValidateArgs checks args against t.Parameters, when a schema is set. A
// nil/empty Parameters means no validation is performed, matching the
// teacher's "no schema to validate against" short-circuit.
func (t Tool) ValidateArgs(args json.RawMessage) error {
	if len(t.Parameters) == 0 {
		return nil
	}
	var schemaDoc any
	if err := json.Unmarshal(t.Parameters, &schemaDoc); err != nil {
		return fmt.Errorf("tool: unmarshal schema for %q: %w", t.Name, err)
	}
	var argsDoc any
	if err := json.Unmarshal(args, &argsDoc); err != nil {
		return fmt.Errorf("tool: unmarshal args for %q: %w", t.Name, err)
	}
	c := jsonschema.NewCompiler()
	resourceName := "tool:" + t.Name
	if err := c.AddResource(resourceName, schemaDoc); err != nil {
		return fmt.Errorf("tool: add schema resource for %q: %w", t.Name, err)
	}
	schema, err := c.Compile(resourceName)
	if err != nil {
		return fmt.Errorf("tool: compile schema for %q: %w", t.Name, err)
	}
	if err := schema.Validate(argsDoc); err != nil {
		return fmt.Errorf("tool: validate args for %q: %w", t.Name, err)
	}
	return nil
}

// Registry resolves tool calls by name (spec.md §4.3, step 5: "Resolve
// tool by name; if unknown, synthesize a failure ToolResult").
type Registry struct {
	byName map[string]Tool
}

// NewRegistry builds a Registry from the given tools. Later entries with
// a duplicate name overwrite earlier ones.
func NewRegistry(tools []Tool) *Registry {
	r := &Registry{byName: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.byName[t.Name] = t
	}
	return r
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns every registered tool, for handing to the LLM client as
// the available tool set.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	return out
}
