// Package tools holds the registry of capabilities the model may invoke.
//
// The registry is a flat map keyed by tool name. Dispatch is a lookup, not a
// switch: adding a tool means registering a descriptor, never touching
// orchestration code. Descriptors are immutable after registration.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Result is a tool's output fed back to the model.
type Result struct {
	Content string
	IsError bool
}

// Handler executes one tool call with schema-validated input.
type Handler func(ctx context.Context, input json.RawMessage) (*Result, error)

// RateLimit is a per-tool quota. Nil means the tool has no limit of its own
// beyond the global chat limit.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// Descriptor describes one registered tool. Immutable after registration.
type Descriptor struct {
	// Name is the unique registry key and the name advertised to the model.
	Name string

	// Description is shown to the model alongside the schema.
	Description string

	// Schema is the JSON schema for the tool's input.
	Schema json.RawMessage

	// CostUnits is the declared cost of one invocation. Recorded for
	// observability and audit; not a billing figure.
	CostUnits int

	// RateLimit is the tool's own quota, checked in addition to the global
	// chat limit.
	RateLimit *RateLimit

	// Available reports whether the tool can currently run. Evaluated at
	// list time so tools with missing credentials are simply not advertised.
	// Nil means always available.
	Available func() bool

	// NeedsSandbox marks tools that execute inside an isolated environment.
	NeedsSandbox bool

	// Handler runs the tool.
	Handler Handler

	compiled *jsonschema.Schema
}

// ValidateInput checks input against the tool's schema.
func (d *Descriptor) ValidateInput(input json.RawMessage) error {
	if d.compiled == nil {
		return nil
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return &InvalidInputError{Name: d.Name, Err: err}
	}
	if err := d.compiled.Validate(decoded); err != nil {
		return &InvalidInputError{Name: d.Name, Err: err}
	}
	return nil
}

func (d *Descriptor) available() bool {
	return d.Available == nil || d.Available()
}

// Registry maps tool names to descriptors.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Descriptor)}
}

// Register adds a descriptor, compiling its schema. Registration happens at
// startup; a duplicate name or invalid schema is a boot error.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil || d.Name == "" {
		return fmt.Errorf("tool descriptor requires a name")
	}
	if d.Handler == nil {
		return fmt.Errorf("tool %q requires a handler", d.Name)
	}

	if len(d.Schema) > 0 {
		compiled, err := jsonschema.CompileString(d.Name+".schema.json", string(d.Schema))
		if err != nil {
			return fmt.Errorf("tool %q has an invalid schema: %w", d.Name, err)
		}
		d.compiled = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return &DuplicateToolError{Name: d.Name}
	}
	r.tools[d.Name] = d
	return nil
}

// Resolve returns the descriptor for name. A registered but currently
// unavailable tool yields an UnavailableToolError.
func (r *Registry) Resolve(name string) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	if !d.available() {
		return nil, &UnavailableToolError{Name: name}
	}
	return d, nil
}

// ListAvailable returns the currently available descriptors, sorted by name.
// Availability predicates are evaluated on every call rather than cached:
// the list handed to the provider must reflect live config, so a missing
// credential removes a tool instead of producing dispatch failures.
func (r *Registry) ListAvailable() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		if d.available() {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools, available or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
