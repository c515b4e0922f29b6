// Package tools provides the external capabilities the tutor can invoke
// during a turn, the policy that selects them and the dispatcher that runs them.
package tools

import (
	"context"
	"fmt"
	"sort"
)

// Name identifies a tool.
type Name string

// Built-in tools.
const (
	WebLookup       Name = "web_lookup"
	KnowledgeLookup Name = "knowledge_lookup"
	AnalyticsRecord Name = "analytics_record"
)

// Tool is an external capability. The invocation deadline is carried by ctx.
type Tool interface {
	Name() Name
	Invoke(ctx context.Context, params map[string]any) (string, error)
}

// Request asks the dispatcher to run one tool.
type Request struct {
	Tool          Name
	Params        map[string]any
	FireAndForget bool
}

// Registry holds the tools available to the dispatcher.
type Registry struct {
	tools map[Name]Tool
}

// NewRegistry creates a registry containing the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[Name]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the tool registered under name.
func (r *Registry) Get(name Name) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []Name {
	if r == nil {
		return nil
	}
	out := make([]Name, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func stringParam(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string, got %T", key, v)
	}
	return s, nil
}
