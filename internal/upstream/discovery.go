package upstream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcpproxy/mcpproxy/internal/registry"
)

// discovered holds one upstream's freshly-discovered capabilities, ready
// to hand to the registry's register calls.
type discovered struct {
	tools     []registry.Tool
	resources []registry.Resource
	prompts   []registry.Prompt
}

// discoverCapabilities issues tools/list, resources/list, and
// prompts/list concurrently and waits for all to settle. Each category's
// failure is independent and non-fatal: it yields an empty set for that
// category only (spec.md §4.2).
func discoverCapabilities(ctx context.Context, name string, session *mcp.ClientSession) discovered {
	var (
		wg  sync.WaitGroup
		out discovered
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		res, err := session.ListTools(ctx, nil)
		if err != nil {
			slog.Warn("tool discovery failed", "upstream", name, "err", err)
			return
		}
		out.tools = make([]registry.Tool, 0, len(res.Tools))
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			out.tools = append(out.tools, registry.Tool{
				Upstream:    name,
				OriginalID:  t.Name,
				PrefixedID:  registry.AddPrefix(name, t.Name),
				Description: t.Description,
				InputSchema: normalizeInputSchema(t.InputSchema),
			})
		}
	}()

	go func() {
		defer wg.Done()
		res, err := session.ListResources(ctx, nil)
		if err != nil {
			slog.Warn("resource discovery failed", "upstream", name, "err", err)
			return
		}
		out.resources = make([]registry.Resource, 0, len(res.Resources))
		for _, r := range res.Resources {
			if r == nil {
				continue
			}
			out.resources = append(out.resources, registry.Resource{
				Upstream:    name,
				URI:         r.URI,
				PrefixedURI: registry.AddPrefix(name, r.URI),
				Name:        r.Name,
				Description: r.Description,
				MIMEType:    r.MIMEType,
			})
		}
	}()

	go func() {
		defer wg.Done()
		res, err := session.ListPrompts(ctx, nil)
		if err != nil {
			slog.Warn("prompt discovery failed", "upstream", name, "err", err)
			return
		}
		out.prompts = make([]registry.Prompt, 0, len(res.Prompts))
		for _, p := range res.Prompts {
			if p == nil {
				continue
			}
			args := make([]registry.PromptArgument, 0, len(p.Arguments))
			for _, a := range p.Arguments {
				if a == nil {
					continue
				}
				args = append(args, registry.PromptArgument{Name: a.Name, Description: a.Description, Required: a.Required})
			}
			out.prompts = append(out.prompts, registry.Prompt{
				Upstream:    name,
				OriginalID:  p.Name,
				PrefixedID:  registry.AddPrefix(name, p.Name),
				Description: p.Description,
				Arguments:   args,
			})
		}
	}()

	wg.Wait()
	slog.Info("discovery completed", "upstream", name,
		"tools", len(out.tools), "resources", len(out.resources), "prompts", len(out.prompts))
	return out
}

// normalizeInputSchema applies spec.md §4.2's tool-entry normalization to
// a tool's input schema: an object schema is reduced to {type:"object",
// properties, required}; if the object carries a "parameters" member, that
// member is returned as-is instead; a schema that is not an object is
// replaced by a default empty object schema.
func normalizeInputSchema(schema any) any {
	m, ok := schema.(map[string]any)
	if !ok {
		return defaultSchema()
	}
	if params, ok := m["parameters"]; ok {
		return params
	}
	properties, _ := m["properties"].(map[string]any)
	if properties == nil {
		properties = map[string]any{}
	}
	required, _ := m["required"].([]any)
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func defaultSchema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}}
}
