package registry

// Tool is a capability record for a tool advertised by an upstream
// (spec.md §3).
type Tool struct {
	Upstream    string
	OriginalID  string
	PrefixedID  string
	Description string
	InputSchema any
}

// Resource is a capability record for a resource advertised by an
// upstream. The original id is the resource's URI.
type Resource struct {
	Upstream    string
	URI         string
	PrefixedURI string
	Name        string
	Description string
	MIMEType    string
}

// Prompt is a capability record for a prompt advertised by an upstream.
type Prompt struct {
	Upstream    string
	OriginalID  string
	PrefixedID  string
	Description string
	Arguments   []PromptArgument
}

// PromptArgument describes one argument a prompt accepts.
type PromptArgument struct {
	Name        string
	Description string
	Required    bool
}
