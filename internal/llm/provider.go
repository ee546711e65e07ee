package llm

import "sync"

// Provider adapts one model backend's wire format. New backends register an
// implementation; the client core never switches on provider names.
type Provider interface {
	// Name is the registry key, e.g. "openai".
	Name() string
	// SystemPrompt returns provider-specific guidance appended to the base
	// system prompt.
	SystemPrompt() string
	// ExtraParams returns additional request-body fields for this backend.
	ExtraParams() map[string]any
	// ParseDelta extracts the text delta from one raw stream fragment.
	// Returns "" for fragments that carry no content.
	ParseDelta(fragment string) string
}

var (
	providersMu sync.RWMutex
	providers   = make(map[string]Provider)
)

// RegisterProvider adds a provider to the registry, replacing any previous
// registration under the same name.
func RegisterProvider(p Provider) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[p.Name()] = p
}

// LookupProvider returns the provider registered under name, falling back
// to the OpenAI-compatible provider for unknown names.
func LookupProvider(name string) Provider {
	providersMu.RLock()
	defer providersMu.RUnlock()
	if p, ok := providers[name]; ok {
		return p
	}
	return providers["openai"]
}

func init() {
	RegisterProvider(openAIProvider{})
	RegisterProvider(anthropicProvider{})
}

const structuredOutputPrompt = `Respond with a single JSON object in a ` + "```json" + ` fenced block with keys:
"plan" (array of step strings), "changes" (array of {"file","diff","reason","action"}),
"commands" (array), "risks" (array), "summary" (string).
Each "diff" is a standard unified diff (--- a/path, +++ b/path, @@ hunks).`

// openAIProvider speaks the OpenAI chat-completions stream format:
// content deltas arrive at choices[].delta.content.
type openAIProvider struct{}

func (openAIProvider) Name() string { return "openai" }

func (openAIProvider) SystemPrompt() string { return structuredOutputPrompt }

func (openAIProvider) ExtraParams() map[string]any {
	return map[string]any{
		"stream_options": map[string]any{"include_usage": true},
	}
}

func (openAIProvider) ParseDelta(fragment string) string {
	return ExtractStringField(fragment, "delta", "content")
}

// anthropicProvider speaks the Anthropic messages stream format:
// content deltas arrive at delta.text.
type anthropicProvider struct{}

func (anthropicProvider) Name() string { return "anthropic" }

func (anthropicProvider) SystemPrompt() string { return structuredOutputPrompt }

func (anthropicProvider) ExtraParams() map[string]any { return nil }

func (anthropicProvider) ParseDelta(fragment string) string {
	return ExtractStringField(fragment, "delta", "text")
}
