package llm

import "testing"

func TestLookupProviderBuiltins(t *testing.T) {
	if got := LookupProvider("openai").Name(); got != "openai" {
		t.Errorf("openai lookup returned %q", got)
	}
	if got := LookupProvider("anthropic").Name(); got != "anthropic" {
		t.Errorf("anthropic lookup returned %q", got)
	}
}

func TestLookupProviderUnknownFallsBack(t *testing.T) {
	if got := LookupProvider("mistral").Name(); got != "openai" {
		t.Errorf("unknown provider should fall back to openai, got %q", got)
	}
}

func TestProviderParseDelta(t *testing.T) {
	openai := LookupProvider("openai")
	if got := openai.ParseDelta(`{"choices":[{"delta":{"content":"abc"}}]}`); got != "abc" {
		t.Errorf("openai delta = %q", got)
	}
	if got := openai.ParseDelta(`{"choices":[{"delta":{"role":"assistant"}}]}`); got != "" {
		t.Errorf("role-only chunk should yield no delta, got %q", got)
	}

	anthropic := LookupProvider("anthropic")
	if got := anthropic.ParseDelta(`{"delta":{"type":"text_delta","text":"xyz"}}`); got != "xyz" {
		t.Errorf("anthropic delta = %q", got)
	}
}

type fakeProvider struct{}

func (fakeProvider) Name() string                { return "fake" }
func (fakeProvider) SystemPrompt() string        { return "" }
func (fakeProvider) ExtraParams() map[string]any { return nil }
func (fakeProvider) ParseDelta(string) string    { return "" }

func TestRegisterProvider(t *testing.T) {
	RegisterProvider(fakeProvider{})
	if got := LookupProvider("fake").Name(); got != "fake" {
		t.Errorf("registered provider not found, got %q", got)
	}
}
