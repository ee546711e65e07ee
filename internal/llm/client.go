package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/youruser/patchwork/internal/logging"
)

var (
	ErrRequestFailed = errors.New("API request failed")
	ErrStreamError   = errors.New("stream error")
	log              = logging.Get()
)

const defaultRequestTimeout = 30 * time.Second

// Client handles communication with the LLM API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	provider    Provider
	temperature float64
	maxTokens   int
}

// NewClient creates a new LLM client for the named provider.
func NewClient(baseURL, apiKey, providerName string, temperature float64, maxTokens int) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{},
		provider:    LookupProvider(providerName),
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Provider returns the provider this client was built with.
func (c *Client) Provider() Provider {
	return c.provider
}

// StreamCallback is called for each event in the stream.
type StreamCallback func(event StreamEvent)

func (c *Client) buildBody(model, systemPrompt string, messages []Message, stream bool) ([]byte, error) {
	allMessages := make([]Message, 0, len(messages)+1)
	allMessages = append(allMessages, Message{
		Role:    "system",
		Content: systemPrompt + "\n" + c.provider.SystemPrompt(),
	})
	allMessages = append(allMessages, messages...)

	body := map[string]any{
		"model":       model,
		"messages":    allMessages,
		"stream":      stream,
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
	}
	if stream {
		for k, v := range c.provider.ExtraParams() {
			body[k] = v
		}
	}
	return json.Marshal(body)
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// ChatStream sends a chat request and streams the response. The callback
// receives any number of delta events followed by exactly one complete or
// error event. Cancellation via ctx stops the decode loop between line
// reads; no terminal event is delivered for a canceled call.
func (c *Client) ChatStream(ctx context.Context, model, systemPrompt string, messages []Message, callback StreamCallback) error {
	bodyBytes, err := c.buildBody(model, systemPrompt, messages, true)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, bodyBytes)
	if err != nil {
		return err
	}

	log.Debug("HTTP POST %s/chat/completions (model: %s, messages: %d, provider: %s)",
		c.baseURL, model, len(messages), c.provider.Name())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return err
	}
	defer resp.Body.Close()

	log.Debug("HTTP response status: %d", resp.StatusCode)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	return c.processStream(ctx, resp.Body, callback)
}

// processStream decodes SSE frames and calls the callback for each event.
func (c *Client) processStream(ctx context.Context, reader io.Reader, callback StreamCallback) error {
	decoder := NewFrameDecoder(reader)
	var full strings.Builder
	var lastUsage *Usage
	log.Debug("Starting SSE stream processing")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, ok, err := decoder.Next()
		if err != nil {
			// When the context is canceled (user abort), the HTTP body
			// closes and the decoder sees an IO error. Return the context
			// error so callers can detect the cancellation.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error("SSE decode error: %v", err)
			callback(StreamEvent{Type: EventError, Error: err.Error()})
			return fmt.Errorf("%w: %v", ErrStreamError, err)
		}
		if !ok {
			break
		}

		if msg := ExtractStringField(payload, "error", "message"); msg != "" {
			log.Error("API stream error: %s", msg)
			callback(StreamEvent{Type: EventError, Error: msg})
			return fmt.Errorf("%w: %s", ErrStreamError, msg)
		}

		if u := captureUsage(payload); u != nil {
			lastUsage = u
			log.Debug("Captured usage: prompt=%d, completion=%d", u.PromptTokens, u.CompletionTokens)
		}

		delta := c.provider.ParseDelta(payload)
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		callback(StreamEvent{Type: EventDelta, Content: delta})
	}

	log.Debug("SSE stream complete (%d bytes)", full.Len())
	callback(StreamEvent{Type: EventComplete, FullText: full.String(), Usage: lastUsage})
	return nil
}

// captureUsage pulls a usage object out of a stream chunk when present.
// Usage chunks are well-formed standalone JSON, so a real decode is safe
// here; chunks without usage are skipped cheaply.
func captureUsage(payload string) *Usage {
	if !strings.Contains(payload, `"usage"`) {
		return nil
	}
	var chunk struct {
		Usage *Usage `json:"usage"`
	}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil
	}
	return chunk.Usage
}

// ChatSimple sends a non-streaming chat request and returns the assistant's
// content, extracted with the same tolerant scanner used for stream
// fragments. Never returns an empty string for a 200 response: extraction
// failure yields a diagnostic preview of the raw payload.
func (c *Client) ChatSimple(model, systemPrompt string, messages []Message) (string, error) {
	bodyBytes, err := c.buildBody(model, systemPrompt, messages, false)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
	defer cancel()

	req, err := c.newRequest(ctx, bodyBytes)
	if err != nil {
		return "", err
	}

	log.Debug("HTTP POST %s/chat/completions (simple, model: %s)", c.baseURL, model)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("HTTP request failed: %v", err)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Error("API error %d: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("%w: %d - %s", ErrRequestFailed, resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	return ExtractMessageContent(string(body)), nil
}
