package llm

// Message is one chat turn in the OpenAI-compatible wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
}

// Usage contains token usage information from the API response, typically
// delivered in the final stream chunk.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	Cost             float64 `json:"cost,omitempty"` // In USD, if provided by API
}

// Stream event types. Any number of EventDelta are followed by exactly one
// of EventComplete or EventError; cancellation may truncate the sequence.
const (
	EventDelta    = "delta"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is the contract delivered to a stream consumer.
type StreamEvent struct {
	Type     string // EventDelta, EventComplete or EventError
	Content  string // for delta events
	FullText string // for complete events: the accumulated response
	Error    string // for error events
	Usage    *Usage // for complete events, if the API reported usage
}
