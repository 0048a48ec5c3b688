package llm

import "errors"

// Role represents the role of a message sender in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Purpose tags a request with the pipeline stage that issued it. Providers
// ignore it; wrappers use it for metrics and test fakes route on it.
type Purpose string

const (
	PurposeClassify   Purpose = "classify"
	PurposeGenerate   Purpose = "generate"
	PurposeSynthesize Purpose = "synthesize"
)

// ErrUpstream marks a failure of the completion service itself: transport
// errors, non-2xx responses and undecodable bodies.
var ErrUpstream = errors.New("llm upstream failure")

// Message represents a single message in a conversation.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest contains the parameters for an LLM completion request.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONMode    bool
	Purpose     Purpose
}

// CompletionResponse contains the result of an LLM completion request.
type CompletionResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	FinishReason string
}

// Prompt builds the common system+user message pair.
func Prompt(system, user string) []Message {
	msgs := make([]Message, 0, 2)
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}
