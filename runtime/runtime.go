// Package runtime hides the agent brain behind a small interface with
// pluggable backends. The host backend shells out to the host agent tool,
// the generic backend runs an operator-supplied command, and the api backend
// calls the Anthropic Messages API directly. The Adapter chains them with
// deterministic fallbacks so a turn never fails the calling pipeline.
package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
)

// ErrUnsupported is returned by a backend for operations it does not
// implement; the adapter moves on to the next backend in the chain.
var ErrUnsupported = errors.New("operation not supported by this runtime")

// TurnRequest asks a runtime for one conversational reply.
type TurnRequest struct {
	// SessionID keys any per-conversation state a backend keeps. It is the
	// conversation id.
	SessionID string

	// Prompt is the composed system prompt.
	Prompt string

	// Message is the inbound caller message for this turn.
	Message string

	// Caller identifies the remote agent. Untrusted.
	Caller a2a.CallerInfo

	// Context is a rendered view of the recent conversation.
	Context string

	// AllowedTopics are the topics the presented token grants.
	AllowedTopics []string

	// Timeout bounds the turn. Zero means the caller's context governs.
	Timeout time.Duration
}

// SummaryRequest asks a runtime to summarize a concluded conversation.
type SummaryRequest struct {
	SessionID    string
	Prompt       string
	Messages     []*convstore.Message
	Caller       a2a.CallerInfo
	OwnerContext string
}

// Notification is an owner-facing event dispatched fire-and-forget.
type Notification struct {
	Event          string          `json:"event"`
	Level          a2a.NotifyLevel `json:"level"`
	TokenID        string          `json:"token_id,omitempty"`
	Caller         a2a.CallerInfo  `json:"caller"`
	Message        string          `json:"message"`
	ConversationID string          `json:"conversation_id,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
}

// Runtime is one agent-brain backend.
type Runtime interface {
	// Name identifies the backend in logs.
	Name() string

	// RunTurn produces the reply text for one turn.
	RunTurn(ctx context.Context, req TurnRequest) (string, error)

	// Summarize produces the structured conclusion summary.
	Summarize(ctx context.Context, req SummaryRequest) (*a2a.Summary, error)

	// Notify delivers an owner notification.
	Notify(ctx context.Context, n Notification) error
}
