package runtime

import (
	"encoding/json"
	"strings"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
)

// payload is the JSON document written to the stdin of host and generic
// commands. Kind distinguishes the operation.
type payload struct {
	Kind           string          `json:"kind"`
	SessionID      string          `json:"session_id,omitempty"`
	Prompt         string          `json:"prompt,omitempty"`
	Message        string          `json:"message,omitempty"`
	Caller         *a2a.CallerInfo `json:"caller,omitempty"`
	Context        string          `json:"context,omitempty"`
	AllowedTopics  []string        `json:"allowed_topics,omitempty"`
	Messages       []payloadMsg    `json:"messages,omitempty"`
	OwnerContext   string          `json:"owner_context,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	TraceID        string          `json:"trace_id,omitempty"`
	Level          string          `json:"level,omitempty"`
	Event          string          `json:"event,omitempty"`
}

type payloadMsg struct {
	Direction string `json:"direction"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

func turnPayload(req TurnRequest) payload {
	p := payload{
		Kind:          "turn",
		SessionID:     req.SessionID,
		Prompt:        req.Prompt,
		Message:       req.Message,
		Context:       req.Context,
		AllowedTopics: req.AllowedTopics,
	}
	if req.Caller != (a2a.CallerInfo{}) {
		caller := req.Caller
		p.Caller = &caller
	}
	return p
}

func summaryPayload(req SummaryRequest) payload {
	p := payload{
		Kind:         "summary",
		SessionID:    req.SessionID,
		Prompt:       req.Prompt,
		OwnerContext: req.OwnerContext,
		Messages:     toPayloadMsgs(req.Messages),
	}
	if req.Caller != (a2a.CallerInfo{}) {
		caller := req.Caller
		p.Caller = &caller
	}
	return p
}

func notifyPayload(n Notification) payload {
	p := payload{
		Kind:           "notify",
		Event:          n.Event,
		Level:          string(n.Level),
		Message:        n.Message,
		ConversationID: n.ConversationID,
		TraceID:        n.TraceID,
	}
	if n.Caller != (a2a.CallerInfo{}) {
		caller := n.Caller
		p.Caller = &caller
	}
	return p
}

func toPayloadMsgs(messages []*convstore.Message) []payloadMsg {
	out := make([]payloadMsg, 0, len(messages))
	for _, m := range messages {
		out = append(out, payloadMsg{
			Direction: string(m.Direction),
			Role:      string(m.Role),
			Content:   m.Content,
		})
	}
	return out
}

// parseTurnOutput accepts either plain text or a JSON object carrying the
// reply under response, text or message.
func parseTurnOutput(out []byte) string {
	text := strings.TrimSpace(string(out))
	if !strings.HasPrefix(text, "{") {
		return text
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return text
	}
	for _, key := range []string{"response", "text", "message"} {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return text
}

// parseSummaryOutput accepts a JSON summary object or plain text, which
// becomes the summary line.
func parseSummaryOutput(out []byte) *a2a.Summary {
	text := strings.TrimSpace(string(out))
	if text == "" {
		return &a2a.Summary{}
	}
	if strings.HasPrefix(text, "{") {
		var s a2a.Summary
		if err := json.Unmarshal([]byte(text), &s); err == nil {
			return &s
		}
	}
	return &a2a.Summary{Summary: text}
}
