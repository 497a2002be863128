package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openclaw/a2a"
)

const apiMaxTokens = 1024

// API runs turns directly against the Anthropic Messages API.
type API struct {
	client anthropic.Client
	model  string
}

// NewAPI returns an api-mode runtime using the given key and model.
func NewAPI(apiKey, model string) *API {
	return &API{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *API) Name() string { return "api" }

func (a *API) RunTurn(ctx context.Context, req TurnRequest) (string, error) {
	var user strings.Builder
	if req.Context != "" {
		user.WriteString("Conversation so far:\n")
		user.WriteString(req.Context)
		user.WriteString("\n\n")
	}
	if req.Caller.Name != "" {
		fmt.Fprintf(&user, "Message from %s:\n", req.Caller.Name)
	}
	user.WriteString(req.Message)

	text, err := a.complete(ctx, req.Prompt, user.String())
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("model returned no text")
	}
	return text, nil
}

func (a *API) Summarize(ctx context.Context, req SummaryRequest) (*a2a.Summary, error) {
	var user strings.Builder
	user.WriteString("Summarize the following agent-to-agent conversation. ")
	user.WriteString("Respond with a single JSON object with the keys summary, owner_summary, ")
	user.WriteString("owner_relevance (low/medium/high), owner_action_items, caller_action_items, ")
	user.WriteString("joint_action_items and follow_up. No other text.\n\n")
	if req.OwnerContext != "" {
		fmt.Fprintf(&user, "Owner context: %s\n\n", req.OwnerContext)
	}
	for _, m := range req.Messages {
		fmt.Fprintf(&user, "[%s/%s] %s\n", m.Direction, m.Role, m.Content)
	}

	text, err := a.complete(ctx, req.Prompt, user.String())
	if err != nil {
		return nil, err
	}

	// Models occasionally wrap the object in a code fence.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var summary a2a.Summary
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &summary); err != nil {
		return nil, fmt.Errorf("failed to parse model summary: %w", err)
	}
	return &summary, nil
}

// Notify is not an API capability; owner notification needs a local channel.
func (a *API) Notify(ctx context.Context, n Notification) error {
	return ErrUnsupported
}

func (a *API) complete(ctx context.Context, system, user string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: apiMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: system,
			},
		}
	}

	response, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("messages API call failed: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
