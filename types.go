package a2a

// Tier is a symbolic permission level. Tiers determine the default allowed
// topics and goals a token grants when its spec does not list them.
type Tier string

const (
	TierPublic  Tier = "public"
	TierFriends Tier = "friends"
	TierFamily  Tier = "family"
	TierCustom  Tier = "custom"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierPublic, TierFriends, TierFamily, TierCustom:
		return true
	}
	return false
}

// Disclosure controls how much about the owner a token reveals to callers.
type Disclosure string

const (
	DisclosurePublic  Disclosure = "public"
	DisclosureMinimal Disclosure = "minimal"
	DisclosureNone    Disclosure = "none"
)

// NotifyLevel controls when the owner is notified about calls on a token.
type NotifyLevel string

const (
	// NotifyAll notifies on every successful turn.
	NotifyAll NotifyLevel = "all"
	// NotifySummary notifies once per conversation, at conclusion.
	NotifySummary NotifyLevel = "summary"
	// NotifyNone suppresses owner notification entirely.
	NotifyNone NotifyLevel = "none"
)

// Direction distinguishes who initiated a conversation or sent a message.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Role is the conversational role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Relevance grades how much a concluded conversation matters to the owner.
type Relevance string

const (
	RelevanceLow     Relevance = "low"
	RelevanceMedium  Relevance = "medium"
	RelevanceHigh    Relevance = "high"
	RelevanceUnknown Relevance = "unknown"
)

// Summary is the structured result a summarizer produces when a conversation
// concludes. Every field is optional; a nil or empty summary never blocks
// conclusion.
type Summary struct {
	Summary                  string         `json:"summary"`
	OwnerSummary             string         `json:"owner_summary,omitempty"`
	OwnerRelevance           Relevance      `json:"owner_relevance,omitempty"`
	OwnerGoalsTouched        []string       `json:"owner_goals_touched,omitempty"`
	OwnerActionItems         []string       `json:"owner_action_items,omitempty"`
	CallerActionItems        []string       `json:"caller_action_items,omitempty"`
	JointActionItems         []string       `json:"joint_action_items,omitempty"`
	CollaborationOpportunity map[string]any `json:"collaboration_opportunity,omitempty"`
	FollowUp                 string         `json:"follow_up,omitempty"`
	Notes                    string         `json:"notes,omitempty"`
}

// CallerInfo identifies the remote agent on the other side of a call.
// All fields are caller-supplied and untrusted.
type CallerInfo struct {
	Name     string `json:"name,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
}

// InvokeRequest is the body of POST /api/a2a/invoke.
type InvokeRequest struct {
	Message        string      `json:"message"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Caller         *CallerInfo `json:"caller,omitempty"`
	Context        string      `json:"context,omitempty"`
	TimeoutSeconds int         `json:"timeout_seconds,omitempty"`
}

// InvokeResponse is the success body of POST /api/a2a/invoke.
type InvokeResponse struct {
	Success        bool   `json:"success"`
	TraceID        string `json:"trace_id"`
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	CanContinue    bool   `json:"can_continue"`
	// TokensRemaining is nil when the token has no call cap.
	TokensRemaining *int `json:"tokens_remaining"`
}

// EndRequest is the body of POST /api/a2a/end.
type EndRequest struct {
	ConversationID string `json:"conversation_id"`
}

// EndResponse is the success body of POST /api/a2a/end.
type EndResponse struct {
	Success        bool   `json:"success"`
	TraceID        string `json:"trace_id"`
	RequestID      string `json:"request_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Summary        string `json:"summary,omitempty"`
}

// PingResponse is the body of GET /api/a2a/ping.
type PingResponse struct {
	Pong      bool   `json:"pong"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is the body of GET /api/a2a/status.
type StatusResponse struct {
	A2A          bool           `json:"a2a"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities"`
	RateLimits   map[string]int `json:"rate_limits"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id"`
	Hint      string `json:"hint,omitempty"`
}
