package outbound

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/collab"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
	"github.com/openclaw/a2a/runtime"
)

// Default driver budgets.
const (
	DefaultMaxTurns = 30
	DefaultMinTurns = 8
)

// Stop reasons reported by the driver.
const (
	StopPeerEnded   = "peer_ended"
	StopCloseSignal = "close_signal"
	StopMaxTurns    = "max_turns"
	StopRemoteError = "remote_error"
	StopNoReply     = "no_reply"
)

// Agent is the slice of the runtime adapter the driver uses.
type Agent interface {
	RunTurn(ctx context.Context, req runtime.TurnRequest) (string, error)
	Summarizer(caller a2a.CallerInfo, prompt string) convstore.Summarizer
}

// DriverConfig holds the driver budgets and identity.
type DriverConfig struct {
	MaxTurns int
	MinTurns int

	// Prompt is the system prompt for locally generated turns.
	Prompt string

	// Caller is how this node introduces itself to the peer.
	Caller a2a.CallerInfo

	// Summarizer overrides the adapter-derived summarizer at conclusion.
	Summarizer convstore.Summarizer
}

// Driver holds a full outbound conversation: it alternates between the
// peer's /invoke and the local runtime until either side signals closure or
// a budget runs out. Remote failures end the conversation gracefully.
type Driver struct {
	client        *Client
	conversations *convstore.Store
	agent         Agent
	config        DriverConfig
	log           *logrus.Entry
}

// NewDriver assembles a driver for one peer endpoint.
func NewDriver(client *Client, conversations *convstore.Store, agent Agent,
	config DriverConfig, log *logrus.Entry) *Driver {
	if config.MaxTurns <= 0 {
		config.MaxTurns = DefaultMaxTurns
	}
	if config.MinTurns <= 0 {
		config.MinTurns = DefaultMinTurns
	}
	return &Driver{
		client:        client,
		conversations: conversations,
		agent:         agent,
		config:        config,
		log:           log,
	}
}

// Result reports one finished outbound conversation.
type Result struct {
	// ConversationID is the local record; PeerConversationID is the id the
	// remote node assigned.
	ConversationID     string
	PeerConversationID string
	Turns              int
	StopReason         string
	Summary            string
}

// Run opens with the given message and drives the conversation to
// completion. The returned error covers local failures only; remote
// failures are folded into the result's stop reason.
func (d *Driver) Run(ctx context.Context, contactName, opening string) (*Result, error) {
	conv, _, err := d.conversations.Start(convstore.StartSpec{
		ContactName: contactName,
		Direction:   a2a.DirectionOutbound,
	})
	if err != nil {
		return nil, err
	}

	d.client.TraceID = a2a.NewTraceID()

	var (
		state      collab.State
		peerConvID string
		stopReason string
		message    = opening
		turns      = 0
	)

	for turns < d.config.MaxTurns {
		resp, err := d.client.Invoke(ctx, a2a.InvokeRequest{
			Message:        message,
			ConversationID: peerConvID,
			Caller:         &d.config.Caller,
		})
		if err != nil {
			d.logEvent(conv.ID, "outbound_call_failed", err.Error())
			stopReason = StopRemoteError
			break
		}
		turns++
		peerConvID = resp.ConversationID

		if _, err := d.conversations.AppendMessage(conv.ID, &convstore.Message{
			Direction: a2a.DirectionOutbound,
			Role:      a2a.RoleAssistant,
			Content:   message,
		}); err != nil {
			return nil, err
		}

		// Peers normally strip their collaboration block, but hints that
		// survive still feed the running state.
		peerRes := collab.Extract(resp.Response)
		if peerRes.HasState {
			state = *peerRes.State
		}
		if _, err := d.conversations.AppendMessage(conv.ID, &convstore.Message{
			Direction: a2a.DirectionInbound,
			Role:      a2a.RoleUser,
			Content:   peerRes.CleanText,
		}); err != nil {
			return nil, err
		}

		if !resp.CanContinue {
			stopReason = StopPeerEnded
			break
		}
		if turns >= d.config.MaxTurns {
			stopReason = StopMaxTurns
			break
		}

		reply, err := d.agent.RunTurn(ctx, runtime.TurnRequest{
			SessionID: conv.ID,
			Prompt:    d.config.Prompt,
			Message:   peerRes.CleanText,
			Caller:    a2a.CallerInfo{Name: contactName},
			Context:   d.renderContext(conv.ID),
		})
		if err != nil || strings.TrimSpace(reply) == "" {
			stopReason = StopNoReply
			break
		}

		localRes := collab.Extract(reply)
		if localRes.HasState {
			state = *localRes.State
		}
		if state.CloseSignal && turns >= d.config.MinTurns {
			stopReason = StopCloseSignal
			break
		}
		message = localRes.CleanText
	}
	if stopReason == "" {
		stopReason = StopMaxTurns
	}

	state.TurnCount = turns
	if err := d.conversations.SaveCollabState(conv.ID, &state); err != nil {
		d.logEvent(conv.ID, "collab_state_save_failed", err.Error())
	}

	// Best-effort remote conclusion; the local record concludes regardless.
	if peerConvID != "" {
		endCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		if _, err := d.client.End(endCtx, peerConvID); err != nil {
			d.logEvent(conv.ID, "outbound_end_failed", err.Error())
		}
		cancel()
	}

	summarizer := d.config.Summarizer
	if summarizer == nil {
		summarizer = d.agent.Summarizer(a2a.CallerInfo{Name: contactName}, d.config.Prompt)
	}
	concluded, err := d.conversations.Conclude(conv.ID, convstore.ConcludeOpts{
		Summarizer: summarizer,
		Reason:     stopReason,
	})
	if err != nil {
		return nil, err
	}

	d.logEvent(conv.ID, "outbound_concluded", stopReason)

	return &Result{
		ConversationID:     conv.ID,
		PeerConversationID: peerConvID,
		Turns:              turns,
		StopReason:         stopReason,
		Summary:            concluded.Summary,
	}, nil
}

func (d *Driver) renderContext(convID string) string {
	view, err := d.conversations.Context(convID, 10)
	if err != nil {
		return ""
	}
	var b strings.Builder
	for _, m := range view.Recent {
		b.WriteString("[" + string(m.Direction) + "] " + m.Content + "\n")
	}
	return strings.TrimSpace(b.String())
}

func (d *Driver) logEvent(convID, event, msg string) {
	if d.log == nil {
		return
	}
	d.log.WithFields(logrus.Fields{
		logstore.FieldEvent:          event,
		logstore.FieldConversationID: convID,
		logstore.FieldTraceID:        d.client.TraceID,
	}).Info(msg)
}
