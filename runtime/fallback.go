package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/logstore"
)

const fallbackExcerptRunes = 140

// Deterministic synthesizes templated responses and summaries from the
// request itself. It never fails, which makes it the terminal link of every
// adapter chain. Caller-supplied text is sanitized before it is echoed.
type Deterministic struct {
	owner string
	log   *logrus.Entry
}

// NewDeterministic returns the templated fallback runtime.
func NewDeterministic(owner string, log *logrus.Entry) *Deterministic {
	if owner == "" {
		owner = "the owner"
	}
	return &Deterministic{owner: owner, log: log}
}

func (d *Deterministic) Name() string { return "deterministic" }

func (d *Deterministic) RunTurn(_ context.Context, req TurnRequest) (string, error) {
	caller := a2a.SanitizeText(req.Caller.Name)
	if caller == "" {
		caller = "there"
	}
	excerpt := a2a.Excerpt(a2a.SanitizeText(req.Message), fallbackExcerptRunes)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, you have reached %s's assistant.", caller, d.owner)
	if len(req.AllowedTopics) > 0 {
		fmt.Fprintf(&b, " I can help with %s.", strings.Join(req.AllowedTopics, ", "))
	}
	if excerpt != "" {
		fmt.Fprintf(&b, " I noted your message: %q.", excerpt)
	}
	b.WriteString(" Could you tell me more about what you would like to accomplish?")
	return b.String(), nil
}

func (d *Deterministic) Summarize(_ context.Context, req SummaryRequest) (*a2a.Summary, error) {
	caller := a2a.SanitizeText(req.Caller.Name)
	if caller == "" {
		caller = "an unknown agent"
	}

	inbound, outbound := 0, 0
	var lastInbound string
	for _, m := range req.Messages {
		switch m.Direction {
		case a2a.DirectionInbound:
			inbound++
			lastInbound = m.Content
		case a2a.DirectionOutbound:
			outbound++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation with %s: %d messages exchanged (%d inbound, %d outbound).",
		caller, inbound+outbound, inbound, outbound)
	if lastInbound != "" {
		fmt.Fprintf(&b, " Last inbound message: %q.",
			a2a.Excerpt(a2a.SanitizeText(lastInbound), fallbackExcerptRunes))
	}
	return &a2a.Summary{
		Summary:        b.String(),
		OwnerRelevance: a2a.RelevanceUnknown,
	}, nil
}

// Notify records the notification in the log stream so it at least reaches
// the operator's log store when no delivery channel is configured.
func (d *Deterministic) Notify(_ context.Context, n Notification) error {
	if d.log == nil {
		return nil
	}
	d.log.WithFields(logrus.Fields{
		logstore.FieldEvent:          "owner_notification",
		logstore.FieldConversationID: n.ConversationID,
		logstore.FieldTokenID:        n.TokenID,
		logstore.FieldTraceID:        n.TraceID,
		"notify_event":               n.Event,
		"caller":                     a2a.SanitizeText(n.Caller.Name),
	}).Info(n.Message)
	return nil
}
