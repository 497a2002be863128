package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/collab"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
	"github.com/openclaw/a2a/runtime"
	"github.com/openclaw/a2a/tokenstore"
)

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, a2a.PingResponse{
		Pong:      true,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	limits := tokenstore.DefaultRateLimits(a2a.TierPublic)
	s.writeJSON(w, http.StatusOK, a2a.StatusResponse{
		A2A:          true,
		Version:      a2a.Version,
		Capabilities: a2a.Capabilities,
		RateLimits: map[string]int{
			"per_minute": limits.PerMinute,
			"per_hour":   limits.PerHour,
			"per_day":    limits.PerDay,
		},
	})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, apiErr := s.authenticate(r)
	if apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}

	var req a2a.InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeMissingMessage,
			"request body must be a JSON object with a message field"))
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeMissingMessage, "message is required"))
		return
	}

	caller := a2a.CallerInfo{}
	if req.Caller != nil {
		caller = *req.Caller
	}

	// Metering is the admission decision. Concurrent calls that all passed
	// validation serialize on the token store here, so max_calls and the
	// rate windows hold as strict upper bounds and over-quota calls never
	// reach the runtime.
	token, err := s.tokens.Meter(token.ID)
	if err != nil {
		s.writeError(w, r, a2a.AsAPIError(err))
		return
	}

	conv, apiErr := s.resolveConversation(req.ConversationID, token, caller)
	if apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}

	// Turns on one conversation serialize; the guard spans append, run,
	// append and state save.
	release := s.conversations.Lock(conv.ID)
	defer release()

	if _, err := s.conversations.AppendMessage(conv.ID, &convstore.Message{
		Direction: a2a.DirectionInbound,
		Role:      a2a.RoleUser,
		Content:   message,
	}); err != nil {
		s.writeError(w, r, s.appendError(err))
		return
	}
	s.calls.Track(conv.ID, caller, token.ID, token.Notify, traceID(ctx))

	view, err := s.conversations.Context(conv.ID, contextRecentMessages)
	if err != nil {
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeInternalError, "internal error"))
		return
	}

	raw, err := s.agent.RunTurn(ctx, runtime.TurnRequest{
		SessionID:     conv.ID,
		Prompt:        s.config.SystemPrompt,
		Message:       message,
		Caller:        caller,
		Context:       renderContext(view),
		AllowedTopics: token.AllowedTopics,
		Timeout:       s.clampTimeout(req.TimeoutSeconds),
	})
	if err != nil {
		// The adapter guarantees a response; an error here means the
		// chain itself is broken.
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeInternalError, "internal error"))
		return
	}

	res := collab.Extract(raw)
	if _, err := s.conversations.AppendMessage(conv.ID, &convstore.Message{
		Direction: a2a.DirectionOutbound,
		Role:      a2a.RoleAssistant,
		Content:   res.CleanText,
	}); err != nil {
		s.writeError(w, r, s.appendError(err))
		return
	}
	if res.HasState {
		if err := s.conversations.SaveCollabState(conv.ID, res.State); err != nil {
			s.logEvent(ctx, logrus.WarnLevel, "collab_state_save_failed", conv.ID, token.ID, err.Error())
		}
	}

	turnCount := (conv.MessageCount + 2) / 2
	closeSignal := res.HasState && res.State.CloseSignal
	canContinue := !(closeSignal && turnCount >= s.config.MinTurns)

	if token.Notify == a2a.NotifyAll {
		s.agent.NotifyAsync(runtime.Notification{
			Event:          "message_received",
			Level:          token.Notify,
			TokenID:        token.ID,
			Caller:         caller,
			Message:        fmt.Sprintf("%s: %s", callerName(caller), a2a.Excerpt(a2a.SanitizeText(message), 200)),
			ConversationID: conv.ID,
			TraceID:        traceID(ctx),
		})
	}

	s.logEvent(ctx, logrus.InfoLevel, "invoke_completed", conv.ID, token.ID, "turn completed")

	s.writeJSON(w, http.StatusOK, a2a.InvokeResponse{
		Success:         true,
		TraceID:         traceID(ctx),
		RequestID:       requestID(ctx),
		ConversationID:  conv.ID,
		Response:        res.CleanText,
		CanContinue:     canContinue,
		TokensRemaining: token.Remaining(),
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, apiErr := s.authenticate(r)
	if apiErr != nil {
		s.writeError(w, r, apiErr)
		return
	}

	var req a2a.EndRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeMissingConversationID, "conversation_id is required"))
		return
	}

	conv, err := s.conversations.Get(req.ConversationID, 0)
	if err != nil {
		if errors.Is(err, a2a.ErrConversationNotFound) {
			s.writeError(w, r, a2a.NewAPIError(a2a.CodeConversationNotFound, "unknown conversation"))
			return
		}
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeInternalError, "internal error"))
		return
	}
	if conv.TokenID != token.ID {
		s.writeError(w, r, a2a.NewAPIError(a2a.CodePermissionDenied,
			"conversation belongs to a different token"))
		return
	}

	caller := a2a.CallerInfo{Name: conv.ContactName, AgentID: conv.ContactID}
	concluded, err := s.conversations.Conclude(conv.ID, convstore.ConcludeOpts{
		Summarizer:   s.agent.Summarizer(caller, s.config.SystemPrompt),
		OwnerContext: s.config.OwnerName,
	})
	if err != nil {
		s.writeError(w, r, a2a.NewAPIError(a2a.CodeInternalError, "internal error"))
		return
	}
	s.calls.Untrack(conv.ID)

	if token.Notify != a2a.NotifyNone && conv.Status == convstore.StatusActive {
		message := fmt.Sprintf("Call with %s ended.", callerName(caller))
		if concluded.Summary != "" {
			message += " " + concluded.Summary
		}
		s.agent.NotifyAsync(runtime.Notification{
			Event:          "conversation_concluded",
			Level:          token.Notify,
			TokenID:        token.ID,
			Caller:         caller,
			Message:        message,
			ConversationID: conv.ID,
			TraceID:        traceID(ctx),
		})
	}

	s.logEvent(ctx, logrus.InfoLevel, "conversation_ended", conv.ID, token.ID, "ended by caller")

	s.writeJSON(w, http.StatusOK, a2a.EndResponse{
		Success:        true,
		TraceID:        traceID(ctx),
		RequestID:      requestID(ctx),
		ConversationID: conv.ID,
		Status:         "concluded",
		Summary:        concluded.Summary,
	})
}

// authenticate extracts and validates the bearer token.
func (s *Server) authenticate(r *http.Request) (*tokenstore.Token, *a2a.APIError) {
	header := r.Header.Get("Authorization")
	wire, ok := strings.CutPrefix(header, "Bearer ")
	wire = strings.TrimSpace(wire)
	if !ok || wire == "" {
		return nil, a2a.NewAPIError(a2a.CodeMissingToken, "missing bearer token")
	}

	v := s.tokens.Validate(wire)
	if !v.Valid {
		return nil, a2a.NewAPIError(v.Code, v.Reason)
	}
	return v.Token, nil
}

// resolveConversation resumes the caller's conversation or starts a fresh
// one. Conversations are strictly scoped to the token that created them;
// presenting another token's conversation id is a permission error, not a
// silent new conversation.
func (s *Server) resolveConversation(convID string, token *tokenstore.Token, caller a2a.CallerInfo) (*convstore.Conversation, *a2a.APIError) {
	if convID != "" {
		conv, err := s.conversations.Get(convID, 0)
		switch {
		case err == nil:
			if conv.TokenID != token.ID {
				return nil, a2a.NewAPIError(a2a.CodePermissionDenied,
					"conversation belongs to a different token")
			}
			if conv.Status == convstore.StatusActive {
				return conv, nil
			}
			// Terminal conversation: fall through to a fresh one.
		case !errors.Is(err, a2a.ErrConversationNotFound):
			return nil, a2a.NewAPIError(a2a.CodeInternalError, "internal error")
		}
	}

	conv, _, err := s.conversations.Start(convstore.StartSpec{
		ContactID:   token.LinkedContactID,
		ContactName: firstNonEmpty(a2a.SanitizeText(caller.Name), token.Name),
		TokenID:     token.ID,
		Direction:   a2a.DirectionInbound,
	})
	if err != nil {
		return nil, a2a.NewAPIError(a2a.CodeInternalError, "internal error")
	}
	return conv, nil
}

// clampTimeout converts the caller's timeout_seconds into the admitted
// range.
func (s *Server) clampTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		return s.config.MaxTimeout
	}
	d := time.Duration(seconds) * time.Second
	if d > s.config.MaxTimeout {
		return s.config.MaxTimeout
	}
	return d
}

func (s *Server) appendError(err error) *a2a.APIError {
	switch {
	case errors.Is(err, a2a.ErrConversationNotFound):
		return a2a.NewAPIError(a2a.CodeConversationNotFound, "unknown conversation")
	case errors.Is(err, a2a.ErrConversationClosed):
		return a2a.NewAPIError(a2a.CodeConversationNotFound, "conversation already concluded")
	default:
		return a2a.NewAPIError(a2a.CodeInternalError, "internal error")
	}
}

func (s *Server) logEvent(ctx context.Context, level logrus.Level, event, convID, tokenID, msg string) {
	if s.log == nil {
		return
	}
	s.log.WithFields(logrus.Fields{
		logstore.FieldEvent:          event,
		logstore.FieldTraceID:        traceID(ctx),
		logstore.FieldRequestID:      requestID(ctx),
		logstore.FieldConversationID: convID,
		logstore.FieldTokenID:        tokenID,
	}).Log(level, msg)
}

// renderContext flattens the recent history into the plain view handed to
// the runtime.
func renderContext(view *convstore.ContextView) string {
	if view == nil || len(view.Recent) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range view.Recent {
		fmt.Fprintf(&b, "[%s] %s\n", m.Direction, m.Content)
	}
	return strings.TrimSpace(b.String())
}

func callerName(caller a2a.CallerInfo) string {
	name := a2a.SanitizeText(caller.Name)
	if name == "" {
		return "an unknown agent"
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
