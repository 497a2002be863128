package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
)

// Adapter chains a primary backend, an optional generic bridge and the
// deterministic fallback. RunTurn and Summarize never fail: the worst case
// is a templated response plus an error-level failure log entry.
type Adapter struct {
	chain    []Runtime
	failover bool
	fallback *Deterministic
	log      *logrus.Entry
}

// NewAdapter selects backends from the configuration. In auto mode the host
// tool wins when discoverable on PATH, then the generic agent command, then
// the api key; with none of those the adapter runs on deterministic
// fallbacks alone.
func NewAdapter(cfg *a2a.Config, log *logrus.Entry) *Adapter {
	fallback := NewDeterministic(cfg.OwnerName, log)

	var generic *Generic
	if cfg.AgentCommand != "" || cfg.SummaryCommand != "" || cfg.NotifyCommand != "" {
		generic = NewGeneric(cfg.AgentCommand, cfg.SummaryCommand, cfg.NotifyCommand)
	}

	mode := cfg.RuntimeMode
	if mode == a2a.RuntimeAuto {
		switch {
		case HostToolAvailable(cfg.HostTool):
			mode = a2a.RuntimeHost
		case cfg.AgentCommand != "":
			mode = a2a.RuntimeGeneric
		case cfg.AnthropicAPIKey != "":
			mode = a2a.RuntimeAPI
		default:
			mode = ""
		}
	}

	var chain []Runtime
	switch mode {
	case a2a.RuntimeHost:
		chain = append(chain, NewHost(cfg.HostTool))
	case a2a.RuntimeGeneric:
		// Chain extended below.
	case a2a.RuntimeAPI:
		chain = append(chain, NewAPI(cfg.AnthropicAPIKey, cfg.Model))
	}
	if generic != nil {
		chain = append(chain, generic)
	}
	chain = append(chain, fallback)

	return &Adapter{
		chain:    chain,
		failover: cfg.RuntimeFailover,
		fallback: fallback,
		log:      log.WithField("selected_mode", mode),
	}
}

// NewAdapterWith builds an adapter over explicit backends, for embedding and
// tests. The deterministic fallback is always appended.
func NewAdapterWith(log *logrus.Entry, owner string, failover bool, backends ...Runtime) *Adapter {
	fallback := NewDeterministic(owner, log)
	chain := append(append([]Runtime{}, backends...), fallback)
	return &Adapter{chain: chain, failover: failover, fallback: fallback, log: log}
}

// RunTurn tries each backend in order and always returns a response.
func (a *Adapter) RunTurn(ctx context.Context, req TurnRequest) (string, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	for _, rt := range a.runnable() {
		text, err := rt.RunTurn(ctx, req)
		if err == nil && text != "" {
			return text, nil
		}
		a.logFailure(rt, "run_turn", err)
	}
	return a.fallback.RunTurn(ctx, req)
}

// Summarize tries each backend until one produces a non-empty summary, then
// falls back to the deterministic one.
func (a *Adapter) Summarize(ctx context.Context, req SummaryRequest) (*a2a.Summary, error) {
	for _, rt := range a.runnable() {
		summary, err := rt.Summarize(ctx, req)
		if err == nil && summary != nil && summary.Summary != "" {
			return summary, nil
		}
		a.logFailure(rt, "summarize", err)
	}
	return a.fallback.Summarize(ctx, req)
}

// Notify delivers the notification through the first backend that accepts
// it. Level none is a no-op. Failures are logged, never returned upward as
// pipeline errors; the error is reported for callers that care.
func (a *Adapter) Notify(ctx context.Context, n Notification) error {
	if n.Level == a2a.NotifyNone {
		return nil
	}
	var lastErr error
	for _, rt := range a.chain {
		err := rt.Notify(ctx, n)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnsupported) {
			a.logFailure(rt, "notify", err)
		}
		lastErr = err
	}
	return lastErr
}

// NotifyAsync dispatches the notification fire-and-forget with its own
// timeout, detached from the request context.
func (a *Adapter) NotifyAsync(n Notification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = a.Notify(ctx, n)
	}()
}

// Summarizer adapts the adapter into the conversation store's summarizer
// signature.
func (a *Adapter) Summarizer(caller a2a.CallerInfo, prompt string) convstore.Summarizer {
	return func(messages []*convstore.Message, ownerContext string) (*a2a.Summary, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return a.Summarize(ctx, SummaryRequest{
			Prompt:       prompt,
			Messages:     messages,
			Caller:       caller,
			OwnerContext: ownerContext,
		})
	}
}

// runnable is the chain minus the terminal fallback, or just the primary
// when failover is disabled.
func (a *Adapter) runnable() []Runtime {
	backends := a.chain[:len(a.chain)-1]
	if !a.failover && len(backends) > 1 {
		return backends[:1]
	}
	return backends
}

// failureEvents name the per-backend failure log events. Backends without a
// dedicated tag log the generic runtime_error.
var failureEvents = map[string]string{
	"host":    "host_tool_failed",
	"generic": "generic_agent_command_failed",
	"api":     "api_request_failed",
}

func (a *Adapter) logFailure(rt Runtime, op string, err error) {
	if a.log == nil || err == nil || errors.Is(err, ErrUnsupported) {
		return
	}
	event, ok := failureEvents[rt.Name()]
	if !ok {
		event = "runtime_error"
	}
	a.log.WithFields(logrus.Fields{
		logstore.FieldEvent: event,
		"runtime":           rt.Name(),
		"operation":         op,
	}).WithError(err).Error("runtime backend failed")
}
