// Package monitor concludes calls that go idle or run too long.
//
// The pipeline reports activity with Track on every successful turn. A
// single background loop ticks over the tracked set; conversations past the
// idle or total-duration budget are concluded through the conversation
// store with the adapter's summarizer, and the owner is notified
// asynchronously.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
	"github.com/openclaw/a2a/runtime"
)

var (
	ErrAlreadyStarted = errors.New("monitor already started")
	ErrNotStarted     = errors.New("monitor not started")
)

// Default monitor configuration values.
const (
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxCallDuration = 5 * time.Minute
	DefaultCheckInterval   = 10 * time.Second
)

// ConversationStore is the slice of the conversation store the monitor
// uses.
type ConversationStore interface {
	Conclude(convID string, opts convstore.ConcludeOpts) (*convstore.Conversation, error)
	ActiveIdleSince(threshold time.Duration) ([]*convstore.Conversation, error)
}

// Agent is the slice of the runtime adapter the monitor uses.
type Agent interface {
	Summarizer(caller a2a.CallerInfo, prompt string) convstore.Summarizer
	NotifyAsync(n runtime.Notification)
}

// Config holds the monitor budgets.
type Config struct {
	IdleTimeout     time.Duration
	MaxCallDuration time.Duration
	CheckInterval   time.Duration

	// SummaryPrompt and OwnerContext are handed to the summarizer.
	SummaryPrompt string
	OwnerContext  string
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:     DefaultIdleTimeout,
		MaxCallDuration: DefaultMaxCallDuration,
		CheckInterval:   DefaultCheckInterval,
	}
}

type call struct {
	convID       string
	caller       a2a.CallerInfo
	tokenID      string
	notifyLevel  a2a.NotifyLevel
	traceID      string
	startedAt    time.Time
	lastActivity time.Time
}

// Monitor watches tracked active conversations.
type Monitor struct {
	store  ConversationStore
	agent  Agent
	config *Config
	log    *logrus.Entry

	mu      sync.Mutex
	tracked map[string]*call

	started atomic.Bool
	done    chan struct{}
	cancel  context.CancelFunc

	// now is the clock, injectable for tests.
	now func() time.Time
}

// New creates a call monitor.
func New(store ConversationStore, agent Agent, config *Config, log *logrus.Entry) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.MaxCallDuration <= 0 {
		config.MaxCallDuration = DefaultMaxCallDuration
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	return &Monitor{
		store:   store,
		agent:   agent,
		config:  config,
		log:     log,
		tracked: make(map[string]*call),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// Start begins watching. It returns immediately and runs the check loop in
// a goroutine.
func (m *Monitor) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
	return nil
}

// Stop stops the monitor and waits for the loop to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	m.cancel()
	<-m.done
	m.started.Store(false)
	return nil
}

// IsRunning reports whether the loop is active.
func (m *Monitor) IsRunning() bool {
	return m.started.Load()
}

// Track records activity on a conversation. The first call starts the
// duration clock; later calls refresh the idle clock and trace id.
func (m *Monitor) Track(convID string, caller a2a.CallerInfo, tokenID string, level a2a.NotifyLevel, traceID string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.tracked[convID]; ok {
		c.lastActivity = now
		c.caller = caller
		c.traceID = traceID
		return
	}
	m.tracked[convID] = &call{
		convID:       convID,
		caller:       caller,
		tokenID:      tokenID,
		notifyLevel:  level,
		traceID:      traceID,
		startedAt:    now,
		lastActivity: now,
	}
}

// Untrack drops a conversation, e.g. after an explicit /end.
func (m *Monitor) Untrack(convID string) {
	m.mu.Lock()
	delete(m.tracked, convID)
	m.mu.Unlock()
}

// TrackedCount returns how many conversations are being watched.
func (m *Monitor) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tracked)
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	m.recover()

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// recover re-tracks active conversations found in the store, so calls left
// open across a restart still time out.
func (m *Monitor) recover() {
	convs, err := m.store.ActiveIdleSince(0)
	if err != nil {
		m.logError("monitor_recover_failed", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conv := range convs {
		if _, ok := m.tracked[conv.ID]; ok {
			continue
		}
		m.tracked[conv.ID] = &call{
			convID:       conv.ID,
			caller:       a2a.CallerInfo{Name: conv.ContactName, AgentID: conv.ContactID},
			tokenID:      conv.TokenID,
			notifyLevel:  a2a.NotifySummary,
			startedAt:    conv.StartedAt,
			lastActivity: conv.LastMessageAt,
		}
	}
}

// check concludes every tracked conversation past its budget. Errors are
// logged and never stop the loop.
func (m *Monitor) check() {
	now := m.now()

	m.mu.Lock()
	var expired []*call
	for _, c := range m.tracked {
		switch {
		case now.Sub(c.startedAt) > m.config.MaxCallDuration:
			expired = append(expired, c)
		case now.Sub(c.lastActivity) > m.config.IdleTimeout:
			expired = append(expired, c)
		}
	}
	for _, c := range expired {
		delete(m.tracked, c.convID)
	}
	m.mu.Unlock()

	for _, c := range expired {
		reason := "idle_timeout"
		if now.Sub(c.startedAt) > m.config.MaxCallDuration {
			reason = "max_duration"
		}
		m.conclude(c, reason)
	}
}

func (m *Monitor) conclude(c *call, reason string) {
	conv, err := m.store.Conclude(c.convID, convstore.ConcludeOpts{
		Status:       convstore.StatusTimeout,
		Reason:       reason,
		Summarizer:   m.agent.Summarizer(c.caller, m.config.SummaryPrompt),
		OwnerContext: m.config.OwnerContext,
	})
	if err != nil {
		m.logError("monitor_conclude_failed", fmt.Errorf("failed to conclude %s: %w", c.convID, err))
		return
	}

	if m.log != nil {
		m.log.WithFields(logrus.Fields{
			logstore.FieldEvent:          "conversation_concluded",
			logstore.FieldConversationID: c.convID,
			logstore.FieldTokenID:        c.tokenID,
			logstore.FieldTraceID:        c.traceID,
			"reason":                     reason,
		}).Info("call concluded by monitor")
	}

	message := fmt.Sprintf("Call with %s ended (%s).", callerName(c.caller), reason)
	if conv != nil && conv.Summary != "" {
		message += " " + conv.Summary
	}
	m.agent.NotifyAsync(runtime.Notification{
		Event:          "conversation_concluded",
		Level:          c.notifyLevel,
		TokenID:        c.tokenID,
		Caller:         c.caller,
		Message:        message,
		ConversationID: c.convID,
		TraceID:        c.traceID,
	})
}

func callerName(caller a2a.CallerInfo) string {
	name := a2a.SanitizeText(caller.Name)
	if name == "" {
		return "an unknown agent"
	}
	return name
}

func (m *Monitor) logError(event string, err error) {
	if m.log == nil {
		return
	}
	m.log.WithField(logstore.FieldEvent, event).WithError(err).Error("monitor error")
}
