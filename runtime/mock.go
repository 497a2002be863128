package runtime

import (
	"context"
	"sync"

	"github.com/openclaw/a2a"
)

// Mock is a scriptable runtime for tests. Unset functions succeed with
// canned values.
type Mock struct {
	RunTurnFunc   func(ctx context.Context, req TurnRequest) (string, error)
	SummarizeFunc func(ctx context.Context, req SummaryRequest) (*a2a.Summary, error)
	NotifyFunc    func(ctx context.Context, n Notification) error

	mu            sync.Mutex
	turns         []TurnRequest
	notifications []Notification
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) RunTurn(ctx context.Context, req TurnRequest) (string, error) {
	m.mu.Lock()
	m.turns = append(m.turns, req)
	m.mu.Unlock()
	if m.RunTurnFunc != nil {
		return m.RunTurnFunc(ctx, req)
	}
	return "mock response", nil
}

func (m *Mock) Summarize(ctx context.Context, req SummaryRequest) (*a2a.Summary, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, req)
	}
	return &a2a.Summary{Summary: "mock summary"}, nil
}

func (m *Mock) Notify(ctx context.Context, n Notification) error {
	m.mu.Lock()
	m.notifications = append(m.notifications, n)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

// Turns returns the recorded turn requests.
func (m *Mock) Turns() []TurnRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TurnRequest(nil), m.turns...)
}

// Notifications returns the recorded notifications.
func (m *Mock) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.notifications...)
}
