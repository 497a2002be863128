package monitor

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/runtime"
)

type mockStore struct {
	mu        sync.Mutex
	concluded map[string]convstore.ConcludeOpts
	active    []*convstore.Conversation
}

func newMockStore() *mockStore {
	return &mockStore{concluded: make(map[string]convstore.ConcludeOpts)}
}

func (s *mockStore) Conclude(convID string, opts convstore.ConcludeOpts) (*convstore.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.concluded[convID] = opts
	return &convstore.Conversation{ID: convID, Status: opts.Status, Summary: "wrapped"}, nil
}

func (s *mockStore) ActiveIdleSince(time.Duration) ([]*convstore.Conversation, error) {
	return s.active, nil
}

func (s *mockStore) concludedOpts(convID string) (convstore.ConcludeOpts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	opts, ok := s.concluded[convID]
	return opts, ok
}

type mockAgent struct {
	mu            sync.Mutex
	notifications []runtime.Notification
}

func (a *mockAgent) Summarizer(caller a2a.CallerInfo, prompt string) convstore.Summarizer {
	return func([]*convstore.Message, string) (*a2a.Summary, error) {
		return &a2a.Summary{Summary: "done"}, nil
	}
}

func (a *mockAgent) NotifyAsync(n runtime.Notification) {
	a.mu.Lock()
	a.notifications = append(a.notifications, n)
	a.mu.Unlock()
}

func (a *mockAgent) sent() []runtime.Notification {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]runtime.Notification(nil), a.notifications...)
}

func testLog() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "monitor")
}

func newTestMonitor(store *mockStore, agent *mockAgent) *Monitor {
	return New(store, agent, &Config{
		IdleTimeout:     60 * time.Second,
		MaxCallDuration: 5 * time.Minute,
		CheckInterval:   10 * time.Second,
	}, testLog())
}

func TestCheck_IdleConversationTimesOut(t *testing.T) {
	store := newMockStore()
	agent := &mockAgent{}
	m := newTestMonitor(store, agent)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Track("conv_1", a2a.CallerInfo{Name: "Kit"}, "tok_1", a2a.NotifySummary, "tr_abc")

	// Just under the idle budget: nothing happens.
	m.now = func() time.Time { return base.Add(59 * time.Second) }
	m.check()
	if _, ok := store.concludedOpts("conv_1"); ok {
		t.Fatal("conversation concluded before the idle budget elapsed")
	}

	m.now = func() time.Time { return base.Add(61 * time.Second) }
	m.check()

	opts, ok := store.concludedOpts("conv_1")
	if !ok {
		t.Fatal("idle conversation was not concluded")
	}
	if opts.Status != convstore.StatusTimeout {
		t.Errorf("Status = %q, want timeout", opts.Status)
	}
	if opts.Reason != "idle_timeout" {
		t.Errorf("Reason = %q, want idle_timeout", opts.Reason)
	}
	if opts.Summarizer == nil {
		t.Error("conclusion must carry the adapter summarizer")
	}
	if m.TrackedCount() != 0 {
		t.Errorf("TrackedCount() = %d after conclusion", m.TrackedCount())
	}
}

func TestCheck_MaxDurationWinsOverIdle(t *testing.T) {
	store := newMockStore()
	agent := &mockAgent{}
	m := newTestMonitor(store, agent)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Track("conv_1", a2a.CallerInfo{Name: "Kit"}, "tok_1", a2a.NotifyAll, "tr_abc")

	// Keep refreshing activity so the call never idles, then cross the
	// total-duration budget.
	for i := 1; i <= 10; i++ {
		m.now = func() time.Time { return base.Add(time.Duration(i) * 30 * time.Second) }
		m.Track("conv_1", a2a.CallerInfo{Name: "Kit"}, "tok_1", a2a.NotifyAll, "tr_abc")
	}
	m.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	m.check()

	opts, ok := store.concludedOpts("conv_1")
	if !ok {
		t.Fatal("long-running conversation was not concluded")
	}
	if opts.Reason != "max_duration" {
		t.Errorf("Reason = %q, want max_duration", opts.Reason)
	}
}

func TestCheck_NotifiesWithTrackedTraceID(t *testing.T) {
	store := newMockStore()
	agent := &mockAgent{}
	m := newTestMonitor(store, agent)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Track("conv_1", a2a.CallerInfo{Name: "Kit"}, "tok_1", a2a.NotifySummary, "tr_xyz")

	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	m.check()

	sent := agent.sent()
	if len(sent) != 1 {
		t.Fatalf("got %d notifications, want 1", len(sent))
	}
	n := sent[0]
	if n.Event != "conversation_concluded" {
		t.Errorf("Event = %q", n.Event)
	}
	if n.TraceID != "tr_xyz" {
		t.Errorf("TraceID = %q, want the tracked one", n.TraceID)
	}
	if n.ConversationID != "conv_1" || n.TokenID != "tok_1" {
		t.Errorf("notification = %+v", n)
	}
}

func TestTrack_RefreshesIdleClock(t *testing.T) {
	store := newMockStore()
	agent := &mockAgent{}
	m := newTestMonitor(store, agent)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Track("conv_1", a2a.CallerInfo{}, "tok_1", a2a.NotifyNone, "tr_1")

	m.now = func() time.Time { return base.Add(50 * time.Second) }
	m.Track("conv_1", a2a.CallerInfo{}, "tok_1", a2a.NotifyNone, "tr_2")

	// 90s after start but only 40s after the refresh.
	m.now = func() time.Time { return base.Add(90 * time.Second) }
	m.check()
	if _, ok := store.concludedOpts("conv_1"); ok {
		t.Fatal("refreshed conversation concluded too early")
	}
}

func TestUntrack(t *testing.T) {
	store := newMockStore()
	agent := &mockAgent{}
	m := newTestMonitor(store, agent)

	base := time.Now()
	m.now = func() time.Time { return base }
	m.Track("conv_1", a2a.CallerInfo{}, "tok_1", a2a.NotifyNone, "tr_1")
	m.Untrack("conv_1")

	m.now = func() time.Time { return base.Add(time.Hour) }
	m.check()
	if _, ok := store.concludedOpts("conv_1"); ok {
		t.Fatal("untracked conversation was concluded")
	}
}

func TestStartStop_RecoversActiveConversations(t *testing.T) {
	store := newMockStore()
	store.active = []*convstore.Conversation{{
		ID:            "conv_old",
		ContactName:   "Kit",
		TokenID:       "tok_1",
		StartedAt:     time.Now().Add(-time.Hour),
		LastMessageAt: time.Now().Add(-time.Hour),
	}}
	agent := &mockAgent{}
	m := newTestMonitor(store, agent)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	// The recover pass runs before the first tick.
	deadline := time.Now().Add(time.Second)
	for m.TrackedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.TrackedCount() != 1 {
		t.Errorf("TrackedCount() = %d after recover", m.TrackedCount())
	}

	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if m.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	if err := m.Stop(context.Background()); err != ErrNotStarted {
		t.Errorf("second Stop() error = %v, want ErrNotStarted", err)
	}
}
