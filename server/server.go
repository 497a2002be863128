// Package server exposes the inbound call API under /api/a2a/. It wires the
// token store, conversation store, runtime adapter and call monitor into the
// per-request pipeline: authenticate, admit, persist, run the turn, extract
// collaboration state, meter, respond.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a"
	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/monitor"
	"github.com/openclaw/a2a/runtime"
	"github.com/openclaw/a2a/tokenstore"
)

const (
	// readHeaderTimeout prevents slowloris-style header dribbling.
	readHeaderTimeout = 10 * time.Second

	// readTimeout is the maximum duration for reading the entire request.
	readTimeout = 30 * time.Second

	// writeTimeout must cover the slowest admitted turn.
	writeTimeout = 120 * time.Second

	// idleTimeout is the keep-alive idle limit.
	idleTimeout = 120 * time.Second

	// maxBodySize caps request bodies (1 MB).
	maxBodySize int64 = 1 << 20

	// contextRecentMessages is how much history is rendered into the
	// runtime's context view.
	contextRecentMessages = 10
)

// Agent is the slice of the runtime adapter the server uses.
type Agent interface {
	RunTurn(ctx context.Context, req runtime.TurnRequest) (string, error)
	Summarizer(caller a2a.CallerInfo, prompt string) convstore.Summarizer
	NotifyAsync(n runtime.Notification)
}

// CallMonitor is the slice of the call monitor the server uses.
type CallMonitor interface {
	Track(convID string, caller a2a.CallerInfo, tokenID string, level a2a.NotifyLevel, traceID string)
	Untrack(convID string)
}

// Server handles the inbound A2A endpoints.
type Server struct {
	config        *a2a.Config
	tokens        *tokenstore.Store
	conversations *convstore.Store
	agent         Agent
	calls         CallMonitor
	log           *logrus.Entry

	httpSrv *http.Server
}

// New assembles a server over the given stores and adapter.
func New(config *a2a.Config, tokens *tokenstore.Store, conversations *convstore.Store,
	agent Agent, calls CallMonitor, log *logrus.Entry) *Server {
	return &Server{
		config:        config,
		tokens:        tokens,
		conversations: conversations,
		agent:         agent,
		calls:         calls,
		log:           log,
	}
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+a2a.APIPrefix+"/ping", s.handlePing)
	mux.HandleFunc("GET "+a2a.APIPrefix+"/status", s.handleStatus)
	mux.HandleFunc("POST "+a2a.APIPrefix+"/invoke", s.handleInvoke)
	mux.HandleFunc("POST "+a2a.APIPrefix+"/end", s.handleEnd)

	var h http.Handler = mux
	h = s.withBodyLimit(h)
	h = s.withRecovery(h)
	h = s.withTracing(h)
	return h
}

// ListenAndServe blocks serving the API until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()

	if s.log != nil {
		s.log.WithField("listen", s.config.ListenAddr).Info("a2a server listening")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// compile-time checks that the real implementations satisfy the seams.
var (
	_ Agent       = (*runtime.Adapter)(nil)
	_ CallMonitor = (*monitor.Monitor)(nil)
)
