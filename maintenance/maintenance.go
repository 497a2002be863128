// Package maintenance runs scheduled housekeeping: old-message compression
// in the conversation store and an expiry sweep over issued tokens.
package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/openclaw/a2a/convstore"
	"github.com/openclaw/a2a/logstore"
	"github.com/openclaw/a2a/tokenstore"
)

var (
	ErrAlreadyStarted = errors.New("maintenance already started")
	ErrNotStarted     = errors.New("maintenance not started")
)

// Default maintenance configuration values.
const (
	DefaultSchedule          = "0 3 * * *"
	DefaultCompressAfterDays = 30
)

// Config holds the maintenance schedule and thresholds.
type Config struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string

	// CompressAfterDays is the message-age threshold for compression.
	CompressAfterDays int
}

// DefaultConfig returns the default maintenance configuration.
func DefaultConfig() *Config {
	return &Config{
		Schedule:          DefaultSchedule,
		CompressAfterDays: DefaultCompressAfterDays,
	}
}

// Compressor is the slice of the conversation store maintenance uses.
type Compressor interface {
	CompressOlderThan(days int) (*convstore.CompressResult, error)
}

// TokenLister is the slice of the token store maintenance uses.
type TokenLister interface {
	List() []*tokenstore.Token
}

// Service schedules the maintenance jobs.
type Service struct {
	conversations Compressor
	tokens        TokenLister
	config        *Config
	log           *logrus.Entry

	cron    *cron.Cron
	started atomic.Bool

	// now is the clock, injectable for tests.
	now func() time.Time
}

// New creates a maintenance service.
func New(conversations Compressor, tokens TokenLister, config *Config, log *logrus.Entry) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}
	if config.CompressAfterDays <= 0 {
		config.CompressAfterDays = DefaultCompressAfterDays
	}
	return &Service{
		conversations: conversations,
		tokens:        tokens,
		config:        config,
		log:           log,
		now:           time.Now,
	}
}

// Start registers the cron entry and begins scheduling.
func (s *Service) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.config.Schedule, s.RunOnce); err != nil {
		s.started.Store(false)
		return err
	}
	s.cron.Start()
	return nil
}

// Stop cancels scheduling and waits for a running job to finish.
func (s *Service) Stop(ctx context.Context) error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.started.Store(false)
	return nil
}

// IsRunning reports whether the scheduler is active.
func (s *Service) IsRunning() bool {
	return s.started.Load()
}

// RunOnce executes one maintenance pass. It is the cron job body and is
// exported for operator-triggered runs.
func (s *Service) RunOnce() {
	s.compressMessages()
	s.sweepTokens()
}

func (s *Service) compressMessages() {
	if s.conversations == nil {
		return
	}
	res, err := s.conversations.CompressOlderThan(s.config.CompressAfterDays)
	if err != nil {
		s.logError("maintenance_compress_failed", err)
		return
	}
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			logstore.FieldEvent: "maintenance_compress",
			"compressed":        res.Compressed,
			"total":             res.Total,
			"older_than_days":   s.config.CompressAfterDays,
		}).Info("compressed old messages")
	}
}

// sweepTokens logs tokens past their expiry so the operator sees dead
// invites. The token document itself is left alone; expiry is enforced at
// validation time.
func (s *Service) sweepTokens() {
	if s.tokens == nil {
		return
	}
	now := s.now().UTC()
	expired := 0
	for _, tok := range s.tokens.List() {
		if tok.Revoked || tok.ExpiresAt == nil || tok.ExpiresAt.After(now) {
			continue
		}
		expired++
		if s.log != nil {
			s.log.WithFields(logrus.Fields{
				logstore.FieldEvent:   "token_expired_sweep",
				logstore.FieldTokenID: tok.ID,
				"name":                tok.Name,
				"expired_at":          tok.ExpiresAt.Format(time.RFC3339),
			}).Info("token past expiry")
		}
	}
	if expired > 0 && s.log != nil {
		s.log.WithFields(logrus.Fields{
			logstore.FieldEvent: "maintenance_token_sweep",
			"expired":           expired,
		}).Info("token expiry sweep finished")
	}
}

func (s *Service) logError(event string, err error) {
	if s.log == nil {
		return
	}
	s.log.WithField(logstore.FieldEvent, event).WithError(err).Error("maintenance error")
}
