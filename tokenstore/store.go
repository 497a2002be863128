// Package tokenstore issues, validates, meters and revokes the bearer tokens
// that scope inbound A2A calls.
//
// The store persists a single human-auditable JSON document, written with an
// atomic temp-file-then-rename and mode 0600. The wire token is never stored;
// only its SHA-256 digest and a short, non-secret display id are kept.
package tokenstore

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/openclaw/a2a"
)

const (
	// WirePrefix marks a wire token on the wire and in invite URIs.
	WirePrefix = "fed_"

	// wireSecretBytes is the entropy of a wire token.
	wireSecretBytes = 32

	// idBytes is the length of the short, non-secret display id.
	idBytes = 4

	documentVersion = 1
)

// RateLimits are per-token admission caps over wall-clock UTC windows.
// A zero value means the window is uncapped.
type RateLimits struct {
	PerMinute int `json:"per_minute"`
	PerHour   int `json:"per_hour"`
	PerDay    int `json:"per_day"`
}

// windows tracks usage inside the current UTC minute/hour/day. A counter is
// meaningful only while its key matches the current wall-clock window.
type windows struct {
	MinuteKey   string `json:"minute_key,omitempty"`
	MinuteCount int    `json:"minute_count,omitempty"`
	HourKey     string `json:"hour_key,omitempty"`
	HourCount   int    `json:"hour_count,omitempty"`
	DayKey      string `json:"day_key,omitempty"`
	DayCount    int    `json:"day_count,omitempty"`
}

// Token is a persisted bearer credential record.
type Token struct {
	ID              string          `json:"id"`
	SecretHash      string          `json:"secret_hash"`
	Name            string          `json:"name"`
	Owner           string          `json:"owner,omitempty"`
	Tier            a2a.Tier        `json:"tier"`
	AllowedTopics   []string        `json:"allowed_topics"`
	AllowedGoals    []string        `json:"allowed_goals"`
	Disclosure      a2a.Disclosure  `json:"disclosure"`
	Notify          a2a.NotifyLevel `json:"notify"`
	MaxCalls        *int            `json:"max_calls"`
	CallsMade       int             `json:"calls_made"`
	RateLimits      RateLimits      `json:"rate_limits"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	LastUsed        *time.Time      `json:"last_used,omitempty"`
	Revoked         bool            `json:"revoked"`
	LinkedContactID string          `json:"linked_contact_id,omitempty"`
	Windows         windows         `json:"windows"`
}

// Remaining returns the number of calls left, or nil when uncapped.
func (t *Token) Remaining() *int {
	if t.MaxCalls == nil {
		return nil
	}
	left := *t.MaxCalls - t.CallsMade
	if left < 0 {
		left = 0
	}
	return &left
}

// Spec describes a token to create. Zero fields take tier defaults.
type Spec struct {
	Name            string
	Owner           string
	Tier            a2a.Tier
	AllowedTopics   []string
	AllowedGoals    []string
	Disclosure      a2a.Disclosure
	Notify          a2a.NotifyLevel
	MaxCalls        *int
	RateLimits      *RateLimits
	ExpiresAt       *time.Time
	LinkedContactID string
}

// Validation is the result of checking a presented wire token.
type Validation struct {
	Valid  bool
	Code   a2a.ErrorCode
	Reason string
	Token  *Token
}

// tierDefaults hold per-tier topic/goal/rate defaults applied when a Spec
// leaves them empty.
var tierDefaults = map[a2a.Tier]struct {
	topics []string
	goals  []string
	limits RateLimits
}{
	a2a.TierPublic: {
		topics: []string{"introductions", "public projects"},
		goals:  []string{"discover mutual interests"},
		limits: RateLimits{PerMinute: 6, PerHour: 30, PerDay: 100},
	},
	a2a.TierFriends: {
		topics: []string{"projects", "ideas", "scheduling"},
		goals:  []string{"collaborate", "share context"},
		limits: RateLimits{PerMinute: 10, PerHour: 60, PerDay: 200},
	},
	a2a.TierFamily: {
		topics: []string{"anything"},
		goals:  []string{"coordinate freely"},
		limits: RateLimits{PerMinute: 20, PerHour: 120, PerDay: 500},
	},
	a2a.TierCustom: {
		limits: RateLimits{PerMinute: 10, PerHour: 60, PerDay: 200},
	},
}

// DefaultRateLimits returns the rate limits a tier grants when a Spec does
// not override them. Unknown tiers get the custom defaults.
func DefaultRateLimits(tier a2a.Tier) RateLimits {
	if d, ok := tierDefaults[tier]; ok {
		return d.limits
	}
	return tierDefaults[a2a.TierCustom].limits
}

// document is the on-disk shape of the store.
type document struct {
	Version int      `json:"version"`
	Tokens  []*Token `json:"tokens"`
}

// Store owns the token document. It is safe for concurrent use; all
// mutations serialize under one mutex and persist atomically before
// returning.
type Store struct {
	path string

	mu     sync.Mutex
	tokens map[string]*Token // by id
	byHash map[string]string // secret hash -> id

	// now is the clock, injectable for tests.
	now func() time.Time
}

// Open loads the token document at path, creating parent directories. A
// missing file yields an empty store. A corrupt file is an error the
// operator must resolve; the store never overwrites user data.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token store dir: %w", err)
	}

	s := &Store{
		path:   path,
		tokens: make(map[string]*Token),
		byHash: make(map[string]string),
		now:    time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token store: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", a2a.ErrStoreCorrupt, path, err)
	}
	for _, tok := range doc.Tokens {
		s.tokens[tok.ID] = tok
		s.byHash[tok.SecretHash] = tok.ID
	}
	return s, nil
}

// Create mints a new token from spec and persists it. The returned wire
// token is shown exactly once and never stored.
func (s *Store) Create(spec Spec) (string, *Token, error) {
	if spec.Name == "" {
		return "", nil, fmt.Errorf("token name is required")
	}
	tier := spec.Tier
	if tier == "" {
		tier = a2a.TierPublic
	}
	if !tier.Valid() {
		return "", nil, fmt.Errorf("unknown tier %q", tier)
	}

	secret := make([]byte, wireSecretBytes)
	if _, err := rand.Read(secret); err != nil {
		return "", nil, fmt.Errorf("failed to generate token secret: %w", err)
	}
	wire := WirePrefix + base64.RawURLEncoding.EncodeToString(secret)

	defaults := tierDefaults[tier]
	tok := &Token{
		ID:              "tok_" + randomHexID(),
		SecretHash:      HashWireToken(wire),
		Name:            spec.Name,
		Owner:           spec.Owner,
		Tier:            tier,
		AllowedTopics:   spec.AllowedTopics,
		AllowedGoals:    spec.AllowedGoals,
		Disclosure:      spec.Disclosure,
		Notify:          spec.Notify,
		MaxCalls:        spec.MaxCalls,
		CreatedAt:       s.now().UTC(),
		ExpiresAt:       spec.ExpiresAt,
		LinkedContactID: spec.LinkedContactID,
	}
	if len(tok.AllowedTopics) == 0 {
		tok.AllowedTopics = append([]string(nil), defaults.topics...)
	}
	if len(tok.AllowedGoals) == 0 {
		tok.AllowedGoals = append([]string(nil), defaults.goals...)
	}
	if spec.RateLimits != nil {
		tok.RateLimits = *spec.RateLimits
	} else {
		tok.RateLimits = defaults.limits
	}
	if tok.Disclosure == "" {
		tok.Disclosure = a2a.DisclosureMinimal
	}
	if tok.Notify == "" {
		tok.Notify = a2a.NotifySummary
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.ID] = tok
	s.byHash[tok.SecretHash] = tok.ID
	if err := s.saveLocked(); err != nil {
		delete(s.tokens, tok.ID)
		delete(s.byHash, tok.SecretHash)
		return "", nil, err
	}
	return wire, cloneToken(tok), nil
}

// Validate checks a presented wire token. Failures are ordered: unknown
// record, revoked, expired, call cap, then per-minute/hour/day windows.
// Validate never mutates the record.
func (s *Store) Validate(wire string) *Validation {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok := s.lookupByWireLocked(wire)
	if tok == nil {
		return &Validation{Code: a2a.CodeTokenInvalidOrExpired, Reason: "unknown token"}
	}
	if tok.Revoked {
		return &Validation{Code: a2a.CodeTokenRevoked, Reason: "token revoked", Token: cloneToken(tok)}
	}
	now := s.now().UTC()
	if tok.ExpiresAt != nil && now.After(*tok.ExpiresAt) {
		return &Validation{Code: a2a.CodeTokenExpired, Reason: "token expired", Token: cloneToken(tok)}
	}
	if tok.MaxCalls != nil && tok.CallsMade >= *tok.MaxCalls {
		return &Validation{Code: a2a.CodeRateLimited, Reason: "call quota exhausted", Token: cloneToken(tok)}
	}
	if reason := checkWindows(tok, now); reason != "" {
		return &Validation{Code: a2a.CodeRateLimited, Reason: reason, Token: cloneToken(tok)}
	}
	return &Validation{Valid: true, Token: cloneToken(tok)}
}

// Meter atomically accounts one admitted call: it re-checks the call cap and
// rate windows, increments counters and last-used, and persists. Concurrent
// calls that all passed Validate serialize here, so max_calls is a strict
// upper bound.
func (s *Store) Meter(id string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", a2a.ErrTokenNotFound, id)
	}
	now := s.now().UTC()
	if tok.MaxCalls != nil && tok.CallsMade >= *tok.MaxCalls {
		return nil, a2a.NewAPIError(a2a.CodeRateLimited, "call quota exhausted")
	}
	if reason := checkWindows(tok, now); reason != "" {
		return nil, a2a.NewAPIError(a2a.CodeRateLimited, reason)
	}

	rollWindows(tok, now)
	tok.Windows.MinuteCount++
	tok.Windows.HourCount++
	tok.Windows.DayCount++
	tok.CallsMade++
	tok.LastUsed = &now

	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return cloneToken(tok), nil
}

// Revoke marks a token revoked. Revoked records are kept for audit.
func (s *Store) Revoke(id string) error {
	return s.Update(id, func(tok *Token) error {
		tok.Revoked = true
		return nil
	})
}

// Update applies mutate to the token under the store lock and persists.
func (s *Store) Update(id string, mutate func(*Token) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[id]
	if !ok {
		return fmt.Errorf("%w: %s", a2a.ErrTokenNotFound, id)
	}
	prevHash := tok.SecretHash
	if err := mutate(tok); err != nil {
		return err
	}
	if tok.SecretHash != prevHash {
		delete(s.byHash, prevHash)
		s.byHash[tok.SecretHash] = tok.ID
	}
	return s.saveLocked()
}

// FindByID returns a copy of the token with the given display id.
func (s *Store) FindByID(id string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", a2a.ErrTokenNotFound, id)
	}
	return cloneToken(tok), nil
}

// List returns copies of all token records, including revoked and expired
// ones, ordered by creation time.
func (s *Store) List() []*Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Token, 0, len(s.tokens))
	for _, tok := range s.tokens {
		out = append(out, cloneToken(tok))
	}
	sortTokens(out)
	return out
}

// lookupByWireLocked resolves a presented wire token by digest.
func (s *Store) lookupByWireLocked(wire string) *Token {
	presented := HashWireToken(wire)
	for hash, id := range s.byHash {
		if subtle.ConstantTimeCompare([]byte(hash), []byte(presented)) == 1 {
			return s.tokens[id]
		}
	}
	return nil
}

// saveLocked writes the document atomically with mode 0600.
func (s *Store) saveLocked() error {
	doc := document{Version: documentVersion, Tokens: make([]*Token, 0, len(s.tokens))}
	for _, tok := range s.tokens {
		doc.Tokens = append(doc.Tokens, tok)
	}
	sortTokens(doc.Tokens)

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tokens-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// HashWireToken returns the hex SHA-256 digest stored for a wire token.
func HashWireToken(wire string) string {
	sum := sha256.Sum256([]byte(wire))
	return hex.EncodeToString(sum[:])
}

func randomHexID() string {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("tokenstore: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}

func cloneToken(t *Token) *Token {
	cp := *t
	cp.AllowedTopics = append([]string(nil), t.AllowedTopics...)
	cp.AllowedGoals = append([]string(nil), t.AllowedGoals...)
	if t.MaxCalls != nil {
		v := *t.MaxCalls
		cp.MaxCalls = &v
	}
	if t.ExpiresAt != nil {
		v := *t.ExpiresAt
		cp.ExpiresAt = &v
	}
	if t.LastUsed != nil {
		v := *t.LastUsed
		cp.LastUsed = &v
	}
	return &cp
}

func sortTokens(tokens []*Token) {
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}
