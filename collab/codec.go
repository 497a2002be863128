// Package collab parses the collaboration-state block that agents may append
// to a response. The block is best-effort telemetry used to pace multi-turn
// calls; a missing or malformed block never fails a turn.
package collab

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	openTag  = "<collab_state>"
	closeTag = "</collab_state>"

	// maxListItems bounds active_threads, candidate_collaborations and
	// open_questions.
	maxListItems = 4
)

// Phases of an adaptive conversation.
const (
	PhaseHandshake  = "handshake"
	PhaseExplore    = "explore"
	PhaseDeepDive   = "deep_dive"
	PhaseSynthesize = "synthesize"
	PhaseClose      = "close"
)

var knownPhases = map[string]bool{
	PhaseHandshake:  true,
	PhaseExplore:    true,
	PhaseDeepDive:   true,
	PhaseSynthesize: true,
	PhaseClose:      true,
}

// State is the normalized collaboration state carried by a conversation.
type State struct {
	Phase                   string   `json:"phase,omitempty"`
	OverlapScore            float64  `json:"overlap_score"`
	TurnCount               int      `json:"turn_count"`
	ActiveThreads           []string `json:"active_threads,omitempty"`
	CandidateCollaborations []string `json:"candidate_collaborations,omitempty"`
	OpenQuestions           []string `json:"open_questions,omitempty"`
	CloseSignal             bool     `json:"close_signal"`
	Confidence              float64  `json:"confidence"`
}

// Result is the outcome of extracting a state block from response text.
type Result struct {
	// CleanText is the response with the state block removed.
	CleanText string

	// State is the normalized state patch, nil unless HasState.
	State *State

	// HasState reports whether a well-formed block was found.
	HasState bool

	// ParseErr records why a present block was rejected. The turn still
	// proceeds on CleanText.
	ParseErr error
}

// Extract removes a trailing <collab_state> block from text and parses it.
func Extract(text string) Result {
	start := strings.LastIndex(text, openTag)
	if start < 0 {
		return Result{CleanText: strings.TrimSpace(text)}
	}
	end := strings.Index(text[start:], closeTag)
	if end < 0 {
		// Unterminated block: drop it from the visible text anyway.
		return Result{
			CleanText: strings.TrimSpace(text[:start]),
			ParseErr:  fmt.Errorf("unterminated %s block", openTag),
		}
	}
	end += start

	body := text[start+len(openTag) : end]
	clean := strings.TrimSpace(text[:start] + text[end+len(closeTag):])

	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return Result{CleanText: clean, ParseErr: fmt.Errorf("state block is not a JSON object: %w", err)}
	}

	state := normalize(raw)
	return Result{CleanText: clean, State: state, HasState: true}
}

// normalize coerces the raw object into a State, dropping anything that does
// not fit rather than rejecting the block.
func normalize(raw map[string]json.RawMessage) *State {
	s := &State{}

	if phase, ok := decodeString(raw["phase"]); ok && knownPhases[phase] {
		s.Phase = phase
	}
	if score, ok := decodeFloat(raw["overlap_score"]); ok {
		s.OverlapScore = clamp01(score)
	}
	if turns, ok := decodeFloat(raw["turn_count"]); ok && turns > 0 {
		s.TurnCount = int(turns)
	}
	s.ActiveThreads = decodeList(raw["active_threads"])
	s.CandidateCollaborations = decodeList(raw["candidate_collaborations"])
	s.OpenQuestions = decodeList(raw["open_questions"])
	if sig, ok := decodeBool(raw["close_signal"]); ok {
		s.CloseSignal = sig
	}
	if conf, ok := decodeFloat(raw["confidence"]); ok {
		s.Confidence = clamp01(conf)
	}
	return s
}

func decodeString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeFloat(raw json.RawMessage) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	if raw == nil {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, false
	}
	return b, true
}

func decodeList(raw json.RawMessage) []string {
	if raw == nil {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil
	}
	if len(list) > maxListItems {
		list = list[:maxListItems]
	}
	return list
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Encode renders a state back into its wire block form, used by the outbound
// driver when echoing local state to a peer-facing runtime.
func Encode(s *State) string {
	if s == nil {
		return ""
	}
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return openTag + string(data) + closeTag
}
