package a2a

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewTraceID returns a fresh trace id. Trace ids correlate every log event
// and HTTP response produced while handling one logical request.
func NewTraceID() string {
	return "tr_" + randomHex(16)
}

// NewRequestID returns a fresh per-request id.
func NewRequestID() string {
	return "req_" + uuid.New().String()
}

// NewConversationID returns a fresh conversation id.
func NewConversationID() string {
	return "conv_" + randomHex(12)
}

// NewMessageID returns a fresh message id.
func NewMessageID() string {
	return uuid.New().String()
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		panic(fmt.Sprintf("a2a: crypto/rand unavailable: %v", err))
	}
	return hex.EncodeToString(b)
}
