package logstore

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Field names recognized by the hook. Components log once through logrus;
// the hook projects these fields onto log-event columns and folds the rest
// into the opaque data blob.
const (
	FieldComponent      = "component"
	FieldEvent          = "event"
	FieldTraceID        = "trace_id"
	FieldConversationID = "conversation_id"
	FieldTokenID        = "token_id"
	FieldRequestID      = "request_id"
	FieldErrorCode      = "error_code"
	FieldStatusCode     = "status_code"
	FieldHint           = "hint"
)

// Hook is a logrus hook that persists every admitted entry into the store.
type Hook struct {
	store *Store
}

// NewHook returns a hook writing into store.
func NewHook(store *Store) *Hook {
	return &Hook{store: store}
}

// Levels implements logrus.Hook. Level filtering happens in the store so the
// console level and the persisted level stay independent.
func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook. It never returns an error; a failed store
// write is already accounted by the store itself.
func (h *Hook) Fire(entry *logrus.Entry) error {
	e := Event{
		Timestamp: entry.Time.UTC(),
		Level:     mapLevel(entry.Level),
		Message:   entry.Message,
	}

	var data map[string]any
	for key, value := range entry.Data {
		switch key {
		case FieldComponent:
			e.Component, _ = value.(string)
		case FieldEvent:
			e.Event, _ = value.(string)
		case FieldTraceID:
			e.TraceID, _ = value.(string)
		case FieldConversationID:
			e.ConversationID, _ = value.(string)
		case FieldTokenID:
			e.TokenID, _ = value.(string)
		case FieldRequestID:
			e.RequestID, _ = value.(string)
		case FieldErrorCode:
			if code, ok := value.(string); ok {
				e.ErrorCode = strings.ToUpper(code)
			}
		case FieldStatusCode:
			switch v := value.(type) {
			case int:
				e.StatusCode = v
			case int64:
				e.StatusCode = int(v)
			}
		case FieldHint:
			e.Hint, _ = value.(string)
		default:
			if data == nil {
				data = make(map[string]any)
			}
			if err, ok := value.(error); ok {
				data[key] = err.Error()
			} else {
				data[key] = value
			}
		}
	}
	e.Data = data

	h.store.Write(e)
	return nil
}

// mapLevel folds logrus levels onto the store's five severities.
func mapLevel(level logrus.Level) string {
	switch level {
	case logrus.TraceLevel:
		return LevelTrace
	case logrus.DebugLevel:
		return LevelDebug
	case logrus.InfoLevel:
		return LevelInfo
	case logrus.WarnLevel:
		return LevelWarn
	default:
		return LevelError
	}
}
